package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/mijia-clock/internal/pkg/config"
	"github.com/anicoll/mijia-clock/internal/pkg/registry"
)

func ConfigCommand(c *cli.Context) error {
	cfg, flush, err := setup(c)
	if err != nil {
		return err
	}
	defer flush()

	path, _, err := devicePath(cfg)
	if err != nil {
		return err
	}
	return showConfig(path, c.App.Writer)
}

// showConfig prints the device file at path and validates it.
func showConfig(path string, w io.Writer) error {
	out := &statusPrinter{w: w}
	entries, err := config.LoadDevices(path)
	if errors.Is(err, config.ErrConfigNotFound) {
		out.println(errorStyle.Render("ERROR:") + " Cannot find toml at " + path)
		return err
	}
	if err != nil {
		return err
	}
	out.println("toml path: " + okStyle.Render(path))

	if len(entries) == 0 {
		out.note("No [[device]] defined in toml.")
		return nil
	}
	out.println("Configuration:")
	if err := printDevices(w, entries); err != nil {
		return err
	}

	reg, err := registry.New(entries)
	if err != nil {
		return err
	}
	out.println(fmt.Sprintf("%d device(s), %d to sync, %d omitted", reg.Len(), len(reg.Eligible()), len(reg.Omitted())))
	return nil
}
