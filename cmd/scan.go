package cmd

import (
	"context"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/mijia-clock/internal/pkg/aggregator"
	"github.com/anicoll/mijia-clock/internal/pkg/ble"
	"github.com/anicoll/mijia-clock/internal/pkg/config"
	"github.com/anicoll/mijia-clock/internal/pkg/listener"
	"github.com/anicoll/mijia-clock/internal/pkg/registry"
)

func ScanCommand(c *cli.Context) error {
	cfg, flush, err := setup(c)
	if err != nil {
		return err
	}
	defer flush()

	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	transport, err := newTransport()
	if err != nil {
		return err
	}
	return scan(c.Context, cfg, transport, reg, c.App.Writer)
}

// scan listens for cfg.ScanCfg.Duration, printing every reading, then
// prints the summary table.
func scan(ctx context.Context, cfg *config.Config, scanner ble.Scanner, reg *registry.Registry, w io.Writer) error {
	out := &statusPrinter{w: w}
	agg := aggregator.New()
	l := listener.New(scanner)
	readings := l.Subscribe(listener.Readings, 256)

	ctx, cancel := context.WithTimeout(ctx, cfg.ScanCfg.Duration)
	defer cancel()

	out.println("Start monitoring BLE advertisement...")
	if err := l.Start(ctx); err != nil {
		return err
	}
	for e := range readings.C {
		agg.Update(*e.Reading)
		out.reading(reg.DisplayName(e.Reading.Address), *e.Reading)
	}
	out.println("Stop monitoring BLE advertisement...")

	return printSummary(w, reg, agg.Snapshot())
}
