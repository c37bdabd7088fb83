package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/anicoll/mijia-clock/internal/pkg/aggregator"
	"github.com/anicoll/mijia-clock/internal/pkg/ble"
	"github.com/anicoll/mijia-clock/internal/pkg/clocksync"
	"github.com/anicoll/mijia-clock/internal/pkg/config"
	"github.com/anicoll/mijia-clock/internal/pkg/guard"
	"github.com/anicoll/mijia-clock/internal/pkg/registry"
)

func SyncCommand(c *cli.Context) error {
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

	err = syncClocks(c.Context, cfg, transport, reg, c.Args().First(), c.Bool("scan"), c.App.Writer)
	if errors.Is(err, clocksync.ErrSyncFailed) {
		return cli.Exit(err.Error(), 1)
	}
	return err
}

// selectDevices returns every configured device, or only the one called name.
func selectDevices(reg *registry.Registry, name string) ([]registry.Device, error) {
	if name == "" {
		return reg.Devices(), nil
	}
	d, ok := reg.ByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownDevice, name)
	}
	return []registry.Device{d}, nil
}

// syncClocks runs one sync over the selected devices. withScan also feeds
// the readings seen during the run into a summary table.
func syncClocks(ctx context.Context, cfg *config.Config, transport ble.Transport, reg *registry.Registry, name string, withScan bool, w io.Writer) error {
	devices, err := selectDevices(reg, name)
	if err != nil {
		return err
	}
	out := &statusPrinter{w: w}
	if len(devices) == 0 {
		out.note("No [[device]] defined in device config.")
		return nil
	}

	agg := aggregator.New()
	opts := append(coordinatorOptions(cfg), clocksync.WithEvents(out.event))
	if withScan {
		opts = append(opts, clocksync.WithReadingSink(agg))
	}

	out.println("Start monitoring BLE advertisement...")
	report, err := clocksync.NewCoordinator(transport, guard.New(), opts...).Run(ctx, devices)
	if err != nil {
		return err
	}
	out.println("Stop monitoring BLE advertisement...")

	if err := printReport(w, report); err != nil {
		return err
	}
	if withScan {
		if err := printSummary(w, reg, agg.Snapshot()); err != nil {
			return err
		}
	}
	if err := report.Err(); err != nil {
		zap.L().Warn("sync finished with failures", zap.Error(err))
		return err
	}
	return nil
}
