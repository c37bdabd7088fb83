package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/mijia-clock/internal/pkg/aggregator"
	"github.com/anicoll/mijia-clock/internal/pkg/ble"
	"github.com/anicoll/mijia-clock/internal/pkg/clocksync"
	"github.com/anicoll/mijia-clock/internal/pkg/config"
	"github.com/anicoll/mijia-clock/internal/pkg/contxt"
	"github.com/anicoll/mijia-clock/internal/pkg/guard"
	"github.com/anicoll/mijia-clock/internal/pkg/listener"
	"github.com/anicoll/mijia-clock/internal/pkg/model"
	"github.com/anicoll/mijia-clock/internal/pkg/mqtt"
	"github.com/anicoll/mijia-clock/internal/pkg/publisher"
	"github.com/anicoll/mijia-clock/internal/pkg/registry"
	"github.com/anicoll/mijia-clock/internal/pkg/server"
)

var errScanStopped = errors.New("scan stopped unexpectedly")

const publishTimeout = 10 * time.Second

func WatchCommand(c *cli.Context) error {
	cfg, flush, err := setup(c)
	if err != nil {
		return err
	}
	defer flush()

	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	pub := publisher.New()
	if cfg.MqttCfg.Host != "" {
		mqttSvc := mqtt.New(mqtt.NewClient(cfg.MqttCfg.Host, cfg.MqttCfg.Username, cfg.MqttCfg.Password))
		if err := mqttSvc.Connect(); err != nil {
			return err
		}
		if err := pub.RegisterPublisher("mqtt", mqttSvc); err != nil {
			return err
		}
	}

	transport, err := newTransport()
	if err != nil {
		return err
	}
	return watch(c.Context, cfg, transport, reg, pub)
}

func publisherDevice(reg *registry.Registry, addr model.DeviceAddress) publisher.Device {
	d, ok := reg.Lookup(addr)
	if !ok {
		return publisher.Device{Address: addr}
	}
	return publisher.Device{Address: addr, Name: d.Name}
}

// watch scans continuously, publishes readings, serves the status API and
// syncs clocks on cfg.SyncCfg.Schedule until ctx is done.
func watch(ctx context.Context, cfg *config.Config, transport ble.Transport, reg *registry.Registry, pub Publisher) error {
	logger := zap.L()
	eg, ctx := errgroup.WithContext(ctx)

	agg := aggregator.New()
	l := listener.New(transport)
	readings := l.Subscribe(listener.Readings, 256)
	if err := l.Start(ctx); err != nil {
		return err
	}

	var coordinator *clocksync.Coordinator
	syncAll := func(ctx context.Context) ([]server.SyncResult, error) {
		report, err := coordinator.Run(ctx, reg.Devices())
		if err != nil {
			return nil, err
		}
		now := time.Now()
		results := make([]server.SyncResult, 0, len(report.Results))
		for _, r := range report.Results {
			if r.Omitted {
				continue
			}
			if err := pub.PublishSync(contxt.Detached(ctx, publishTimeout), publisherDevice(reg, r.Device.Address), r.Result, now); err != nil {
				logger.Error("failed to publish sync", zap.Error(err))
			}
			results = append(results, toSyncResult(r))
		}
		if err := report.Err(); err != nil {
			logger.Warn("sync finished with failures", zap.Error(err))
		}
		return results, nil
	}
	api := server.New(agg, reg, syncAll)
	coordinator = clocksync.NewCoordinator(transport, guard.New(), append(coordinatorOptions(cfg),
		clocksync.WithListener(l),
		clocksync.WithEvents(func(e model.SyncEvent) {
			logger.Info(e.Message, zap.Stringer("address", e.Address), zap.String("name", e.Name), zap.Stringer("kind", e.Kind))
			api.PublishEvent(e)
		}),
	)...)

	eg.Go(func() error {
		for e := range readings.C {
			agg.Update(*e.Reading)
			api.PublishReading(*e.Reading)
			if err := pub.PublishReading(contxt.Detached(ctx, publishTimeout), publisherDevice(reg, e.Reading.Address), *e.Reading); err != nil {
				logger.Error("failed to publish reading", zap.Error(err))
			}
		}
		if ctx.Err() == nil {
			return errScanStopped
		}
		return nil
	})

	if cfg.HttpAddr != "" {
		eg.Go(func() error {
			return api.ListenAndServe(ctx, cfg.HttpAddr)
		})
	}

	eg.Go(func() error {
		return runSchedule(ctx, cfg.SyncCfg.Schedule, func() {
			if _, err := api.RunSync(ctx); err != nil {
				logger.Error("scheduled sync", zap.Error(err))
			}
		})
	})

	err := eg.Wait()
	<-l.Done()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runSchedule calls fn on every tick of schedule until ctx is done.
func runSchedule(ctx context.Context, schedule string, fn func()) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, fn); err != nil {
		return err
	}
	c.Start()
	zap.L().Info("sync scheduled", zap.String("schedule", schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func toSyncResult(r clocksync.DeviceResult) server.SyncResult {
	out := server.SyncResult{
		Address:  r.Device.Address.String(),
		Name:     r.Device.DisplayName(),
		Result:   r.Result,
		Attempts: r.Attempts,
	}
	if r.Payload != nil {
		ts := r.Payload.UnixTimestamp
		out.Timestamp = &ts
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}
