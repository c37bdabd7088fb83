package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/anicoll/mijia-clock/internal/pkg/ble"
	"github.com/anicoll/mijia-clock/internal/pkg/clocksync"
	"github.com/anicoll/mijia-clock/internal/pkg/config"
	"github.com/anicoll/mijia-clock/internal/pkg/registry"
)

var errUnknownDevice = errors.New("unknown device")

// loadConfig reads the environment and applies any flags given on the
// command line.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("verbose") {
		cfg.Verbose = c.Bool("verbose")
	}
	if c.IsSet("config") {
		cfg.DevicePath = c.String("config")
	}
	if c.IsSet("duration") {
		cfg.ScanCfg.Duration = c.Duration("duration")
	}
	if c.IsSet("discovery-timeout") {
		cfg.SyncCfg.DiscoveryTimeout = c.Duration("discovery-timeout")
	}
	if c.IsSet("connect-timeout") {
		cfg.SyncCfg.ConnectTimeout = c.Duration("connect-timeout")
	}
	if c.IsSet("write-timeout") {
		cfg.SyncCfg.WriteTimeout = c.Duration("write-timeout")
	}
	if c.IsSet("retries") {
		cfg.SyncCfg.Retries = c.Uint("retries")
	}
	if c.IsSet("schedule") {
		cfg.SyncCfg.Schedule = c.String("schedule")
	}
	if c.IsSet("mqtt-host") {
		cfg.MqttCfg.Host = c.String("mqtt-host")
	}
	if c.IsSet("mqtt-user") {
		cfg.MqttCfg.Username = c.String("mqtt-user")
	}
	if c.IsSet("mqtt-pass") {
		cfg.MqttCfg.Password = c.String("mqtt-pass")
	}
	if c.IsSet("http-addr") {
		cfg.HttpAddr = c.String("http-addr")
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.Verbose {
		level.SetLevel(zap.DebugLevel)
	}
	logCfg.Level = level
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

// setup loads the config and installs the global logger. The returned func
// flushes the logger.
func setup(c *cli.Context) (*config.Config, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	undo := zap.ReplaceGlobals(logger)
	return cfg, func() {
		_ = logger.Sync() // flushes buffer, if any.
		undo()
	}, nil
}

// devicePath is the configured device file, or the default next to the
// executable when none was given.
func devicePath(cfg *config.Config) (path string, explicit bool, err error) {
	if cfg.DevicePath != "" {
		return cfg.DevicePath, true, nil
	}
	path, err = config.DefaultDevicePath()
	return path, false, err
}

// loadRegistry reads and validates the device file. A missing default file
// gives an empty registry.
func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	path, explicit, err := devicePath(cfg)
	if err != nil {
		return nil, err
	}
	entries, err := config.LoadDevices(path)
	if errors.Is(err, config.ErrConfigNotFound) && !explicit {
		zap.L().Warn("no device config, continuing without devices", zap.String("path", path))
		entries = nil
	} else if err != nil {
		return nil, err
	}

	reg, err := registry.New(entries)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	zap.L().Debug("loaded devices", zap.String("path", path), zap.Int("count", reg.Len()))
	return reg, nil
}

func newTransport() (ble.Transport, error) {
	t, err := ble.New(bluetooth.DefaultAdapter)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func coordinatorOptions(cfg *config.Config) []clocksync.Option {
	return []clocksync.Option{
		clocksync.WithTimeouts(clocksync.Timeouts{
			Discovery: cfg.SyncCfg.DiscoveryTimeout,
			Connect:   cfg.SyncCfg.ConnectTimeout,
			Write:     cfg.SyncCfg.WriteTimeout,
		}),
		clocksync.WithRetryPolicy(clocksync.RetryPolicy{
			MaxAttempts:     cfg.SyncCfg.Retries + 1,
			InitialInterval: cfg.SyncCfg.RetryInterval,
		}),
	}
}
