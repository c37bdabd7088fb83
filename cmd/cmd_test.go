package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/mijia-clock/internal/pkg/ble/bletest"
	"github.com/anicoll/mijia-clock/internal/pkg/clocksync"
	"github.com/anicoll/mijia-clock/internal/pkg/config"
	"github.com/anicoll/mijia-clock/internal/pkg/model"
	"github.com/anicoll/mijia-clock/internal/pkg/registry"
)

const deviceFile = `
[[device]]
address = "A4:C1:38:00:00:01"
name = "Office"
timezone = "+09:00"

[[device]]
address = "A4C138000002"
name = "Bedroom"
timezone = "Asia/Seoul"
offset_seconds = 30

[[device]]
address = "A4:C1:38:00:00:03"
name = "Garage"
omit = true
`

func setupLogger(t *testing.T) {
	t.Helper()
	undo := zap.ReplaceGlobals(zaptest.NewLogger(t))
	t.Cleanup(undo)
}

func testConfig() *config.Config {
	return &config.Config{
		LogLevel: "INFO",
		ScanCfg:  &config.ScanConfig{Duration: 100 * time.Millisecond},
		SyncCfg: &config.SyncConfig{
			DiscoveryTimeout: 300 * time.Millisecond,
			ConnectTimeout:   300 * time.Millisecond,
			WriteTimeout:     300 * time.Millisecond,
			RetryInterval:    10 * time.Millisecond,
			Schedule:         "@every 1s",
		},
		MqttCfg: &config.MqttConfig{},
	}
}

func writeDeviceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mijia-clock.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	entries, err := config.ParseDevices([]byte(deviceFile))
	require.NoError(t, err)
	reg, err := registry.New(entries)
	require.NoError(t, err)
	return reg
}

func clockDevices() []bletest.Device {
	return []bletest.Device{
		bletest.ClockDevice("A4:C1:38:00:00:01"),
		bletest.ClockDevice("A4:C1:38:00:00:02"),
		bletest.ClockDevice("A4:C1:38:00:00:03"),
	}
}

func TestNewLogger(t *testing.T) {
	tests := map[string]struct {
		cfg       config.Config
		wantDebug bool
		wantErr   bool
	}{
		"info":          {cfg: config.Config{LogLevel: "INFO"}},
		"verbose":       {cfg: config.Config{LogLevel: "INFO", Verbose: true}, wantDebug: true},
		"debug":         {cfg: config.Config{LogLevel: "debug"}, wantDebug: true},
		"invalid level": {cfg: config.Config{LogLevel: "loud"}, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			logger, err := newLogger(&tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantDebug, logger.Core().Enabled(zap.DebugLevel))
		})
	}
}

func TestLoadRegistry(t *testing.T) {
	setupLogger(t)

	tests := map[string]struct {
		path    func(t *testing.T) string
		wantLen int
		wantErr error
	}{
		"valid file": {
			path:    func(t *testing.T) string { return writeDeviceFile(t, deviceFile) },
			wantLen: 3,
		},
		"missing explicit file": {
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.toml") },
			wantErr: config.ErrConfigNotFound,
		},
		"invalid timezone": {
			path: func(t *testing.T) string {
				return writeDeviceFile(t, "[[device]]\naddress = \"A4:C1:38:00:00:01\"\ntimezone = \"+05:30\"\n")
			},
			wantErr: registry.ErrInvalidConfig,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			cfg.DevicePath = tc.path(t)
			reg, err := loadRegistry(cfg)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantLen, reg.Len())
		})
	}
}

func TestScan(t *testing.T) {
	setupLogger(t)
	transport := bletest.New(5*time.Millisecond, clockDevices()...)
	var out bytes.Buffer

	require.NoError(t, scan(context.Background(), testConfig(), transport, testRegistry(t), &out))

	text := out.String()
	assert.Contains(t, text, "Office - battery 80 %")
	assert.Contains(t, text, "Summary:")
	assert.Contains(t, text, "A4:C1:38:00:00:02")
	assert.Regexp(t, `Office.*\byes\b`, text)
	assert.Regexp(t, `Garage.*\bno\b`, text)
	assert.False(t, transport.Scanning())
}

func TestSyncClocks(t *testing.T) {
	setupLogger(t)

	tests := map[string]struct {
		devices   func() []bletest.Device
		name      string
		withScan  bool
		wantErr   error
		wantWrite int
		wantText  []string
	}{
		"all devices": {
			devices:   clockDevices,
			wantWrite: 2,
			wantText:  []string{"Office", "Bedroom", "Configured as Omit", "Adjust clock +0:30"},
		},
		"one by name": {
			devices:   clockDevices,
			name:      "bedroom",
			wantWrite: 1,
		},
		"with scan": {
			devices:   clockDevices,
			withScan:  true,
			wantWrite: 2,
			wantText:  []string{"Summary:", "80 %"},
		},
		"one device fails": {
			devices: func() []bletest.Device {
				d := clockDevices()
				d[1].WriteErr = bletest.ErrWriteRejected
				return d
			},
			wantErr:   clocksync.ErrSyncFailed,
			wantWrite: 1,
			wantText:  []string{"write_failed"},
		},
		"unknown name": {
			devices: clockDevices,
			name:    "kitchen",
			wantErr: errUnknownDevice,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			transport := bletest.New(5*time.Millisecond, tc.devices()...)
			var out bytes.Buffer

			err := syncClocks(context.Background(), testConfig(), transport, testRegistry(t), tc.name, tc.withScan, &out)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, transport.Writes(), tc.wantWrite)
			for _, s := range tc.wantText {
				assert.Contains(t, out.String(), s)
			}
		})
	}
}

func TestSyncClocks_NoDevices(t *testing.T) {
	setupLogger(t)
	reg, err := registry.New(nil)
	require.NoError(t, err)
	var out bytes.Buffer

	require.NoError(t, syncClocks(context.Background(), testConfig(), bletest.New(time.Hour), reg, "", false, &out))
	assert.Contains(t, out.String(), "No [[device]] defined")
}

func TestShowConfig(t *testing.T) {
	setupLogger(t)
	var out bytes.Buffer

	require.NoError(t, showConfig(writeDeviceFile(t, deviceFile), &out))
	text := out.String()
	assert.Contains(t, text, "Asia/Seoul")
	assert.Contains(t, text, "A4C138000002")
	assert.Contains(t, text, "3 device(s), 2 to sync, 1 omitted")

	out.Reset()
	err := showConfig(filepath.Join(t.TempDir(), "missing.toml"), &out)
	assert.ErrorIs(t, err, config.ErrConfigNotFound)
	assert.Contains(t, out.String(), "Cannot find toml")
}

func TestWatch(t *testing.T) {
	setupLogger(t)
	transport := bletest.New(5*time.Millisecond, clockDevices()...)
	pub := &MockPublisher{}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	require.NoError(t, watch(ctx, testConfig(), transport, testRegistry(t), pub))

	assert.NotEmpty(t, pub.Readings())
	assert.Contains(t, pub.Syncs(), model.SyncSuccess)
	assert.NotEmpty(t, transport.Writes())
	assert.False(t, transport.Scanning())
}
