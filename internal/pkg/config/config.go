package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	LogLevel   string `env:"LOG_LEVEL" envDefault:"INFO"`
	Verbose    bool   `env:"VERBOSE"`
	DevicePath string `env:"DEVICE_CONFIG"`
	ScanCfg    *ScanConfig
	SyncCfg    *SyncConfig
	MqttCfg    *MqttConfig
	HttpAddr   string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8000"`
}

type ScanConfig struct {
	Duration time.Duration `env:"SCAN_DURATION" envDefault:"10s"`
}

type SyncConfig struct {
	DiscoveryTimeout time.Duration `env:"DISCOVERY_TIMEOUT" envDefault:"10s"`
	ConnectTimeout   time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	// Retries is the number of extra attempts per device, 0 means a single attempt.
	Retries       uint          `env:"SYNC_RETRIES" envDefault:"0"`
	RetryInterval time.Duration `env:"SYNC_RETRY_INTERVAL" envDefault:"2s"`
	Schedule      string        `env:"SYNC_SCHEDULE" envDefault:"@daily"`
}

type MqttConfig struct {
	Host     string `env:"MQTT_HOST"`
	Username string `env:"MQTT_USER"`
	Password string `env:"MQTT_PASS"`
}

// Load reads the runtime settings from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ScanCfg: &ScanConfig{},
		SyncCfg: &SyncConfig{},
		MqttCfg: &MqttConfig{},
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
