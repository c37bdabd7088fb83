package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var ErrConfigNotFound = errors.New("device config not found")

// DeviceFile is the on disk layout:
//
//	[[device]]
//	address = "11:22:33:44:55:66"
//	name = "bedroom"
//	timezone = "Asia/Seoul"
//	offset_seconds = 32
//	omit = false
type DeviceFile struct {
	Devices []DeviceEntry `toml:"device"`
}

type DeviceEntry struct {
	Address       string  `toml:"address"`
	Name          string  `toml:"name"`
	Omit          bool    `toml:"omit"`
	Timezone      *string `toml:"timezone"`
	OffsetSeconds int64   `toml:"offset_seconds"`
}

// DefaultDevicePath is the executable path with a .toml extension.
func DefaultDevicePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(exe, filepath.Ext(exe)) + ".toml", nil
}

func ParseDevices(data []byte) ([]DeviceEntry, error) {
	var file DeviceFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse device config: %w", err)
	}
	return file.Devices, nil
}

// LoadDevices reads the device file at path. A missing file is reported as
// ErrConfigNotFound so callers can decide whether it matters.
func LoadDevices(path string) ([]DeviceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read device config: %w", err)
	}
	return ParseDevices(data)
}
