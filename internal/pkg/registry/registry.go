package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/mijia-clock/internal/pkg/config"
	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

var ErrInvalidConfig = errors.New("invalid device configuration")

// Device is a validated configuration entry.
type Device struct {
	Address       model.DeviceAddress
	Name          string
	Timezone      string // as configured, empty when the host zone applies
	TZOffsetHours int8
	OffsetSeconds int64
	Omit          bool
}

func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Address.String()
}

// Registry is the address indexed view of the device file. It is not
// modified after New returns.
type Registry struct {
	devices []Device
	index   map[model.DeviceAddress]int
}

type options struct {
	now   func() time.Time
	local *time.Location
}

type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLocalZone overrides the host zone used for devices without a timezone.
func WithLocalZone(loc *time.Location) Option {
	return func(o *options) {
		o.local = loc
	}
}

// New validates the entries and builds the registry. Every error wraps
// ErrInvalidConfig and names the offending entry.
func New(entries []config.DeviceEntry, opts ...Option) (*Registry, error) {
	o := &options{
		now:   time.Now,
		local: time.Local,
	}
	for _, opt := range opts {
		opt(o)
	}
	now := o.now()

	r := &Registry{
		devices: make([]Device, 0, len(entries)),
		index:   make(map[model.DeviceAddress]int, len(entries)),
	}

	var localHours *int8
	resolveLocal := func() (int8, error) {
		if localHours != nil {
			return *localHours, nil
		}
		_, secs := now.In(o.local).Zone()
		h, err := wholeHours(secs)
		if err != nil {
			return 0, fmt.Errorf("host timezone %s: %w", o.local, err)
		}
		localHours = &h
		return h, nil
	}

	for i, entry := range entries {
		prefix := fmt.Sprintf("device[%d]", i)
		if entry.Name != "" {
			prefix = fmt.Sprintf("device[%d] (%s)", i, entry.Name)
		}

		addr, err := model.ParseAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, prefix, err)
		}
		if prev, exists := r.index[addr]; exists {
			return nil, fmt.Errorf("%w: %s: duplicate address %s (already used by device[%d])", ErrInvalidConfig, prefix, addr, prev)
		}

		device := Device{
			Address:       addr,
			Name:          entry.Name,
			OffsetSeconds: entry.OffsetSeconds,
			Omit:          entry.Omit,
		}

		switch {
		case entry.Timezone != nil:
			device.Timezone = strings.TrimSpace(*entry.Timezone)
			secs, err := offsetSeconds(device.Timezone, now)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, prefix, err)
			}
			if device.TZOffsetHours, err = wholeHours(secs); err != nil {
				return nil, fmt.Errorf("%w: %s: timezone %q: %v", ErrInvalidConfig, prefix, device.Timezone, err)
			}
		case !entry.Omit:
			if device.TZOffsetHours, err = resolveLocal(); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, prefix, err)
			}
		}

		r.index[addr] = len(r.devices)
		r.devices = append(r.devices, device)
	}

	zap.L().Debug("device registry built", zap.Int("devices", len(r.devices)), zap.Int("eligible", len(r.Eligible())))
	return r, nil
}

func (r *Registry) Lookup(addr model.DeviceAddress) (Device, bool) {
	i, ok := r.index[addr]
	if !ok {
		return Device{}, false
	}
	return r.devices[i], true
}

// DisplayName is the configured name, or the canonical address when there is none.
func (r *Registry) DisplayName(addr model.DeviceAddress) string {
	if d, ok := r.Lookup(addr); ok {
		return d.DisplayName()
	}
	return addr.String()
}

// EligibleForSync reports whether addr is configured and not omitted.
func (r *Registry) EligibleForSync(addr model.DeviceAddress) bool {
	d, ok := r.Lookup(addr)
	return ok && !d.Omit
}

// Eligible returns the non omitted devices in file order.
func (r *Registry) Eligible() []Device {
	return lo.Filter(r.devices, func(d Device, _ int) bool {
		return !d.Omit
	})
}

func (r *Registry) Omitted() []Device {
	return lo.Filter(r.devices, func(d Device, _ int) bool {
		return d.Omit
	})
}

// ByName finds a device by name, ignoring case.
func (r *Registry) ByName(name string) (Device, bool) {
	return lo.Find(r.devices, func(d Device) bool {
		return d.Name != "" && strings.EqualFold(d.Name, name)
	})
}

func (r *Registry) Devices() []Device {
	return append([]Device(nil), r.devices...)
}

func (r *Registry) Len() int {
	return len(r.devices)
}
