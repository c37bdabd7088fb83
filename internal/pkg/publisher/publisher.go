package publisher

import (
	"context"
	"errors"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

var errAlreadyRegistered = errors.New("publisher already registered")

type publisher interface {
	Write(ctx context.Context, data []model.SensorState) error
	RegisterDevice(device model.SensorDevice) error
}

// Device names a sensor for the sinks.
type Device struct {
	Address model.DeviceAddress
	Name    string
}

type service struct {
	mu         sync.RWMutex
	publishers map[string]publisher
	registered map[model.DeviceAddress]struct{}
	sensors    sync.Map
	logger     *zap.Logger
}

func New() *service {
	return &service{
		publishers: make(map[string]publisher),
		registered: make(map[model.DeviceAddress]struct{}),
		logger:     zap.L(),
	}
}

func (s *service) RegisterPublisher(name string, p publisher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.publishers[name]; ok {
		return errAlreadyRegistered
	}
	s.publishers[name] = p
	return nil
}

// Identifier is the object id used for a device by every sink.
func Identifier(d Device) string {
	if d.Name == "" {
		return "mijia_" + strings.ToLower(strings.ReplaceAll(d.Address.String(), ":", ""))
	}
	return strings.Replace(slug.Make(d.Name), "-", "_", -1)
}

func sensorDevice(d Device) model.SensorDevice {
	name := d.Name
	if name == "" {
		name = d.Address.String()
	}
	return model.SensorDevice{
		Address:    d.Address,
		Name:       name,
		Identifier: Identifier(d),
	}
}

// RegisterDevice announces a device to every sink. The device is only
// remembered once every sink accepted it, so a failed announcement is
// retried on the next reading.
func (s *service) RegisterDevice(d Device) error {
	s.mu.RLock()
	_, ok := s.registered[d.Address]
	s.mu.RUnlock()
	if ok {
		return nil
	}

	device := sensorDevice(d)
	failed := false
	for name, p := range s.snapshot() {
		if err := p.RegisterDevice(device); err != nil {
			s.logger.Error("failed to register device", zap.Error(err), zap.String("publisher", name))
			failed = true
			continue
		}
		s.logger.Debug("registered device", zap.String("device", device.Identifier), zap.String("publisher", name))
	}
	if failed {
		return nil
	}

	s.mu.Lock()
	s.registered[d.Address] = struct{}{}
	s.mu.Unlock()
	return nil
}

// PublishReading sends the fields carried by r. Unchanged values are skipped.
func (s *service) PublishReading(ctx context.Context, d Device, r model.Reading) error {
	if err := s.RegisterDevice(d); err != nil {
		return err
	}
	device := sensorDevice(d)

	var data []model.SensorState
	add := func(sensor, value, unit string) {
		if !s.shouldUpdate(device.Identifier, sensor, value) {
			return
		}
		data = append(data, model.SensorState{
			Device:            device,
			Slug:              sensor,
			Value:             value,
			UnitOfMeasurement: unit,
			Timestamp:         r.ObservedAt,
		})
	}
	if r.Temperature != nil {
		add(model.SensorTemperature, r.Temperature.String(), "°C")
	}
	if r.Humidity != nil {
		add(model.SensorHumidity, formatPercent(*r.Humidity), "%")
	}
	if r.Battery != nil {
		add(model.SensorBattery, formatPercent(*r.Battery), "%")
	}
	return s.write(ctx, data)
}

// PublishSync records the time of the last successful clock sync.
func (s *service) PublishSync(ctx context.Context, d Device, result model.SyncResult, at time.Time) error {
	if result != model.SyncSuccess {
		return nil
	}
	if err := s.RegisterDevice(d); err != nil {
		return err
	}
	return s.write(ctx, []model.SensorState{{
		Device:    sensorDevice(d),
		Slug:      model.SensorLastSync,
		Value:     at.UTC().Format(time.RFC3339),
		Timestamp: at,
	}})
}

func (s *service) write(ctx context.Context, data []model.SensorState) error {
	if len(data) == 0 {
		return nil
	}
	for name, p := range s.snapshot() {
		if err := p.Write(ctx, data); err != nil {
			s.logger.Error("failed to publish data", zap.Error(err), zap.String("publisher", name))
			continue
		}
		s.logger.Debug("updated sensors", zap.Int("count", len(data)), zap.String("publisher", name))
	}
	return nil
}

func (s *service) snapshot() map[string]publisher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.publishers)
}

func (s *service) shouldUpdate(identifier, sensor, newValue string) bool {
	key := identifier + "_" + sensor
	oldValue, exists := s.sensors.Load(key)
	if exists && strings.EqualFold(newValue, oldValue.(string)) {
		return false
	}
	if !exists {
		s.logger.Info("configured sensor", zap.String("device", identifier), zap.String("sensor", sensor), zap.String("value", newValue))
	}
	s.sensors.Store(key, newValue)
	return true
}

func formatPercent(v uint8) string {
	return strconv.Itoa(int(v))
}
