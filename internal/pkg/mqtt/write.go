package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

type sensorKind struct {
	slug        string
	name        string
	deviceClass string
	unit        string
}

var sensorKinds = []sensorKind{
	{slug: model.SensorTemperature, name: "Temperature", deviceClass: "temperature", unit: "°C"},
	{slug: model.SensorHumidity, name: "Humidity", deviceClass: "humidity", unit: "%"},
	{slug: model.SensorBattery, name: "Battery", deviceClass: "battery", unit: "%"},
	{slug: model.SensorLastSync, name: "Last clock sync", deviceClass: "timestamp"},
}

func baseTopic(identifier string) string {
	return fmt.Sprintf("homeassistant/sensor/%s", identifier)
}

func (s *service) Write(ctx context.Context, data []model.SensorState) error {
	for _, d := range data {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.PublishData(d); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDevice publishes a retained discovery config for every sensor the
// device exposes.
func (s *service) RegisterDevice(device model.SensorDevice) error {
	s.mu.Lock()
	_, exists := s.configured[device.Identifier]
	s.mu.Unlock()
	if exists {
		return nil
	}

	for _, kind := range sensorKinds {
		msg := registerMsg(device, kind)
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := fmt.Sprintf("homeassistant/sensor/%s_%s/config", device.Identifier, kind.slug)
		token := s.client.Publish(topic, 1, true, payload)
		if !token.WaitTimeout(time.Second * 5) {
			return fmt.Errorf("timed out registering %s", topic)
		}
		if err := token.Error(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.configured[device.Identifier] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("registered device with home assistant")
	return nil
}

func (s *service) PublishData(data model.SensorState) error {
	topic := fmt.Sprintf("%s/%s/state", baseTopic(data.Device.Identifier), data.Slug)

	payload := map[string]string{
		"value": data.Value,
	}
	if data.UnitOfMeasurement != "" {
		payload["unit_of_measurement"] = data.UnitOfMeasurement
	}

	publishData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	token := s.client.Publish(topic, 0, false, publishData)
	if token.WaitTimeout(time.Second * 10) {
		return token.Error()
	}
	return fmt.Errorf("timed out publishing %s", topic)
}

func registerMsg(device model.SensorDevice, kind sensorKind) model.RegisterMessage {
	mac := strings.ToLower(device.Address.String())
	return model.RegisterMessage{
		Tilda:             baseTopic(device.Identifier),
		Name:              kind.name,
		ID:                fmt.Sprintf("%s_%s", device.Identifier, kind.slug),
		StateTopic:        fmt.Sprintf("~/%s/state", kind.slug),
		DeviceClass:       kind.deviceClass,
		UnitOfMeasurement: kind.unit,
		ValueTemplate:     "{{ value_json.value }}",
		Device: model.RegisterDevice{
			Name:         device.Name,
			Identifiers:  []string{device.Identifier},
			Model:        "LYWSD02",
			Manufacturer: "Xiaomi",
			Connections:  [][]string{{"mac", mac}},
		},
	}
}
