package model

import "time"

type RegisterDevice struct {
	Name         string     `json:"name"`
	Identifiers  []string   `json:"identifiers"`
	Model        string     `json:"model"`
	Manufacturer string     `json:"manufacturer"`
	Connections  [][]string `json:"connections,omitempty"`
}

// RegisterMessage is a Home Assistant MQTT discovery config.
type RegisterMessage struct {
	Tilda             string         `json:"~"`
	Name              string         `json:"name"`
	ID                string         `json:"unique_id"`
	StateTopic        string         `json:"state_topic"`
	DeviceClass       string         `json:"device_class,omitempty"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	ValueTemplate     string         `json:"value_template,omitempty"`
	Device            RegisterDevice `json:"device"`
}

// Sensor slugs published per device.
const (
	SensorTemperature = "temperature"
	SensorHumidity    = "humidity"
	SensorBattery     = "battery"
	SensorLastSync    = "last_sync"
)

// SensorDevice identifies one sensor to the publishers.
type SensorDevice struct {
	Address    DeviceAddress
	Name       string
	Identifier string
}

// SensorState is one value to publish.
type SensorState struct {
	Device            SensorDevice
	Slug              string
	Value             string
	UnitOfMeasurement string
	Timestamp         time.Time
}
