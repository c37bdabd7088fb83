package model

import (
	"time"

	"github.com/google/uuid"
)

var (
	// SensorServiceUUID keys the service data frames the sensors advertise.
	SensorServiceUUID = uuid.MustParse("0000181a-0000-1000-8000-00805f9b34fb")
	// ClockServiceUUID is the GATT service holding the clock characteristic.
	ClockServiceUUID = uuid.MustParse("ebe0ccb0-7a0a-4b0c-8a1a-6ff2997da3a6")
	// ClockCharacteristicUUID accepts the 5 byte clock payload.
	ClockCharacteristicUUID = uuid.MustParse("ebe0ccb7-7a0a-4b0c-8a1a-6ff2997da3a6")
)

// Advertisement is one raw packet as delivered by the scanner.
type Advertisement struct {
	Address     DeviceAddress
	ServiceUUID uuid.UUID
	Data        []byte
	RSSI        int16
	ObservedAt  time.Time
}

// Reading holds the fields carried by a single advertisement frame. Nil
// fields are unknown, not zero.
type Reading struct {
	Address     DeviceAddress `json:"address"`
	Temperature *Temperature  `json:"temperature,omitempty"`
	Humidity    *uint8        `json:"humidity,omitempty"`
	Battery     *uint8        `json:"battery,omitempty"`
	ObservedAt  time.Time     `json:"observed_at"`
}

// DeviceSummary is the latest known value of each field for one address.
type DeviceSummary struct {
	Temperature   *Temperature `json:"temperature,omitempty"`
	Humidity      *uint8       `json:"humidity,omitempty"`
	Battery       *uint8       `json:"battery,omitempty"`
	FirstObserved time.Time    `json:"first_observed"`
	LastObserved  time.Time    `json:"last_observed"`
}

// Merge overwrites only the fields the reading carries.
func (s *DeviceSummary) Merge(r Reading) {
	if s.FirstObserved.IsZero() {
		s.FirstObserved = r.ObservedAt
	}
	if r.ObservedAt.After(s.LastObserved) {
		s.LastObserved = r.ObservedAt
	}
	if r.Temperature != nil {
		t := *r.Temperature
		s.Temperature = &t
	}
	if r.Humidity != nil {
		h := *r.Humidity
		s.Humidity = &h
	}
	if r.Battery != nil {
		b := *r.Battery
		s.Battery = &b
	}
}
