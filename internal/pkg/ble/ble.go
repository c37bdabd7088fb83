package ble

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDisconnected = errors.New("disconnected")
)

// Connection is an open GATT session.
type Connection interface {
	Address() model.DeviceAddress
}

type Characteristic struct {
	UUID uuid.UUID
}

type Service struct {
	UUID            uuid.UUID
	Characteristics []Characteristic
}

// Scanner produces raw advertisements. Scanning may run while a connection is
// open.
type Scanner interface {
	StartScan(ctx context.Context) (<-chan model.Advertisement, error)
	StopScan() error
}

// Transport is what the sync engine needs from the radio.
type Transport interface {
	Scanner
	Connect(ctx context.Context, addr model.DeviceAddress) (Connection, error)
	DiscoverServices(ctx context.Context, conn Connection) ([]Service, error)
	// WriteCharacteristic writes with response and returns once the peer confirmed.
	WriteCharacteristic(ctx context.Context, conn Connection, characteristic uuid.UUID, data []byte) error
	Disconnect(conn Connection) error
}

// FindCharacteristic looks for the characteristic under the given service.
func FindCharacteristic(services []Service, service, characteristic uuid.UUID) (found Characteristic, hasService, hasCharacteristic bool) {
	for _, s := range services {
		if s.UUID != service {
			continue
		}
		hasService = true
		for _, c := range s.Characteristics {
			if c.UUID == characteristic {
				return c, true, true
			}
		}
	}
	return Characteristic{}, hasService, false
}
