package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

const scanBuffer = 512

type adapter interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
}

// peer is the part of a connected bluetooth.Device the transport uses.
type peer interface {
	DiscoverServices(uuids []bluetooth.UUID) ([]bluetooth.DeviceService, error)
	Disconnect() error
}

// writer writes with response. The call differs per platform, see
// write_linux.go and write_other.go.
type writer interface {
	write(data []byte) (int, error)
}

type gattCharacteristic struct {
	bluetooth.DeviceCharacteristic
}

type service struct {
	adapter adapter
	logger  *zap.Logger

	mu        sync.Mutex
	seen      map[model.DeviceAddress]bluetooth.Address
	scanning  bool
	scanStops chan struct{}
}

type connection struct {
	addr            model.DeviceAddress
	device          peer
	mu              sync.Mutex
	closed          bool
	characteristics map[uuid.UUID]writer
}

func newConnection(addr model.DeviceAddress, device peer) *connection {
	return &connection{
		addr:            addr,
		device:          device,
		characteristics: make(map[uuid.UUID]writer),
	}
}

func (c *connection) Address() model.DeviceAddress {
	return c.addr
}

// New enables the adapter, usually bluetooth.DefaultAdapter.
func New(a *bluetooth.Adapter) (*service, error) {
	if err := a.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}
	return newService(a), nil
}

func newService(a adapter) *service {
	return &service{
		adapter: a,
		logger:  zap.L(),
		seen:    make(map[model.DeviceAddress]bluetooth.Address),
	}
}

// StartScan runs a passive scan until ctx ends or StopScan is called. Each
// service data element of a packet becomes one advertisement; packets
// without service data are still delivered so presence can be detected.
func (s *service) StartScan(ctx context.Context) (<-chan model.Advertisement, error) {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil, fmt.Errorf("scan already running")
	}
	s.scanning = true
	s.scanStops = make(chan struct{})
	stops := s.scanStops
	s.mu.Unlock()

	out := make(chan model.Advertisement, scanBuffer)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.StopScan()
		case <-stops:
		}
	}()
	go func() {
		defer close(out)
		err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			for _, adv := range s.convert(result) {
				select {
				case out <- adv:
				default:
					s.logger.Debug("scan buffer full, dropping advertisement", zap.Stringer("address", adv.Address))
				}
			}
		})
		if err != nil {
			s.logger.Error("scan ended", zap.Error(err))
		}
		s.mu.Lock()
		// a newer scan may already own scanStops.
		if s.scanning && s.scanStops == stops {
			s.scanning = false
			close(s.scanStops)
		}
		s.mu.Unlock()
	}()
	return out, nil
}

func (s *service) convert(result bluetooth.ScanResult) []model.Advertisement {
	return s.advertisements(result.Address.String(), result.Address, result.RSSI, result.ServiceData())
}

func (s *service) advertisements(text string, address bluetooth.Address, rssi int16, elements []bluetooth.ServiceDataElement) []model.Advertisement {
	addr, err := model.ParseAddress(text)
	if err != nil {
		// platforms that hide the MAC cannot be synced anyway.
		return nil
	}

	s.mu.Lock()
	s.seen[addr] = address
	s.mu.Unlock()

	now := time.Now()
	if len(elements) == 0 {
		return []model.Advertisement{{Address: addr, RSSI: rssi, ObservedAt: now}}
	}

	advs := make([]model.Advertisement, 0, len(elements))
	for _, el := range elements {
		id, err := uuid.Parse(el.UUID.String())
		if err != nil {
			continue
		}
		advs = append(advs, model.Advertisement{
			Address:     addr,
			ServiceUUID: id,
			Data:        append([]byte(nil), el.Data...),
			RSSI:        rssi,
			ObservedAt:  now,
		})
	}
	return advs
}

func (s *service) StopScan() error {
	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		return nil
	}
	s.scanning = false
	close(s.scanStops)
	s.mu.Unlock()

	return s.adapter.StopScan()
}

// Connect only works for addresses seen while scanning, the stack needs
// the address type from the advertisement.
func (s *service) Connect(ctx context.Context, addr model.DeviceAddress) (Connection, error) {
	s.mu.Lock()
	address, ok := s.seen[addr]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s has not been seen advertising", ErrNotFound, addr)
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan result, 1)
	go func() {
		device, err := s.adapter.Connect(address, bluetooth.ConnectionParams{})
		done <- result{device: device, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return newConnection(addr, res.device), nil
	case <-ctx.Done():
		go func() {
			// the stack may still complete the connect, never leave it open.
			if res := <-done; res.err == nil {
				_ = res.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

func (s *service) DiscoverServices(ctx context.Context, conn Connection) ([]Service, error) {
	c, ok := conn.(*connection)
	if !ok {
		return nil, fmt.Errorf("foreign connection %T", conn)
	}
	if c.isClosed() {
		return nil, fmt.Errorf("%w: %s", ErrDisconnected, c.addr)
	}

	return runWithContext(ctx, func() ([]Service, error) {
		svcs, err := c.device.DiscoverServices(nil)
		if err != nil {
			return nil, err
		}
		out := make([]Service, 0, len(svcs))
		for _, svc := range svcs {
			svcID, err := uuid.Parse(svc.UUID().String())
			if err != nil {
				continue
			}
			chars, err := svc.DiscoverCharacteristics(nil)
			if err != nil {
				s.logger.Debug("characteristic discovery failed", zap.Stringer("service", svcID), zap.Error(err))
				out = append(out, Service{UUID: svcID})
				continue
			}
			entry := Service{UUID: svcID}
			c.mu.Lock()
			for _, ch := range chars {
				chID, err := uuid.Parse(ch.UUID().String())
				if err != nil {
					continue
				}
				c.characteristics[chID] = gattCharacteristic{ch}
				entry.Characteristics = append(entry.Characteristics, Characteristic{UUID: chID})
			}
			c.mu.Unlock()
			out = append(out, entry)
		}
		return out, nil
	})
}

func (s *service) WriteCharacteristic(ctx context.Context, conn Connection, characteristic uuid.UUID, data []byte) error {
	c, ok := conn.(*connection)
	if !ok {
		return fmt.Errorf("foreign connection %T", conn)
	}
	c.mu.Lock()
	ch, ok := c.characteristics[characteristic]
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: %s", ErrDisconnected, c.addr)
	}
	if !ok {
		return fmt.Errorf("%w: characteristic %s", ErrNotFound, characteristic)
	}

	_, err := runWithContext(ctx, func() (int, error) {
		return ch.write(data)
	})
	return err
}

// Disconnect is idempotent.
func (s *service) Disconnect(conn Connection) error {
	c, ok := conn.(*connection)
	if !ok {
		return fmt.Errorf("foreign connection %T", conn)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.device.Disconnect()
}

func (c *connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// runWithContext gives blocking stack calls a deadline. The call itself keeps
// running in the background until the stack returns.
func runWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()
	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
