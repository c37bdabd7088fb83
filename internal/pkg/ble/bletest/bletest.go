// Package bletest provides an in-memory ble.Transport with scripted devices.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anicoll/mijia-clock/internal/pkg/ble"
	"github.com/anicoll/mijia-clock/internal/pkg/decoder"
	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

// Device scripts how one peripheral behaves.
type Device struct {
	Address model.DeviceAddress
	// Advertising devices are announced every Transport interval while scanning.
	Advertising bool
	ServiceData []byte
	Services    []ble.Service
	ConnectErr  error
	DiscoverErr error
	WriteErr    error
	// FailWrites makes the first n writes fail with ErrWriteRejected.
	FailWrites int
	// OpDelay is spent inside connect, discover and write.
	OpDelay time.Duration
}

// ClockDevice advertises an 80% battery frame and exposes the clock
// characteristic.
func ClockDevice(addr string) Device {
	battery := uint8(80)
	return Device{
		Address:     model.MustParseAddress(addr),
		Advertising: true,
		ServiceData: Frame(decoder.FrameBattery, model.Reading{Battery: &battery}),
		Services: []ble.Service{{
			UUID:            model.ClockServiceUUID,
			Characteristics: []ble.Characteristic{{UUID: model.ClockCharacteristicUUID}},
		}},
	}
}

// Frame encodes r as the service data of the given frame type. It panics on
// readings the frame cannot carry.
func Frame(frame decoder.FrameType, r model.Reading) []byte {
	data, err := decoder.Encode(frame, r)
	if err != nil {
		panic(err)
	}
	return data
}

var ErrWriteRejected = errors.New("write rejected")

type Op string

const (
	OpConnect    Op = "connect"
	OpDiscover   Op = "discover"
	OpWrite      Op = "write"
	OpDisconnect Op = "disconnect"
)

// Call records one transport call and how long it took.
type Call struct {
	Address model.DeviceAddress
	Op      Op
	Start   time.Time
	End     time.Time
}

type Write struct {
	Address        model.DeviceAddress
	Characteristic uuid.UUID
	Data           []byte
}

type conn struct {
	addr model.DeviceAddress
}

func (c *conn) Address() model.DeviceAddress {
	return c.addr
}

type Transport struct {
	interval time.Duration

	mu       sync.Mutex
	devices  map[model.DeviceAddress]*Device
	out      chan model.Advertisement
	inject   chan model.Advertisement
	stop     chan struct{}
	calls    []Call
	writes   []Write
	emitted  []time.Time
	open     map[model.DeviceAddress]int
	maxOpen  int
	scanning bool
}

func New(interval time.Duration, devices ...Device) *Transport {
	t := &Transport{
		interval: interval,
		devices:  make(map[model.DeviceAddress]*Device),
		open:     make(map[model.DeviceAddress]int),
		inject:   make(chan model.Advertisement),
	}
	for i := range devices {
		d := devices[i]
		t.devices[d.Address] = &d
	}
	return t
}

func (t *Transport) StartScan(ctx context.Context) (<-chan model.Advertisement, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scanning {
		return nil, errors.New("scan already running")
	}
	t.scanning = true
	t.out = make(chan model.Advertisement, 64)
	t.stop = make(chan struct{})

	out, stop := t.out, t.stop
	go t.advertise(ctx, out, stop)
	return out, nil
}

func (t *Transport) advertise(ctx context.Context, out chan model.Advertisement, stop chan struct{}) {
	defer close(out)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		var advs []model.Advertisement
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case adv := <-t.inject:
			advs = append(advs, adv)
		case <-ticker.C:
			advs = t.announcements()
		}
		for _, adv := range advs {
			select {
			case out <- adv:
				t.mu.Lock()
				t.emitted = append(t.emitted, adv.ObservedAt)
				t.mu.Unlock()
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *Transport) announcements() []model.Advertisement {
	t.mu.Lock()
	defer t.mu.Unlock()
	var advs []model.Advertisement
	for _, d := range t.devices {
		if !d.Advertising {
			continue
		}
		advs = append(advs, model.Advertisement{
			Address:     d.Address,
			ServiceUUID: model.SensorServiceUUID,
			Data:        append([]byte(nil), d.ServiceData...),
			ObservedAt:  time.Now(),
		})
	}
	return advs
}

// Emit pushes one advertisement into a running scan.
func (t *Transport) Emit(adv model.Advertisement) bool {
	t.mu.Lock()
	stop, scanning := t.stop, t.scanning
	t.mu.Unlock()
	if !scanning {
		return false
	}
	select {
	case t.inject <- adv:
		return true
	case <-stop:
		return false
	case <-time.After(time.Second):
		return false
	}
}

func (t *Transport) StopScan() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.scanning {
		return nil
	}
	t.scanning = false
	close(t.stop)
	return nil
}

func (t *Transport) device(addr model.DeviceAddress) (*Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ble.ErrNotFound, addr)
	}
	return d, nil
}

// begin records the start of a call and tracks overlapping sessions.
func (t *Transport) begin(addr model.DeviceAddress, op Op) func() {
	start := time.Now()
	t.mu.Lock()
	if op == OpConnect {
		t.open[addr]++
		n := 0
		for _, c := range t.open {
			n += c
		}
		if n > t.maxOpen {
			t.maxOpen = n
		}
	}
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.calls = append(t.calls, Call{Address: addr, Op: op, Start: start, End: time.Now()})
		t.mu.Unlock()
	}
}

func (t *Transport) closeSession(addr model.DeviceAddress) {
	t.mu.Lock()
	if t.open[addr] > 0 {
		t.open[addr]--
	}
	t.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Connect(ctx context.Context, addr model.DeviceAddress) (ble.Connection, error) {
	end := t.begin(addr, OpConnect)
	defer end()

	d, err := t.device(addr)
	if err != nil {
		t.closeSession(addr)
		return nil, err
	}
	if err := sleep(ctx, d.OpDelay); err != nil {
		t.closeSession(addr)
		return nil, err
	}
	if d.ConnectErr != nil {
		t.closeSession(addr)
		return nil, d.ConnectErr
	}
	return &conn{addr: addr}, nil
}

func (t *Transport) DiscoverServices(ctx context.Context, c ble.Connection) ([]ble.Service, error) {
	end := t.begin(c.Address(), OpDiscover)
	defer end()

	d, err := t.device(c.Address())
	if err != nil {
		return nil, err
	}
	if err := sleep(ctx, d.OpDelay); err != nil {
		return nil, err
	}
	if d.DiscoverErr != nil {
		return nil, d.DiscoverErr
	}
	return d.Services, nil
}

func (t *Transport) WriteCharacteristic(ctx context.Context, c ble.Connection, characteristic uuid.UUID, data []byte) error {
	end := t.begin(c.Address(), OpWrite)
	defer end()

	d, err := t.device(c.Address())
	if err != nil {
		return err
	}
	if err := sleep(ctx, d.OpDelay); err != nil {
		return err
	}
	if d.WriteErr != nil {
		return d.WriteErr
	}
	t.mu.Lock()
	if d.FailWrites > 0 {
		d.FailWrites--
		t.mu.Unlock()
		return ErrWriteRejected
	}
	t.writes = append(t.writes, Write{Address: c.Address(), Characteristic: characteristic, Data: append([]byte(nil), data...)})
	t.mu.Unlock()
	return nil
}

func (t *Transport) Disconnect(c ble.Connection) error {
	end := t.begin(c.Address(), OpDisconnect)
	defer end()
	t.closeSession(c.Address())
	return nil
}

func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

func (t *Transport) CallsFor(addr model.DeviceAddress) []Call {
	var out []Call
	for _, c := range t.Calls() {
		if c.Address == addr {
			out = append(out, c)
		}
	}
	return out
}

func (t *Transport) Writes() []Write {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Write(nil), t.writes...)
}

// Emitted returns the times advertisements were handed to the scanner.
func (t *Transport) Emitted() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Time(nil), t.emitted...)
}

// MaxOpenSessions is the highest number of simultaneously open connections seen.
func (t *Transport) MaxOpenSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxOpen
}

func (t *Transport) Scanning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanning
}

// Session is the span from the first to the last call made for one device.
func Session(calls []Call) (start, end time.Time) {
	for i, c := range calls {
		if i == 0 || c.Start.Before(start) {
			start = c.Start
		}
		if c.End.After(end) {
			end = c.End
		}
	}
	return start, end
}
