package clocksync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/mijia-clock/internal/pkg/ble"
	"github.com/anicoll/mijia-clock/internal/pkg/listener"
	"github.com/anicoll/mijia-clock/internal/pkg/model"
	"github.com/anicoll/mijia-clock/internal/pkg/registry"
)

var (
	ErrNotDiscovered     = errors.New("device not discovered")
	ErrServiceMissing    = errors.New("clock service not found")
	ErrCharacterMissing  = errors.New("clock characteristic not found")
	errInvalidTransition = errors.New("invalid state transition")
)

type Timeouts struct {
	Discovery time.Duration
	Connect   time.Duration
	Write     time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Discovery: 10 * time.Second,
		Connect:   10 * time.Second,
		Write:     10 * time.Second,
	}
}

// Outcome is the terminal result of one worker.
type Outcome struct {
	Result  model.SyncResult
	Payload *model.ClockPayload
	Err     error
}

// EventFunc receives progress events. It must not block.
type EventFunc func(model.SyncEvent)

type adapterGuard interface {
	WithExclusiveAccess(ctx context.Context, fn func(ctx context.Context) error) error
}

// Worker syncs the clock of a single device. A Worker runs once.
type Worker struct {
	device    registry.Device
	transport ble.Transport
	guard     adapterGuard
	adverts   <-chan listener.Event
	timeouts  Timeouts
	now       func() time.Time
	emit      EventFunc
	logger    *zap.Logger

	state   State
	conn    ble.Connection
	target  ble.Characteristic
	outcome Outcome
}

type WorkerOption func(*Worker)

func WithEventFunc(fn EventFunc) WorkerOption {
	return func(w *Worker) {
		if fn != nil {
			w.emit = fn
		}
	}
}

// WithNow replaces the clock used for the payload and event times.
func WithNow(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

func NewWorker(device registry.Device, transport ble.Transport, g adapterGuard, adverts <-chan listener.Event, timeouts Timeouts, opts ...WorkerOption) *Worker {
	w := &Worker{
		device:    device,
		transport: transport,
		guard:     g,
		adverts:   adverts,
		timeouts:  timeouts,
		now:       time.Now,
		emit:      func(model.SyncEvent) {},
		logger:    zap.L().With(zap.Stringer("address", device.Address), zap.String("name", device.Name)),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) State() State {
	return w.state
}

// Run drives the worker to Done and returns its outcome. Adapter access is
// only taken once the device has been seen advertising and is released before
// Run returns.
func (w *Worker) Run(ctx context.Context) Outcome {
	if w.state != StateIdle {
		return w.outcome
	}
	w.transition(StateAwaitingDiscoverability)
	w.awaitDiscoverability(ctx)
	if w.state == StateDone {
		return w.outcome
	}

	err := w.guard.WithExclusiveAccess(ctx, w.session)
	if err != nil && w.state != StateDone {
		// ctx ended while waiting for the adapter.
		w.finish(model.SyncTimeout, err)
	}
	return w.outcome
}

func (w *Worker) transition(to State) {
	if !canTransition(w.state, to) {
		panic(fmt.Errorf("%w: %s -> %s", errInvalidTransition, w.state, to))
	}
	w.logger.Debug("state change", zap.Stringer("from", w.state), zap.Stringer("to", to))
	w.state = to
}

func (w *Worker) finish(result model.SyncResult, err error) {
	w.outcome.Result = result
	w.outcome.Err = err
	w.transition(StateDone)

	if result == model.SyncSuccess {
		w.logger.Info("clock synced", zap.Uint32("timestamp", w.outcome.Payload.UnixTimestamp))
		return
	}
	w.logger.Warn("clock sync failed", zap.Stringer("result", result), zap.Error(err))
	w.report(model.EventFailed, fmt.Sprintf("%s: %v", result, err), true)
}

func (w *Worker) report(kind model.SyncEventKind, msg string, isErr bool) {
	w.emit(model.SyncEvent{
		Address: w.device.Address,
		Name:    w.device.DisplayName(),
		Kind:    kind,
		Message: msg,
		Error:   isErr,
		Time:    w.now(),
	})
}

// awaitDiscoverability waits for any packet from the device. A closed stream
// does not end the wait early.
func (w *Worker) awaitDiscoverability(ctx context.Context) {
	timer := time.NewTimer(w.timeouts.Discovery)
	defer timer.Stop()

	adverts := w.adverts
	for {
		select {
		case e, ok := <-adverts:
			if !ok {
				adverts = nil
				continue
			}
			if e.Advertisement.Address != w.device.Address {
				continue
			}
			w.report(model.EventDiscovered, "Discovered", false)
			return
		case <-timer.C:
			w.finish(model.SyncTimeout, fmt.Errorf("%w within %s", ErrNotDiscovered, w.timeouts.Discovery))
			return
		case <-ctx.Done():
			w.finish(model.SyncTimeout, ctx.Err())
			return
		}
	}
}

// session runs Connecting through Done while the adapter is held.
func (w *Worker) session(ctx context.Context) error {
	defer w.disconnect()

	w.transition(StateConnecting)
	for w.state != StateDone {
		switch w.state {
		case StateConnecting:
			w.connect(ctx)
		case StateDiscoveringServices:
			w.discover(ctx)
		case StateWritingClock:
			w.write(ctx)
		}
	}
	return w.outcome.Err
}

func (w *Worker) connect(ctx context.Context) {
	w.report(model.EventConnecting, "Connecting...", false)

	cctx, cancel := context.WithTimeout(ctx, w.timeouts.Connect)
	defer cancel()
	conn, err := w.transport.Connect(cctx, w.device.Address)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.finish(model.SyncTimeout, fmt.Errorf("connect: %w", err))
			return
		}
		w.finish(model.SyncConnectionFailed, fmt.Errorf("connect: %w", err))
		return
	}
	w.conn = conn
	w.transition(StateDiscoveringServices)
}

func (w *Worker) discover(ctx context.Context) {
	w.report(model.EventQueryService, fmt.Sprintf("Querying service, UUID=%s", model.ClockServiceUUID), false)

	dctx, cancel := context.WithTimeout(ctx, w.timeouts.Connect)
	defer cancel()
	services, err := w.transport.DiscoverServices(dctx, w.conn)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.finish(model.SyncTimeout, fmt.Errorf("discover services: %w", err))
			return
		}
		w.finish(model.SyncConnectionFailed, fmt.Errorf("discover services: %w", err))
		return
	}

	char, hasService, hasChar := ble.FindCharacteristic(services, model.ClockServiceUUID, model.ClockCharacteristicUUID)
	if !hasService {
		w.finish(model.SyncProtocolMismatch, ErrServiceMissing)
		return
	}
	w.report(model.EventQueryCharacter, fmt.Sprintf("Querying characteristic, UUID=%s", model.ClockCharacteristicUUID), false)
	if !hasChar {
		w.finish(model.SyncProtocolMismatch, ErrCharacterMissing)
		return
	}
	w.target = char
	w.transition(StateWritingClock)
}

func (w *Worker) write(ctx context.Context) {
	payload, err := model.NewClockPayload(w.now(), w.device.OffsetSeconds, w.device.TZOffsetHours)
	if err != nil {
		w.finish(model.SyncWriteFailed, err)
		return
	}
	if w.device.OffsetSeconds != 0 {
		w.report(model.EventAdjustClock, "Adjust clock "+formatAdjust(w.device.OffsetSeconds), false)
	}

	wctx, cancel := context.WithTimeout(ctx, w.timeouts.Write)
	defer cancel()
	if err := w.transport.WriteCharacteristic(wctx, w.conn, w.target.UUID, payload.Bytes()); err != nil {
		w.finish(model.SyncWriteFailed, fmt.Errorf("write clock: %w", err))
		return
	}

	w.outcome.Payload = &payload
	w.report(model.EventSynced, fmt.Sprintf("Sync clock %d [timezone:%+d]", payload.UnixTimestamp, payload.TZOffsetHours), false)
	w.finish(model.SyncSuccess, nil)
}

func (w *Worker) disconnect() {
	if w.conn == nil {
		return
	}
	if err := w.transport.Disconnect(w.conn); err != nil {
		w.logger.Warn("failed to disconnect", zap.Error(err))
	}
	w.conn = nil
}

// formatAdjust renders an offset in seconds as +m:ss.
func formatAdjust(secs int64) string {
	sign := "+"
	if secs < 0 {
		sign = "-"
		secs = -secs
	}
	return fmt.Sprintf("%s%d:%02d", sign, secs/60, secs%60)
}
