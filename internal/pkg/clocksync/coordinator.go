package clocksync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/mijia-clock/internal/pkg/ble"
	"github.com/anicoll/mijia-clock/internal/pkg/listener"
	"github.com/anicoll/mijia-clock/internal/pkg/model"
	"github.com/anicoll/mijia-clock/internal/pkg/registry"
)

const subscriptionBuffer = 16

type readingSink interface {
	Update(model.Reading)
}

type Coordinator struct {
	transport ble.Transport
	guard     adapterGuard
	listener  *listener.Listener
	timeouts  Timeouts
	retry     RetryPolicy
	sinks     []readingSink
	emit      EventFunc
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Coordinator)

func WithTimeouts(t Timeouts) Option {
	return func(c *Coordinator) {
		c.timeouts = t
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) {
		c.retry = p
	}
}

// WithListener makes the coordinator subscribe to an already running
// listener instead of scanning for the duration of each run.
func WithListener(l *listener.Listener) Option {
	return func(c *Coordinator) {
		c.listener = l
	}
}

// WithReadingSink feeds every decoded reading seen during a run to sink.
// The sink is only called from a single goroutine.
func WithReadingSink(sink readingSink) Option {
	return func(c *Coordinator) {
		c.sinks = append(c.sinks, sink)
	}
}

// WithEvents receives progress events from all workers. fn is called
// concurrently.
func WithEvents(fn EventFunc) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.emit = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func NewCoordinator(transport ble.Transport, g adapterGuard, opts ...Option) *Coordinator {
	c := &Coordinator{
		transport: transport,
		guard:     g,
		timeouts:  DefaultTimeouts(),
		retry:     SingleAttempt(),
		emit:      func(model.SyncEvent) {},
		now:       time.Now,
		logger:    zap.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run syncs every non-omitted device concurrently and waits for all of them.
// The returned error is only set when the run could not start; per device
// failures are in the report, see Report.Err.
func (c *Coordinator) Run(ctx context.Context, devices []registry.Device) (*Report, error) {
	l := c.listener
	owned := l == nil
	if owned {
		l = listener.New(c.transport)
	}

	report := &Report{Results: make([]DeviceResult, len(devices))}
	subs := make([]*listener.Subscription, len(devices))
	for i, dev := range devices {
		report.Results[i] = DeviceResult{Device: dev, Omitted: dev.Omit}
		if dev.Omit {
			continue
		}
		subs[i] = l.Subscribe(listener.ForAddress(dev.Address), subscriptionBuffer)
	}
	defer func() {
		for _, s := range subs {
			if s != nil {
				s.Close()
			}
		}
	}()

	var sinksDone chan struct{}
	if len(c.sinks) > 0 {
		sinksDone = make(chan struct{})
		readings := l.Subscribe(listener.Readings, 256)
		defer func() {
			readings.Close()
			<-sinksDone
		}()
		go func() {
			defer close(sinksDone)
			for e := range readings.C {
				for _, sink := range c.sinks {
					sink.Update(*e.Reading)
				}
			}
		}()
	}

	stop := func() {}
	if owned {
		lctx, cancel := context.WithCancel(ctx)
		if err := l.Start(lctx); err != nil {
			cancel()
			return nil, fmt.Errorf("start scan: %w", err)
		}
		stop = func() {
			cancel()
			<-l.Done()
		}
	}

	// Workers finish their current phase even when ctx is cancelled.
	wctx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for i, dev := range devices {
		if dev.Omit {
			c.emit(c.event(dev, model.EventOmitted, "Configured as Omit", false))
			continue
		}
		g.Go(func() error {
			outcome, attempts := c.syncDevice(wctx, dev, subs[i].C)
			res := &report.Results[i]
			res.Result = outcome.Result
			res.Payload = outcome.Payload
			res.Err = outcome.Err
			res.Attempts = attempts
			return nil
		})
	}
	_ = g.Wait()
	stop()

	c.logger.Info("sync run finished",
		zap.Int("devices", len(devices)),
		zap.Int("failed", len(report.Failed())),
	)
	return report, nil
}

func (c *Coordinator) syncDevice(ctx context.Context, dev registry.Device, adverts <-chan listener.Event) (Outcome, uint) {
	attempt := 0
	return c.retry.run(ctx,
		func() Outcome {
			if attempt > 0 {
				drain(adverts)
			}
			attempt++
			w := NewWorker(dev, c.transport, c.guard, adverts, c.timeouts,
				WithEventFunc(c.emit),
				WithNow(c.now),
			)
			return w.Run(ctx)
		},
		func(n uint, o Outcome, next time.Duration) {
			c.emit(c.event(dev, model.EventRetry,
				fmt.Sprintf("Attempt %d %s, retrying in %s", n, o.Result, next.Round(time.Millisecond)), true))
		},
	)
}

// drain drops adverts buffered during a failed attempt so the next one waits
// for the device to advertise again.
func drain(adverts <-chan listener.Event) {
	for {
		select {
		case _, ok := <-adverts:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (c *Coordinator) event(dev registry.Device, kind model.SyncEventKind, msg string, isErr bool) model.SyncEvent {
	return model.SyncEvent{
		Address: dev.Address,
		Name:    dev.DisplayName(),
		Kind:    kind,
		Message: msg,
		Error:   isErr,
		Time:    c.now(),
	}
}
