package listener

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/mijia-clock/internal/pkg/ble"
	"github.com/anicoll/mijia-clock/internal/pkg/decoder"
	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

var ErrAlreadyRunning = errors.New("listener already running")

// Event is one received advertisement. Reading is nil when the packet did not
// carry a decodable sensor frame.
type Event struct {
	Advertisement model.Advertisement
	Reading       *model.Reading
}

type Filter func(Event) bool

// ForAddress matches every packet from addr, decoded or not.
func ForAddress(addr model.DeviceAddress) Filter {
	return func(e Event) bool {
		return e.Advertisement.Address == addr
	}
}

// Readings matches packets that decoded to a reading.
func Readings(e Event) bool {
	return e.Reading != nil
}

type Subscription struct {
	C <-chan Event

	ch     chan Event
	filter Filter
	l      *Listener
	once   sync.Once
}

// Close detaches the subscription. Pending events are discarded.
func (s *Subscription) Close() {
	s.l.unsubscribe(s)
}

// Listener owns the scan and fans every packet out to its subscribers.
type Listener struct {
	scanner ble.Scanner
	logger  *zap.Logger

	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	running bool
	closed  bool
	done    chan struct{}
}

func New(scanner ble.Scanner) *Listener {
	return &Listener{
		scanner: scanner,
		logger:  zap.L(),
		subs:    make(map[*Subscription]struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe registers a consumer. A nil filter matches everything. Events for
// a subscriber whose buffer is full are dropped for that subscriber only.
func (l *Listener) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, filter: filter, l: l}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		close(ch)
		s.once.Do(func() {})
		return s
	}
	l.subs[s] = struct{}{}
	return s
}

func (l *Listener) unsubscribe(s *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[s]; !ok {
		return
	}
	delete(l.subs, s)
	s.once.Do(func() { close(s.ch) })
}

// Start begins scanning and returns once the transport accepted the scan.
// Packets are delivered until ctx is done or the transport closes the stream,
// after which every subscription is closed and Done is closed.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running || l.closed {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.mu.Unlock()

	packets, err := l.scanner.StartScan(ctx)
	if err != nil {
		l.shutdown()
		return err
	}
	l.logger.Info("scan started")
	go l.loop(ctx, packets)
	return nil
}

// Run is Start followed by waiting for the scan to end.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	<-l.done
	return nil
}

// Done is closed once the listener has stopped and closed its subscriptions.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) loop(ctx context.Context, packets <-chan model.Advertisement) {
	defer l.shutdown()
	defer func() {
		if err := l.scanner.StopScan(); err != nil {
			l.logger.Warn("failed to stop scan", zap.Error(err))
		}
		l.logger.Info("scan stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case adv, ok := <-packets:
			if !ok {
				return
			}
			l.dispatch(l.decode(adv))
		}
	}
}

func (l *Listener) decode(adv model.Advertisement) Event {
	reading, err := decoder.Decode(adv)
	if err != nil {
		l.logger.Debug("dropping undecodable frame",
			zap.Stringer("address", adv.Address),
			zap.Binary("data", adv.Data),
			zap.Error(err),
		)
	}
	return Event{Advertisement: adv, Reading: reading}
}

func (l *Listener) dispatch(e Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for s := range l.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			l.logger.Debug("subscriber full, event dropped",
				zap.Stringer("address", e.Advertisement.Address))
		}
	}
}

func (l *Listener) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for s := range l.subs {
		delete(l.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
	close(l.done)
}
