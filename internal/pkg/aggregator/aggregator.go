package aggregator

import (
	"sync"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

type Entry struct {
	Address model.DeviceAddress
	Summary model.DeviceSummary
}

// Aggregator folds readings into one summary per address. It has a single
// writer (the listener consumer); Snapshot may be called from anywhere.
type Aggregator struct {
	mu        sync.RWMutex
	summaries map[model.DeviceAddress]*model.DeviceSummary
	order     []model.DeviceAddress
}

func New() *Aggregator {
	return &Aggregator{
		summaries: make(map[model.DeviceAddress]*model.DeviceSummary),
	}
}

// Update overwrites only the fields present in r.
func (a *Aggregator) Update(r model.Reading) {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary, exists := a.summaries[r.Address]
	if !exists {
		summary = &model.DeviceSummary{}
		a.summaries[r.Address] = summary
		a.order = append(a.order, r.Address)
	}
	summary.Merge(r)
}

// Snapshot returns a copy of every summary ordered by first observation.
func (a *Aggregator) Snapshot() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entries := make([]Entry, 0, len(a.order))
	for _, addr := range a.order {
		entries = append(entries, Entry{
			Address: addr,
			Summary: copySummary(a.summaries[addr]),
		})
	}
	return entries
}

func (a *Aggregator) Get(addr model.DeviceAddress) (model.DeviceSummary, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	summary, ok := a.summaries[addr]
	if !ok {
		return model.DeviceSummary{}, false
	}
	return copySummary(summary), true
}

func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

func copySummary(s *model.DeviceSummary) model.DeviceSummary {
	out := model.DeviceSummary{
		FirstObserved: s.FirstObserved,
		LastObserved:  s.LastObserved,
	}
	if s.Temperature != nil {
		t := *s.Temperature
		out.Temperature = &t
	}
	if s.Humidity != nil {
		h := *s.Humidity
		out.Humidity = &h
	}
	if s.Battery != nil {
		b := *s.Battery
		out.Battery = &b
	}
	return out
}
