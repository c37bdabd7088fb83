package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
	"github.com/anicoll/mijia-clock/internal/pkg/publisher"
)

// MockPublisher is a mock implementation of the Publisher interface.
type MockPublisher struct {
	PublishReadingFunc func(ctx context.Context, d publisher.Device, r model.Reading) error
	PublishSyncFunc    func(ctx context.Context, d publisher.Device, result model.SyncResult, at time.Time) error

	mu       sync.Mutex
	readings []model.Reading
	syncs    []model.SyncResult
}

func (m *MockPublisher) PublishReading(ctx context.Context, d publisher.Device, r model.Reading) error {
	m.mu.Lock()
	m.readings = append(m.readings, r)
	m.mu.Unlock()
	if m.PublishReadingFunc != nil {
		return m.PublishReadingFunc(ctx, d, r)
	}
	return nil
}

func (m *MockPublisher) PublishSync(ctx context.Context, d publisher.Device, result model.SyncResult, at time.Time) error {
	m.mu.Lock()
	m.syncs = append(m.syncs, result)
	m.mu.Unlock()
	if m.PublishSyncFunc != nil {
		return m.PublishSyncFunc(ctx, d, result, at)
	}
	return nil
}

func (m *MockPublisher) Readings() []model.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Reading(nil), m.readings...)
}

func (m *MockPublisher) Syncs() []model.SyncResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SyncResult(nil), m.syncs...)
}
