package clocksync

import (
	"context"
	"sync/atomic"
)

// MockGuard counts acquisitions and runs fn without locking.
type MockGuard struct {
	WithExclusiveAccessFunc func(ctx context.Context, fn func(ctx context.Context) error) error

	calls atomic.Int32
}

func (m *MockGuard) WithExclusiveAccess(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls.Add(1)
	if m.WithExclusiveAccessFunc != nil {
		return m.WithExclusiveAccessFunc(ctx, fn)
	}
	return fn(ctx)
}

func (m *MockGuard) Calls() int {
	return int(m.calls.Load())
}
