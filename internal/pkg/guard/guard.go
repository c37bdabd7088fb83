package guard

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Guard serialises GATT sessions on the single radio. Scanning does not go
// through it.
type Guard struct {
	sem    *semaphore.Weighted
	logger *zap.Logger
}

func New() *Guard {
	return &Guard{
		sem:    semaphore.NewWeighted(1),
		logger: zap.L(),
	}
}

// WithExclusiveAccess runs fn while holding the adapter. The adapter is
// released when fn returns or panics. If ctx ends before the adapter is
// acquired fn is not called and ctx.Err() is returned.
func (g *Guard) WithExclusiveAccess(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	g.logger.Debug("adapter acquired")
	defer g.logger.Debug("adapter released")

	return fn(ctx)
}
