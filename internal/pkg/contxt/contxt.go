package contxt

import (
	"context"
	"os"
	"time"
)

// NewContext returns a context that expires after timeout.
func NewContext(timeout time.Duration) context.Context {
	return Detached(context.Background(), timeout)
}

// Detached keeps the values of parent but not its cancellation, and expires
// after timeout. Used for publishes that must finish during shutdown.
func Detached(parent context.Context, timeout time.Duration) context.Context {
	ctx := context.WithoutCancel(parent)
	if os.Getenv("CONTEXT_TEST") != "" {
		return ctx
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	context.AfterFunc(ctx, cancel)
	return ctx
}
