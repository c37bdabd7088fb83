package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithExclusiveAccess_Serialises(t *testing.T) {
	g := New()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.WithExclusiveAccess(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestWithExclusiveAccess_ReleasedOnError(t *testing.T) {
	g := New()
	boom := errors.New("boom")

	err := g.WithExclusiveAccess(context.Background(), func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.True(t, acquirable(g))
}

func TestWithExclusiveAccess_ReleasedOnPanic(t *testing.T) {
	g := New()

	assert.Panics(t, func() {
		_ = g.WithExclusiveAccess(context.Background(), func(context.Context) error {
			panic("mid transaction")
		})
	})

	assert.True(t, acquirable(g))
}

func TestWithExclusiveAccess_ContextCancelledWhileWaiting(t *testing.T) {
	g := New()
	holding := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = g.WithExclusiveAccess(context.Background(), func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := g.WithExclusiveAccess(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	assert.False(t, acquirable(g))

	close(release)
	assert.Eventually(t, func() bool {
		return acquirable(g)
	}, time.Second, 5*time.Millisecond)
}

func acquirable(g *Guard) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	return g.WithExclusiveAccess(ctx, func(context.Context) error { return nil }) == nil
}
