package clocksync

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

// RetryPolicy bounds how often a device is attempted in one run. The zero
// value means a single attempt.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
}

func SingleAttempt() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) attempts() uint {
	if p.MaxAttempts == 0 {
		return 1
	}
	return p.MaxAttempts
}

// retryable reports whether another attempt could change the result.
func retryable(r model.SyncResult) bool {
	switch r {
	case model.SyncTimeout, model.SyncConnectionFailed, model.SyncWriteFailed:
		return true
	default:
		return false
	}
}

// run calls attempt until it succeeds, fails permanently or the policy is
// exhausted. The last outcome and the number of attempts made are returned.
func (p RetryPolicy) run(ctx context.Context, attempt func() Outcome, notify func(n uint, o Outcome, next time.Duration)) (Outcome, uint) {
	var (
		last Outcome
		n    uint
	)
	if p.attempts() == 1 {
		return attempt(), 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}

	_, _ = backoff.Retry(ctx, func() (Outcome, error) {
		n++
		last = attempt()
		if last.Result == model.SyncSuccess {
			return last, nil
		}
		err := last.Err
		if err == nil {
			err = fmt.Errorf("sync %s", last.Result)
		}
		if !retryable(last.Result) {
			return last, backoff.Permanent(err)
		}
		return last, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.attempts()),
		backoff.WithNotify(func(err error, next time.Duration) {
			if notify != nil {
				notify(n, last, next)
			}
		}),
	)
	return last, n
}
