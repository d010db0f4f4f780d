package adapter

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is a bounded exponential backoff without jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetry waits 1s then 2s between three attempts.
var DefaultRetry = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	Multiplier:  2,
	MaxDelay:    8 * time.Second,
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, fails permanently, the attempts are used up
// or ctx is done. It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	var last error
	err := backoff.Retry(func() error {
		attempts++
		last = op(ctx)
		if last != nil && !IsTransient(last) {
			return backoff.Permanent(last)
		}
		return last
	}, p.backoff(ctx))
	if err != nil && last != nil {
		// Retry reports ctx.Err() when cancelled between attempts; the
		// operation's own failure is more useful to callers.
		return attempts, last
	}
	return attempts, err
}
