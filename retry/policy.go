// Package retry runs an operation a bounded number of times with linear
// backoff and jitter.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = core.DefaultRetryBaseDelay
	DefaultJitter      = core.DefaultRetryJitter
)

// Policy describes how many times an operation runs and how long to wait
// between attempts. The wait after attempt N is BaseDelay*N plus a uniform
// random jitter in [0, Jitter). A Policy holds no mutable state and can be
// shared across goroutines.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      time.Duration

	// Retryable stops the loop early for errors it rejects. Nil uses
	// core.IsRetryable.
	Retryable func(error) bool
	// Sleep waits between attempts. Nil waits on a timer that honors ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0, n). Nil uses math/rand/v2.
	Rand func(n int64) int64
}

// DefaultPolicy returns a three attempt policy with the default delays.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Jitter:      DefaultJitter,
	}
}

// WithMaxAttempts returns a copy of p with a different attempt budget.
func (p Policy) WithMaxAttempts(attempts int) Policy {
	p.MaxAttempts = attempts
	return p
}

// Execute runs op until it succeeds, the budget runs out or the error is not
// retryable. The last error is returned as produced by op. attempt starts
// at 1.
func (p Policy) Execute(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	_, err := Do(ctx, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	})
	return err
}

// Do is the value returning form of Execute.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}
		value, err := op(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if attempt == attempts || !p.retryable(err) {
			break
		}
		if sleepErr := p.sleep(ctx, p.Delay(attempt)); sleepErr != nil {
			break
		}
	}
	return zero, lastErr
}

// Delay is the wait after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay * time.Duration(attempt)
	if delay < 0 {
		delay = 0
	}
	if p.Jitter > 0 {
		delay += time.Duration(p.random(int64(p.Jitter)))
	}
	return delay
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return core.IsRetryable(err)
}

func (p Policy) random(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if p.Rand != nil {
		value := p.Rand(n)
		if value < 0 || value >= n {
			return 0
		}
		return value
	}
	return rand.Int64N(n)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
