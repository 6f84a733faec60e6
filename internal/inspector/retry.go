package inspector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy controls how transient remote failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy doubles 200ms -> 400ms -> 800ms across four attempts.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, BaseDelay: 200 * time.Millisecond}

// retry executes fn until it succeeds, fails with a non-transient error, or
// attempts run out. Exhausted transient failures are reported as ErrUnavailable.
func retry[V any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (V, error)) (V, error) {
	var zero V
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		wait := delay
		if delay > 1 {
			// jitter of 0-50% to avoid synchronized retries across components
			wait += time.Duration(rand.Int63n(int64(delay/2) + 1))
		}
		select {
		case <-ctx.Done():
			return zero, lastErr
		case <-time.After(wait):
		}
		delay *= 2
	}
	return zero, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}
