package core

import (
	"context"
	"time"
)

// =============================================================================
// OPTIMISTIC CONCURRENCY RETRY
// =============================================================================

// RetryPolicy bounds how often a unit of work is rerun after losing an
// optimistic version check. The wait before retry n is n × Backoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration

	// OnRetry is called before each retry with the attempt about to run.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy retries three times with 20ms linear backoff.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, Backoff: 20 * time.Millisecond}

// Retry runs fn until it succeeds, fails with a non-retryable error, the
// context ends, or the retry budget is spent. A spent budget returns a
// ConcurrencyConflict error, which is itself not retryable.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * p.Backoff):
			}
		}

		err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return Errorf(KindConcurrencyConflict, "retry budget exhausted after %d attempts: %v", p.MaxRetries+1, err).
		With("attempts", p.MaxRetries+1)
}
