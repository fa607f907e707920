package query

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// withRetry retries fn while it fails with a connection failure, using
// exponential backoff with jitter. Other kinds are returned immediately.
func withRetry(ctx context.Context, policy Policy, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxConnRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if KindOf(err) != KindConnectionFailure {
			return err
		}
		if attempt == policy.MaxConnRetries {
			break
		}

		delay := calculateBackoff(attempt, policy.RetryBaseDelay, policy.RetryMaxDelay)
		select {
		case <-time.After(delay):
			continue
		case <-ctx.Done():
			return newExecutionError(KindConnectionFailure, fmt.Errorf("cancelled during retry: %w", ctx.Err()))
		}
	}

	return lastErr
}

// calculateBackoff returns baseDelay * 2^attempt capped at maxDelay, with jitter in [0.5, 1.5)
func calculateBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(delay) * jitter)
}
