package sefaria

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy is an explicit policy value so backoff behavior is testable
// without any network in sight.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Backoff returns the delay after the given zero-based attempt: base * 2^n.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * (1 << attempt)
}

// statusError marks an upstream HTTP status worth reporting. Only 5xx
// statuses are retryable; anything else fails the call immediately.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.status, e.body)
}

func (e *statusError) retryable() bool { return e.status >= 500 }

// retryable reports whether err is worth another attempt: connection-level
// failures, per-attempt timeouts, and 5xx statuses are. Deadline errors stay
// retryable here because the HTTP client's per-attempt timeout surfaces as
// context.DeadlineExceeded; the caller's own cancellation is caught in
// callWithRetry by inspecting the parent context directly.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	return !errors.Is(err, context.Canceled)
}

// callWithRetry runs fn up to policy.MaxAttempts times, sleeping the policy's
// backoff between attempts. Backoff suspends only this call; concurrent
// operations proceed.
func callWithRetry(ctx context.Context, policy RetryPolicy, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, policy.Backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		body, err := fn(ctx)
		if err == nil {
			return body, nil
		}
		lastErr = err
		// The parent context going away means the caller is gone, no
		// matter how the attempt's error is classified.
		if !retryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
