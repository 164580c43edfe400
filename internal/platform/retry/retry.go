// Package retry runs store operations again when they lose an optimistic concurrency race.
package retry

import (
	"context"
	"time"
)

// Backoff returns the wait before the given retry. attempt starts at 1 for the
// wait that follows the first failed attempt.
type Backoff func(attempt int) time.Duration

// Linear waits step, 2*step, 3*step, ...
func Linear(step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Exponential doubles base on every attempt, capped at ceiling when ceiling > 0.
func Exponential(base, ceiling time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if ceiling > 0 && d >= ceiling {
				return ceiling
			}
		}
		if ceiling > 0 && d > ceiling {
			return ceiling
		}
		return d
	}
}

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
	// OnRetry is called before each wait; optional.
	OnRetry func(attempt int, err error)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return "retry: attempts exhausted: " + e.Err.Error()
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs fn until it succeeds, fails with a non-retryable error, the context ends or
// MaxAttempts is reached. fn receives the 1-based attempt number.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := sleep(ctx, p.wait(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func (p Policy) wait(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
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
