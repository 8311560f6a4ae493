// Package retry wraps fallible async operations in bounded
// retry-with-exponential-backoff. Failures come back as a discriminated
// Result rather than a bare error so callers can branch on terminality
// without inspecting error types.
package retry

import (
	"context"
	"errors"
	"time"
)

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
}

// Result reports the outcome of a retried operation. Exactly one of Value
// (Success true) or Err (Success false) is meaningful.
type Result[T any] struct {
	Success  bool
	Value    T
	Err      error
	Attempts int
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable. Validation and
// server-confirmed failures are wrapped with this so only transient
// failures burn retry attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Delay computes the backoff before the given zero-based attempt:
// min(base * 2^attempt, max).
func Delay(cfg Config, attempt int) time.Duration {
	d := cfg.BaseDelay << uint(attempt)
	if d > cfg.MaxDelay || d <= 0 {
		return cfg.MaxDelay
	}
	return d
}

// Do runs op up to cfg.MaxAttempts times, sleeping Delay between failures.
// It stops early on permanent errors and context cancellation. The returned
// Result never panics out of the helper; op's error is unwrapped from any
// Permanent marker before being surfaced.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) Result[T] {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(Delay(cfg, attempt-1)):
			case <-ctx.Done():
				return Result[T]{Err: ctx.Err(), Attempts: attempt}
			}
		}

		v, err := op(ctx)
		if err == nil {
			return Result[T]{Success: true, Value: v, Attempts: attempt + 1}
		}
		lastErr = err

		var pe *permanentError
		if errors.As(err, &pe) {
			return Result[T]{Err: pe.err, Attempts: attempt + 1}
		}
		if ctx.Err() != nil {
			return Result[T]{Err: err, Attempts: attempt + 1}
		}
	}

	return Result[T]{Err: lastErr, Attempts: cfg.MaxAttempts}
}
