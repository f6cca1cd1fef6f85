// Package retry runs idempotent store operations with exponential backoff.
//
// The messaging core uses it for best-effort side effects, such as marking
// deliveries received, that must not fail the read they accompany.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Config configures retry behavior. The zero value retries twice with
// 50ms initial backoff.
type Config struct {
	// Attempts is the total number of calls, including the first.
	Attempts int

	// Backoff is the delay after the first failed attempt.
	Backoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// Jitter is the fraction of each delay that is randomized, in [0, 1].
	Jitter float64

	// IsRetryable decides whether an error is worth another attempt.
	// Errors wrapped with MarkNotRetryable are never retried.
	IsRetryable func(error) bool

	// OnRetry is called before each sleep with the failed attempt number
	// (starting at 1), its error and the delay that follows.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Defaults applied to zero Config fields.
const (
	DefaultAttempts   = 3
	DefaultBackoff    = 50 * time.Millisecond
	DefaultMaxBackoff = 2 * time.Second
)

var (
	// ErrNotRetryable is matched when an attempt failed with a permanent error.
	ErrNotRetryable = errors.New("retry: not retryable")

	// ErrExhausted is matched when every attempt failed.
	ErrExhausted = errors.New("retry: attempts exhausted")

	// ErrCanceled is matched when the context ended between attempts.
	ErrCanceled = errors.New("retry: canceled")
)

// Do calls fn until it succeeds, returns a permanent error, the attempts
// run out, or ctx ends. Failures are reported as *RetryError.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var last error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &RetryError{Attempts: attempt - 1, Reason: ErrCanceled, Cause: firstNonNil(last, err)}
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !retryable(cfg, last) {
			return &RetryError{Attempts: attempt, Reason: ErrNotRetryable, Cause: last}
		}
		if attempt == cfg.Attempts {
			break
		}

		delay := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, last, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return &RetryError{Attempts: attempt, Reason: ErrCanceled, Cause: last}
		case <-t.C:
		}
	}
	return &RetryError{Attempts: cfg.Attempts, Reason: ErrExhausted, Cause: last}
}

// DoWithResult is Do for functions that produce a value.
// The value of the last successful call is returned.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// RetryError describes a call that never succeeded.
type RetryError struct {
	Attempts int
	Reason   error // ErrExhausted, ErrNotRetryable or ErrCanceled
	Cause    error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", e.Reason, e.Attempts, e.Cause)
}

func (e *RetryError) Unwrap() []error {
	return []error{e.Reason, e.Cause}
}

// MarkNotRetryable wraps err so Do stops immediately.
func MarkNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func retryable(cfg Config, err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return cfg.IsRetryable(err)
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = c.Backoff
	}
	c.Jitter = math.Min(math.Max(c.Jitter, 0), 1)
	if c.IsRetryable == nil {
		c.IsRetryable = func(error) bool { return true }
	}
	return c
}

// delay doubles the backoff per failed attempt, capped and jittered.
func (c Config) delay(attempt int) time.Duration {
	d := float64(c.Backoff) * math.Exp2(float64(attempt-1))
	d = math.Min(d, float64(c.MaxBackoff))
	if c.Jitter > 0 {
		spread := d * c.Jitter
		d += (rand.Float64()*2 - 1) * spread
	}
	return time.Duration(d)
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
