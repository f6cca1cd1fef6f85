package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastConfig() Config {
	return Config{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDo(t *testing.T) {
	t.Run("succeeds first try", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func(context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		var retried []int
		cfg := fastConfig()
		cfg.OnRetry = func(attempt int, err error, _ time.Duration) {
			retried = append(retried, attempt)
		}
		err := Do(context.Background(), cfg, func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
			t.Errorf("expected retries [1 2], got %v", retried)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func(context.Context) error {
			calls++
			return errTransient
		})
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
		if !errors.Is(err, ErrExhausted) || !errors.Is(err, errTransient) {
			t.Errorf("expected exhausted wrapping cause, got %v", err)
		}
		var re *RetryError
		if !errors.As(err, &re) || re.Attempts != 3 {
			t.Errorf("expected RetryError with 3 attempts, got %v", err)
		}
	})

	t.Run("permanent error stops", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func(context.Context) error {
			calls++
			return MarkNotRetryable(errTransient)
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
		if !errors.Is(err, ErrNotRetryable) || !errors.Is(err, errTransient) {
			t.Errorf("expected not retryable wrapping cause, got %v", err)
		}
	})

	t.Run("custom classifier", func(t *testing.T) {
		cfg := fastConfig()
		cfg.IsRetryable = func(err error) bool { return !errors.Is(err, errTransient) }
		calls := 0
		_ = Do(context.Background(), cfg, func(context.Context) error {
			calls++
			return errTransient
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Do(ctx, fastConfig(), func(context.Context) error {
			calls++
			return nil
		})
		if calls != 0 {
			t.Errorf("expected 0 calls, got %d", calls)
		}
		if !errors.Is(err, ErrCanceled) {
			t.Errorf("expected ErrCanceled, got %v", err)
		}
	})

	t.Run("canceled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := Config{Attempts: 5, Backoff: time.Hour}
		cfg.OnRetry = func(int, error, time.Duration) { cancel() }
		err := Do(ctx, cfg, func(context.Context) error { return errTransient })
		if !errors.Is(err, ErrCanceled) || !errors.Is(err, errTransient) {
			t.Errorf("expected canceled wrapping cause, got %v", err)
		}
	})
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	n, err := DoWithResult(context.Background(), fastConfig(), func(context.Context) (int64, error) {
		calls++
		if calls == 1 {
			return 0, errTransient
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7, got %d", n)
	}
}

func TestDelay(t *testing.T) {
	cfg := Config{Backoff: 10 * time.Millisecond, MaxBackoff: 25 * time.Millisecond}.withDefaults()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 25 * time.Millisecond},
		{10, 25 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := cfg.delay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	cfg := Config{Backoff: 100 * time.Millisecond, Jitter: 0.5}.withDefaults()
	for i := 0; i < 100; i++ {
		d := cfg.delay(1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("expected delay within [50ms, 150ms], got %v", d)
		}
	}
}
