package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rbaliyan/dmbox/internal/metrics"
	"golang.org/x/time/rate"
)

// Rate limit scopes.
const (
	ScopeUser = "user"
	ScopeIP   = "ip"
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	PerMinute       int
	Burst           int
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig allows 120 requests per minute per key.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{PerMinute: 120, Burst: 120, CleanupInterval: 5 * time.Minute}
}

type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter holds a token bucket per key. Idle buckets are dropped by a
// background loop until Stop is called.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	logger  *slog.Logger
	metrics metrics.Recorder

	mu       sync.Mutex
	limiters map[string]*keyedLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter starts a RateLimiter. rec may be nil.
func NewRateLimiter(cfg RateLimiterConfig, logger *slog.Logger, rec metrics.Recorder) *RateLimiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = DefaultRateLimiterConfig().PerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.PerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimiterConfig().CleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		limit:    rate.Limit(float64(cfg.PerMinute) / 60.0),
		burst:    cfg.Burst,
		ttl:      2 * cfg.CleanupInterval,
		logger:   logger,
		metrics:  rec,
		limiters: make(map[string]*keyedLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop(cfg.CleanupInterval)
	return rl
}

// Stop ends the cleanup loop. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// PerUser limits authenticated requests by user ID. It must run after
// Authenticate.
func (rl *RateLimiter) PerUser() func(next http.Handler) http.Handler {
	return rl.middleware(ScopeUser, func(r *http.Request) (string, bool) {
		return UserIDFromContext(r.Context())
	})
}

// PerIP limits requests by client address.
func (rl *RateLimiter) PerIP() func(next http.Handler) http.Handler {
	return rl.middleware(ScopeIP, func(r *http.Request) (string, bool) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		return host, host != ""
	})
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) middleware(scope string, keyFn func(*http.Request) (string, bool)) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyFn(r)
			if !ok {
				WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid credentials")
				return
			}
			if !rl.get(scope + ":" + key).Allow() {
				rl.logger.Warn("rate limit exceeded", "scope", scope, "key", key)
				if rl.metrics != nil {
					rl.metrics.RecordRateLimited(scope)
				}
				w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
				WriteError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	kl, ok := rl.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = kl
	}
	kl.lastAccess = time.Now()
	return kl.limiter
}

// retryAfterSeconds estimates the wait for one token to refill.
func (rl *RateLimiter) retryAfterSeconds() int {
	s := int(math.Ceil(1.0 / float64(rl.limit)))
	if s < 1 {
		s = 1
	}
	return s
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, kl := range rl.limiters {
		if now.Sub(kl.lastAccess) > rl.ttl {
			delete(rl.limiters, key)
		}
	}
}
