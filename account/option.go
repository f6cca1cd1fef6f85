package account

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/dmbox/auth"
)

// Limits on account credentials.
const (
	MaxUsernameLength = 64
	MinPasswordLength = 8
)

type options struct {
	logger      *slog.Logger
	hasher      *auth.Hasher
	invalidator Invalidator
	clock       func() time.Time
}

// Option configures a Service.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.hasher == nil {
		o.hasher = auth.NewHasher(0)
	}
	return o
}

func (o *options) now() time.Time {
	return o.clock().UTC().Truncate(time.Microsecond)
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHasher sets the password hasher. Defaults to bcrypt.DefaultCost.
func WithHasher(h *auth.Hasher) Option {
	return func(o *options) {
		if h != nil {
			o.hasher = h
		}
	}
}

// WithInvalidator registers a cache to drop users from when they change.
func WithInvalidator(inv Invalidator) Option {
	return func(o *options) {
		o.invalidator = inv
	}
}

// WithClock sets the time source for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}
