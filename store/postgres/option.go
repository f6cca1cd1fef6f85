package postgres

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout = 10 * time.Second
)

// options holds PostgreSQL store configuration.
type options struct {
	timeout     time.Duration
	logger      *slog.Logger
	autoMigrate bool
}

func newOptions(opts ...Option) *options {
	o := &options{
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
		autoMigrate: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithTimeout sets the per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAutoMigrate controls whether Connect applies pending migrations.
// Enabled by default. Disable it when migrations run as a separate step.
func WithAutoMigrate(enabled bool) Option {
	return func(o *options) {
		o.autoMigrate = enabled
	}
}
