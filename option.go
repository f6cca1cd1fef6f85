package dmbox

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/dmbox/retry"
	"github.com/rbaliyan/dmbox/store"
	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second  // minimum shutdown timeout

	// Default message limits
	DefaultMaxRecipients = 100    // max distinct recipients per message
	DefaultMaxTextLength = 10_000 // max text length in runes

	// Concurrency limits
	DefaultMaxConcurrentSends = 10 // max concurrent send operations per service

	DefaultServiceName = "dmbox"
)

// options holds service configuration.
type options struct {
	store     store.Store
	directory Directory
	logger    *slog.Logger
	clock     func() time.Time

	plugins []Plugin

	// Message limits
	maxRecipients int
	maxTextLength int

	// Concurrency limits
	maxConcurrentSends int

	// Shutdown
	shutdownTimeout time.Duration

	// Mark-received retry policy
	markReceivedRetry retry.Config

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool                    // If true, event publishing failures are returned to the caller
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "MessageSent").
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// now returns the current time in UTC, truncated to microseconds so values
// survive a round trip through PostgreSQL unchanged.
func (o *options) now() time.Time {
	return o.clock().UTC().Truncate(time.Microsecond)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:             slog.Default(),
		clock:              time.Now,
		maxRecipients:      DefaultMaxRecipients,
		maxTextLength:      DefaultMaxTextLength,
		maxConcurrentSends: DefaultMaxConcurrentSends,
		shutdownTimeout:    DefaultShutdownTimeout,
		serviceName:        DefaultServiceName,
		markReceivedRetry: retry.Config{
			Attempts: 3,
			Backoff:  25 * time.Millisecond,
			Jitter:   0.2,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.directory == nil && o.store != nil {
		o.directory = o.store
	}
	if o.onEventPublishFailure == nil {
		logger := o.logger
		o.onEventPublishFailure = func(eventName string, err error) {
			logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}
	return o
}

// Option configures the messaging service.
type Option func(*options)

// WithStore sets the storage backend. Required.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithDirectory sets the user lookup used to validate recipients and
// resolve usernames. Defaults to the store itself.
//
// Use resolver.NewCached to put a Redis cache in front of the store.
func WithDirectory(d Directory) Option {
	return func(o *options) {
		if d != nil {
			o.directory = d
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

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- Limits ---

// WithMaxRecipients sets the maximum number of distinct recipients per message.
// Default is 100.
func WithMaxRecipients(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRecipients = n
		}
	}
}

// WithMaxTextLength sets the maximum message text length in runes.
// Default is 10000.
func WithMaxTextLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTextLength = n
		}
	}
}

// WithMaxConcurrentSends sets the maximum number of concurrent send operations.
// Default is 10.
func WithMaxConcurrentSends(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentSends = n
		}
	}
}

// WithShutdownTimeout sets the maximum time Close waits for in-flight sends.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// WithMarkReceivedRetry sets the retry policy for marking deliveries
// received during List.
func WithMarkReceivedRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.markReceivedRetry = cfg
	}
}

// --- OpenTelemetry Options ---

// WithTracing enables or disables OpenTelemetry tracing.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for the event bus and
// instrumentation. Default is "dmbox".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom tracer provider.
// If not set, the global tracer provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom meter provider.
// If not set, the global meter provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures are
// returned to the caller. The operation itself is never rolled back.
// Default is false: failures are reported to the failure handler only.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport.
// If neither this nor WithRedisClient is set, events are dropped.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient publishes events to Redis Streams.
// WithEventTransport takes precedence when both are set.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
