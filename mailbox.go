package dmbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/dmbox/store"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"
)

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// errInvalidCaller is returned by clients bound to an unusable user ID.
// It matches both ErrNotConnected and ErrInvalidUserID.
var errInvalidCaller = fmt.Errorf("%w: %w", ErrNotConnected, ErrInvalidUserID)

// service is the default implementation of Service.
type service struct {
	store     store.Store
	directory Directory
	logger    *slog.Logger
	opts      *options
	state     int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins   *pluginRegistry
	otel      *otelInstrumentation
	sendSem   *semaphore.Weighted // Limits concurrent sends
	eventBus  *event.Bus
	events    *ServiceEvents
}

// NewService creates a new messaging service.
// Call Connect() before using clients.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:     o.store,
		directory: o.directory,
		logger:    o.logger,
		opts:      o,
		plugins:   plugins,
		otel:      otelInstr,
		sendSem:   semaphore.NewWeighted(int64(o.maxConcurrentSends)),
	}, nil
}

// Events returns per-service event instances. Nil before Connect.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect connects the store, the event bus and plugins, in that order.
func (s *service) Connect(ctx context.Context) error {
	// stateDisconnected -> stateConnecting -> stateConnected, so Client()
	// never observes a half-initialized service.
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		_ = s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		if s.ownsBus() {
			_ = s.eventBus.Close(ctx)
		}
		_ = s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("dmbox service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

func (s *service) initEventBus(ctx context.Context) error {
	busName := fmt.Sprintf("%s-%d", s.opts.serviceName, atomic.AddInt64(&busCounter, 1))

	var (
		bus *event.Bus
		err error
	)
	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, terr := eventredis.New(s.opts.redisClient)
		if terr != nil {
			return fmt.Errorf("create redis transport: %w", terr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}

	events := newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, events); err != nil {
		_ = bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	s.eventBus = bus
	s.events = events
	return nil
}

// ownsBus reports whether the bus holds transport resources to release.
func (s *service) ownsBus() bool {
	return s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil)
}

// Close waits up to the shutdown timeout for in-flight sends, then closes
// plugins, the event bus and the store.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// New sends fail checkAccess from here on; acquiring every slot waits
	// for the ones already running.
	s.logger.Info("waiting for in-flight sends to complete", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer cancel()
	if err := s.sendSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentSends)); err != nil {
		s.logger.Warn("timeout waiting for in-flight sends, proceeding with shutdown", "error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.sendSem.Release(int64(s.opts.maxConcurrentSends))
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if s.ownsBus() {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns a mailbox client for the given user.
func (s *service) Client(userID string) Mailbox {
	return &userMailbox{
		userID:      userID,
		service:     s,
		validUserID: isValidUserID(userID),
	}
}

// isValidUserID rejects empty IDs and IDs with characters that are unsafe
// in cache keys or logs.
func isValidUserID(userID string) bool {
	if userID == "" {
		return false
	}
	for _, c := range userID {
		if c == '*' || c == ':' || c == '/' || c == '\\' || c == ' ' || c < 32 || c == 127 {
			return false
		}
	}
	return true
}

// userMailbox is a Mailbox bound to one user.
type userMailbox struct {
	userID      string
	service     *service
	validUserID bool // set by Client() after validation
}

// UserID returns the user ID of this mailbox.
func (m *userMailbox) UserID() string {
	return m.userID
}

// checkAccess verifies the mailbox is ready for operations.
func (m *userMailbox) checkAccess() error {
	if atomic.LoadInt32(&m.service.state) != stateConnected {
		return ErrNotConnected
	}
	if !m.validUserID {
		return errInvalidCaller
	}
	return nil
}
