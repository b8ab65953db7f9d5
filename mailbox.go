package campusmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/campusmail/retry"
	"github.com/rbaliyan/campusmail/store"
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

// service is the default implementation of Service.
type service struct {
	store       store.Store
	attachments store.AttachmentSource
	identities  IdentityProvider
	logger      *slog.Logger
	opts        *options
	state       int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins     *pluginRegistry
	otel        *otelInstrumentation
	sendSem     *semaphore.Weighted // Limits concurrent sends
	eventBus    *event.Bus
	events      *ServiceEvents
}

// NewService creates a new campusmail service.
// Call Connect() to establish connections to backends.
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
		store:       o.store,
		attachments: o.attachments,
		identities:  o.identities,
		logger:      o.logger,
		opts:        o,
		plugins:     plugins,
		otel:        otelInstr,
		sendSem:     semaphore.NewWeighted(int64(o.maxConcurrentSends)),
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// stateDisconnected -> stateConnecting -> stateConnected, so Client()
	// never sees partial initialization.
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

	if err := s.connectStore(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("campusmail service connected")
	return nil
}

// connectStore connects the store, retrying transient failures when a
// connect retry policy is configured.
func (s *service) connectStore(ctx context.Context) error {
	if s.opts.connectRetry == nil {
		return s.store.Connect(ctx)
	}
	policy := *s.opts.connectRetry
	if policy.Retryable == nil {
		policy.Retryable = func(err error) bool {
			return !errors.Is(err, store.ErrAlreadyConnected) && !errors.Is(err, context.Canceled)
		}
	}
	attempt := 0
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		attempt++
		err := s.store.Connect(ctx)
		if err != nil {
			s.logger.Warn("store connect failed", "attempt", attempt, "error", err)
		}
		return err
	})
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus creates this service's bus and binds its events to it.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "campusmail"
	}
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
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
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	s.eventBus = bus
	s.events = events
	return nil
}

// Close waits for in-flight sends, then closes plugins, the event bus and
// the store.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// No new sends can start once the state is disconnected; holding every
	// semaphore slot means the running ones have finished.
	s.logger.Info("waiting for in-flight sends to complete", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.sendSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentSends)); err != nil {
		s.logger.Warn("timeout waiting for in-flight sends, proceeding with shutdown", "error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.sendSem.Release(int64(s.opts.maxConcurrentSends))
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns a mailbox client acting as who.
func (s *service) Client(who store.Identity) Mailbox {
	return &userMailbox{
		who:         who,
		service:     s,
		validUserID: isValidUserID(who.ID),
	}
}

// ClientFor resolves userID through the identity provider.
func (s *service) ClientFor(ctx context.Context, userID string) (Mailbox, error) {
	if !isValidUserID(userID) {
		return nil, ErrInvalidUserID
	}
	if s.identities == nil {
		return nil, ErrIdentityProviderRequired
	}
	who, err := s.identities.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if who.ID == "" {
		who.ID = userID
	}
	return s.Client(who), nil
}

// isValidUserID checks if a user ID is valid.
// Valid user IDs are non-empty and contain no separators, whitespace or
// control characters.
func isValidUserID(userID string) bool {
	if userID == "" {
		return false
	}
	for _, c := range userID {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			c == ' ' || c == '\t' || c == '\n' || c == '\r' ||
			c < 32 || c == 127 {
			return false
		}
	}
	return true
}

// userMailbox is the default implementation of Mailbox.
type userMailbox struct {
	who         store.Identity
	service     *service
	validUserID bool // set by Client() after validation
}

// UserID returns the viewer's user ID.
func (m *userMailbox) UserID() string {
	return m.who.ID
}

// Identity returns the viewer's identity as stamped on composed messages.
func (m *userMailbox) Identity() store.Identity {
	return m.who
}

func (m *userMailbox) isConnected() bool {
	return atomic.LoadInt32(&m.service.state) == stateConnected
}

// checkAccess verifies the mailbox is ready for operations.
// Returns ErrNotConnected if service isn't connected,
// or ErrInvalidUserID if user ID failed validation.
func (m *userMailbox) checkAccess() error {
	if !m.isConnected() {
		return ErrNotConnected
	}
	if !m.validUserID {
		return ErrInvalidUserID
	}
	return nil
}

// load fetches a message the viewer may see. Messages the viewer does not
// participate in are reported as ErrNotFound so their existence is not revealed.
func (m *userMailbox) load(ctx context.Context, messageID string) (*store.Message, error) {
	if messageID == "" {
		return nil, ErrNotFound
	}
	msg, err := m.service.store.Get(ctx, messageID)
	if err != nil {
		return nil, translate(err)
	}
	if !msg.IsParticipant(m.who.ID) {
		return nil, ErrNotFound
	}
	return msg, nil
}

// loadOwnDraft fetches a draft authored by the viewer.
// A sent message yields ErrNotADraft; someone else's message yields
// ErrForbidden when the viewer participates and ErrNotFound otherwise.
func (m *userMailbox) loadOwnDraft(ctx context.Context, messageID string) (*store.Message, error) {
	msg, err := m.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.IsDraft {
		if msg.Sender.ID != m.who.ID {
			return nil, ErrForbidden
		}
		return nil, ErrNotADraft
	}
	return msg, nil
}
