package campusmail

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/campusmail/retry"
	"github.com/rbaliyan/campusmail/store"
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
	DefaultMaxSubjectLength   = 998              // RFC 5322 max line length
	DefaultMaxContentSize     = 1 * 1024 * 1024  // 1 MB
	DefaultMaxAttachmentSize  = 25 * 1024 * 1024 // 25 MB per attachment
	DefaultMaxAttachmentCount = 20               // max attachments per message

	// Page sizes
	DefaultPageLimit = 20  // messages per page when the caller gives none
	DefaultMaxLimit  = 100 // upper bound for a caller-supplied page size

	// Concurrency limits
	DefaultMaxConcurrentSends = 10 // max concurrent send operations per service
)

// options holds service configuration.
type options struct {
	store       store.Store
	attachments store.AttachmentSource
	identities  IdentityProvider
	logger      *slog.Logger

	plugins []Plugin

	// Message limits
	maxSubjectLength   int
	maxContentSize     int
	maxAttachmentSize  int64
	maxAttachmentCount int
	blockedMIMETypes   []string

	// Page sizes
	defaultPageLimit int
	maxPageLimit     int

	// Concurrency limits
	maxConcurrentSends int

	// Shutdown
	shutdownTimeout time.Duration

	// Connect retries; nil means a single attempt
	connectRetry *retry.Policy

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool                    // If true, event publishing failures cause operation to fail
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional, uses noop if nil)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "MessageSent"), and err is the publish error.
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

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:             slog.Default(),
		maxSubjectLength:   DefaultMaxSubjectLength,
		maxContentSize:     DefaultMaxContentSize,
		maxAttachmentSize:  DefaultMaxAttachmentSize,
		maxAttachmentCount: DefaultMaxAttachmentCount,
		blockedMIMETypes:   DefaultBlockedMIMETypes(),
		defaultPageLimit:   DefaultPageLimit,
		maxPageLimit:       DefaultMaxLimit,
		maxConcurrentSends: DefaultMaxConcurrentSends,
		shutdownTimeout:    DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.defaultPageLimit > o.maxPageLimit {
		o.defaultPageLimit = o.maxPageLimit
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a Service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
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

// WithIdentityProvider sets the directory used to resolve user IDs into
// display names and roles. It backs ClientFor and receiver completion in Compose.
func WithIdentityProvider(p IdentityProvider) Option {
	return func(o *options) {
		if p != nil {
			o.identities = p
		}
	}
}

// WithAttachmentSource sets where attachment content is read from.
// Without it, OpenAttachment returns ErrAttachmentSourceNotConfigured.
func WithAttachmentSource(src store.AttachmentSource) Option {
	return func(o *options) {
		if src != nil {
			o.attachments = src
		}
	}
}

// WithConnectRetry retries store connection failures during Connect using
// the given policy. By default Connect makes a single attempt.
func WithConnectRetry(p retry.Policy) Option {
	return func(o *options) {
		o.connectRetry = &p
	}
}

// --- Plugin Options ---

// WithPlugin registers a plugin with the service.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for telemetry and the event bus.
// Default is "campusmail".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Message Limit Options ---

// WithMaxContentSize sets the maximum content size in bytes.
// Default is 1 MB.
func WithMaxContentSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxContentSize = n
		}
	}
}

// WithMaxAttachmentSize sets the maximum size per attachment in bytes.
// Default is 25 MB.
func WithMaxAttachmentSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttachmentSize = n
		}
	}
}

// WithMaxSubjectLength sets the maximum subject length in characters.
// Default is 998.
func WithMaxSubjectLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSubjectLength = n
		}
	}
}

// WithMaxAttachmentCount sets the maximum number of attachments per message.
// Default is 20.
func WithMaxAttachmentCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttachmentCount = n
		}
	}
}

// WithBlockedMIMETypes replaces the attachment content types that are refused.
// Patterns may use a wildcard subtype ("application/*"). Calling it with no
// arguments allows every type.
func WithBlockedMIMETypes(types ...string) Option {
	return func(o *options) {
		o.blockedMIMETypes = append([]string(nil), types...)
	}
}

// --- Page Size Options ---

// WithDefaultPageLimit sets the page size used when a listing request gives
// no limit. It is capped to the max page limit.
// Default is 20.
func WithDefaultPageLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultPageLimit = n
		}
	}
}

// WithMaxPageLimit caps caller-supplied page sizes.
// Default is 100.
func WithMaxPageLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPageLimit = n
		}
	}
}

// --- Concurrency Options ---

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

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures should
// cause the operation to fail. By default, event failures are logged but
// the operation succeeds.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// If not provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
// When provided, events are published to Redis Streams.
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
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

// getLimits returns the configured message limits.
func (o *options) getLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength:   o.maxSubjectLength,
		MaxContentSize:     o.maxContentSize,
		MaxAttachmentSize:  o.maxAttachmentSize,
		MaxAttachmentCount: o.maxAttachmentCount,
		BlockedMIMETypes:   o.blockedMIMETypes,
	}
}

// pageLimit resolves a caller-supplied page size.
// Zero picks the default, store.UnlimitedLimit passes through, anything else
// is capped at the max.
func (o *options) pageLimit(n int) int {
	switch {
	case n == 0:
		return o.defaultPageLimit
	case n == store.UnlimitedLimit:
		return n
	case n > o.maxPageLimit:
		return o.maxPageLimit
	}
	return n
}
