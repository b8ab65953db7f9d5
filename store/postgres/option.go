package postgres

import (
	"log/slog"
	"time"
)

// Defaults for a campusmail PostgreSQL store.
const (
	DefaultTable   = "messages"
	DefaultTimeout = 10 * time.Second
)

type options struct {
	table   string
	timeout time.Duration
	migrate bool
	logger  *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		table:   DefaultTable,
		timeout: DefaultTimeout,
		migrate: true,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL message store.
type Option func(*options)

// WithTable sets the table holding messages. Attachments live in a JSONB
// column of the same table.
func WithTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.table = name
		}
	}
}

// WithTimeout bounds every statement and transaction.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithSchemaMigration controls whether Connect creates the messages table
// and its folder indexes. Disable it when the schema is managed elsewhere
// and the service role lacks DDL rights.
func WithSchemaMigration(enabled bool) Option {
	return func(o *options) {
		o.migrate = enabled
	}
}

// WithLogger sets the logger for connection and schema events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
