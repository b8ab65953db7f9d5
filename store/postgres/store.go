// Package postgres provides a PostgreSQL implementation of store.Store.
//
// Flags are toggled with a single UPDATE ... RETURNING statement that writes
// only the flag's columns. Draft edits and sends lock the row with
// SELECT ... FOR UPDATE inside a transaction, validate it, then write it.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/campusmail/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Open prepares a lib/pq connection pool for dsn and a store using it. No
// connection is made until Connect. Close the returned *sqlx.DB when done.
func Open(dsn string, opts ...Option) (*Store, *sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres open: %w", err)
	}
	return New(db, opts...), db, nil
}

// Connect verifies the connection and, unless schema migration is disabled,
// initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if s.opts.migrate {
		if err := s.ensureSchema(ctx); err != nil {
			atomic.StoreInt32(&s.connected, 0)
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	s.logger.Info("connected to PostgreSQL", "table", s.opts.table, "migrate", s.opts.migrate)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the messages table and its indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	t := s.opts.table
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			subject TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			sender_id VARCHAR(255) NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			sender_role VARCHAR(64) NOT NULL DEFAULT '',
			receiver_id VARCHAR(255) NOT NULL DEFAULT '',
			receiver_name TEXT NOT NULL DEFAULT '',
			receiver_role VARCHAR(64) NOT NULL DEFAULT '',
			priority VARCHAR(16) NOT NULL DEFAULT 'NORMAL',
			category VARCHAR(32) NOT NULL DEFAULT 'GENERAL',
			is_draft BOOLEAN NOT NULL DEFAULT TRUE,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			read_at TIMESTAMPTZ,
			is_starred BOOLEAN NOT NULL DEFAULT FALSE,
			is_archived BOOLEAN NOT NULL DEFAULT FALSE,
			thread_id VARCHAR(255) NOT NULL DEFAULT '',
			reply_to_id VARCHAR(255) NOT NULL DEFAULT '',
			scheduled_for TIMESTAMPTZ,
			attachments JSONB NOT NULL DEFAULT '[]',
			seq BIGSERIAL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, t)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_receiver ON %s(receiver_id, is_draft, created_at DESC)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sender ON %s(sender_id, is_draft, created_at DESC)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_thread ON %s(thread_id) WHERE thread_id <> ''`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_starred ON %s(is_starred) WHERE is_starred`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_archived ON %s(is_archived) WHERE is_archived`, t, t),
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// withTx runs fn in a transaction, committing when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
