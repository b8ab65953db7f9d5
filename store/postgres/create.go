package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/campusmail/store"
)

// insertColumns lists the columns written by Create. seq is assigned by
// the database.
var insertColumns = []string{
	"id", "subject", "content",
	"sender_id", "sender_name", "sender_role",
	"receiver_id", "receiver_name", "receiver_role",
	"priority", "category", "is_draft", "is_read", "read_at", "is_starred", "is_archived",
	"thread_id", "reply_to_id", "scheduled_for", "attachments", "created_at", "updated_at",
}

// namedList renders cols as ":col" placeholders for sqlx named queries.
func namedList(cols []string) string {
	named := make([]string, len(cols))
	for i, c := range cols {
		named[i] = ":" + c
	}
	return strings.Join(named, ", ")
}

// now returns the current time at the database's microsecond precision, so
// returned messages compare equal to what a later Get reads back.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Create validates msg and inserts a copy under a new ID.
func (s *Store) Create(ctx context.Context, msg *store.Message) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	m := msg.Clone()
	if err := store.PrepareCreate(m); err != nil {
		return nil, err
	}

	ts := now()
	m.ID = uuid.New().String()
	m.CreatedAt = ts
	m.UpdatedAt = ts
	m.SyncReadAt(ts)

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		s.opts.table, strings.Join(insertColumns, ", "), namedList(insertColumns))
	if _, err := s.db.NamedExecContext(ctx, query, toRow(m)); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return m, nil
}
