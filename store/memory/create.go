package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/campusmail/store"
)

// Create validates msg and stores a copy under a new ID.
func (s *Store) Create(ctx context.Context, msg *store.Message) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := msg.Clone()
	if err := store.PrepareCreate(m); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m.ID = uuid.New().String()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.SyncReadAt(now)

	s.messages.Store(m.ID, &entry{msg: m, seq: s.seq.Add(1)})
	return m.Clone(), nil
}
