package memory

import (
	"context"
	"time"

	"github.com/rbaliyan/campusmail/store"
)

// mutate runs fn on a private copy of message id while holding the
// message's lock, then publishes the copy. fn returning an error leaves the
// stored message untouched.
func (s *Store) mutate(ctx context.Context, id string, fn func(m *store.Message, now time.Time) error) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := s.getMsgLock(id)
	lock.Lock()
	defer lock.Unlock()

	e, ok := s.load(id)
	if !ok {
		return nil, store.ErrNotFound
	}

	m := e.msg.Clone()
	if err := fn(m, time.Now().UTC()); err != nil {
		return nil, err
	}
	s.messages.Store(id, &entry{msg: m, seq: e.seq})
	return m.Clone(), nil
}

// UpdateDraft applies a partial edit to a draft.
func (s *Store) UpdateDraft(ctx context.Context, id string, update store.DraftUpdate) (*store.Message, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(m *store.Message, now time.Time) error {
		if !m.IsDraft {
			return store.ErrNotADraft
		}
		update.Apply(m, now)
		return nil
	})
}

// SetFlag toggles one flag. Only that flag's fields change.
func (s *Store) SetFlag(ctx context.Context, id string, flag store.Flag) (*store.Message, error) {
	if !flag.Valid() {
		return nil, store.ErrInvalidArgument
	}
	return s.mutate(ctx, id, func(m *store.Message, now time.Time) error {
		flag.Apply(m, now)
		return nil
	})
}

// Send moves a draft to the sent state after re-validating it.
func (s *Store) Send(ctx context.Context, id string) (*store.Message, error) {
	return s.mutate(ctx, id, func(m *store.Message, now time.Time) error {
		if !m.IsDraft {
			return store.ErrNotADraft
		}
		if err := store.ValidateForSend(m); err != nil {
			return err
		}
		m.IsDraft = false
		m.UpdatedAt = now
		return nil
	})
}

// Delete permanently removes a message.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.getMsgLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, loaded := s.messages.LoadAndDelete(id); !loaded {
		return store.ErrNotFound
	}
	s.msgLocks.Delete(id)
	return nil
}
