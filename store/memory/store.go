// Package memory provides an in-memory Store implementation.
// Data is not persisted; use it for tests and single-process deployments.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/campusmail/store"
)

// entry is an immutable snapshot of a stored message. Mutations replace the
// entry instead of editing it, so concurrent readers always see a whole
// message.
type entry struct {
	msg *store.Message
	seq uint64 // insertion order, breaks CreatedAt ties
}

// Store implements store.Store with in-memory storage.
// Safe for concurrent use.
type Store struct {
	messages  sync.Map // map[string]*entry
	msgLocks  sync.Map // map[string]*sync.Mutex (per-message locks for mutations)
	seq       atomic.Uint64
	connected int32
}

var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{}
}

// getMsgLock returns the mutex for a message ID, creating one if needed.
func (s *Store) getMsgLock(id string) *sync.Mutex {
	lock, _ := s.msgLocks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected. Stored messages are kept, so a
// closed store can be connected again.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// load returns the current snapshot for id.
func (s *Store) load(id string) (*entry, bool) {
	v, ok := s.messages.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	n := 0
	s.messages.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
