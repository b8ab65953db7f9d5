// Package identity provides campusmail.IdentityProvider implementations.
package identity

import (
	"context"
	"fmt"

	"github.com/rbaliyan/campusmail"
	"github.com/rbaliyan/campusmail/store"
)

// Static is a map-based IdentityProvider for tests and small deployments
// whose directory fits in configuration. Safe for concurrent use (read-only
// after creation).
type Static struct {
	users map[string]store.Identity
}

// NewStatic creates a Static provider from the given identities, keyed by ID.
// Later entries with a duplicate ID replace earlier ones.
func NewStatic(users ...store.Identity) *Static {
	m := make(map[string]store.Identity, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &Static{users: m}
}

// Resolve returns the identity for userID.
func (s *Static) Resolve(_ context.Context, userID string) (store.Identity, error) {
	u, ok := s.users[userID]
	if !ok {
		return store.Identity{}, fmt.Errorf("%w: %s", campusmail.ErrIdentityNotFound, userID)
	}
	return u, nil
}

// Len returns the number of known users.
func (s *Static) Len() int {
	return len(s.users)
}

var _ campusmail.IdentityProvider = (*Static)(nil)
