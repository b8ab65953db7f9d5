package campusmail

import (
	"context"

	"github.com/rbaliyan/campusmail/store"
)

// IdentityProvider maps user IDs to the identity stamped on messages.
// Implementations should be safe for concurrent use.
//
// The provider backs ClientFor and fills in a receiver's name and role when
// Compose is given only the receiver's ID.
type IdentityProvider interface {
	// Resolve returns the identity for userID.
	// Returns an error wrapping ErrIdentityNotFound if the user is unknown.
	Resolve(ctx context.Context, userID string) (store.Identity, error)
}

// IdentityProviderFunc adapts a function to IdentityProvider.
type IdentityProviderFunc func(ctx context.Context, userID string) (store.Identity, error)

// Resolve calls f.
func (f IdentityProviderFunc) Resolve(ctx context.Context, userID string) (store.Identity, error) {
	return f(ctx, userID)
}
