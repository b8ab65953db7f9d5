// Package thread assigns thread identifiers to replies.
//
// A reply joins the thread of its immediate parent. The parent's thread ID is
// already resolved when the parent was created, so one lookup is enough no
// matter how long the reply chain grows. The first reply to a root message
// starts the thread and uses the root's ID.
package thread

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/campusmail/store"
)

// Lookup fetches a message by ID. store.Store satisfies it.
type Lookup interface {
	Get(ctx context.Context, id string) (*store.Message, error)
}

// Resolver computes the thread ID for a new message.
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a resolver that reads parents through lookup.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns the thread ID for a message replying to replyToID.
// An empty replyToID yields an empty thread ID. A missing parent yields
// store.ErrNotFound; no fallback root is guessed.
func (r *Resolver) Resolve(ctx context.Context, replyToID string) (string, error) {
	if replyToID == "" {
		return "", nil
	}
	parent, err := r.lookup.Get(ctx, replyToID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("reply parent %s: %w", replyToID, store.ErrNotFound)
		}
		return "", fmt.Errorf("load reply parent: %w", err)
	}
	return Of(parent), nil
}

// Of returns the thread a reply to parent belongs to.
func Of(parent *store.Message) string {
	if parent.ThreadID != "" {
		return parent.ThreadID
	}
	return parent.ID
}
