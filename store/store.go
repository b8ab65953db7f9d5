// Package store provides interfaces and types for mailbox storage.
// Implementations are in store/memory, store/postgres, and store/mongo.
//
// # Atomicity Without Distributed Locks
//
// Every mutation is a single atomic step on one message. Backends get there
// with the primitives their engine already offers rather than with an
// external lock service:
//
//  1. memory: a mutex per message ID plus copy-on-write replacement, so a
//     reader sees either the whole old message or the whole new one.
//  2. postgres: single-statement UPDATE ... RETURNING for flags, and
//     SELECT ... FOR UPDATE inside a transaction where a mutation must
//     validate the current row first (send, draft edits).
//  3. mongo: $set of only the toggled field for flags, and a version-checked
//     conditional update where a mutation must validate first.
//
// Flags are written field by field. Two writers toggling different flags on
// the same message never overwrite each other; two writers toggling the same
// flag are ordered by the backend and the last one wins.
//
// # Folders
//
// Folders are not stored. Each folder is a predicate over a message's
// participants and flags (see FolderFilter). Listing and counting evaluate
// the same predicate trees, so a count always equals the total of the
// matching listing.
package store

import (
	"context"
)

// Store is the storage interface for the mailbox.
//
// All operations must be safe for concurrent use.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	MessageStore
	QueryStore
}

// MessageStore owns creation, mutation, and deletion of messages.
type MessageStore interface {
	// Create validates and stores msg, assigning ID, CreatedAt and UpdatedAt.
	// Drafts need a complete sender; sent messages need every required field.
	// ThreadID and ReplyToID are stored as given.
	Create(ctx context.Context, msg *Message) (*Message, error)

	// Get retrieves a message by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (*Message, error)

	// UpdateDraft applies a partial edit to a draft.
	// Returns ErrNotFound if missing and ErrNotADraft if already sent.
	UpdateDraft(ctx context.Context, id string, update DraftUpdate) (*Message, error)

	// SetFlag atomically toggles one flag and returns the resulting message.
	SetFlag(ctx context.Context, id string, flag Flag) (*Message, error)

	// Send moves a draft to the sent state after re-validating it.
	// Returns ErrNotADraft if the message was already sent.
	Send(ctx context.Context, id string) (*Message, error)

	// Delete permanently removes a message.
	Delete(ctx context.Context, id string) error
}

// QueryStore answers folder listings and counts without mutating state.
type QueryStore interface {
	// List returns one page of q's folder, newest first.
	List(ctx context.Context, q Query) (*Page, error)

	// Counts returns per-folder totals for viewerID.
	Counts(ctx context.Context, viewerID string) (*Counts, error)
}
