package campusmail

import (
	"context"
	"io"

	"github.com/rbaliyan/campusmail/store"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the campus messaging system (server-side).
// It owns the store connection and hands out viewer-scoped Mailbox clients.
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close waits for in-flight sends and closes all connections.
	Close(ctx context.Context) error
	// Client returns a mailbox client acting as who.
	// The returned client shares the service's connections.
	Client(who store.Identity) Mailbox
	// ClientFor resolves userID through the configured IdentityProvider and
	// returns a client acting as that user.
	ClientFor(ctx context.Context, userID string) (Mailbox, error)
	// Events returns per-service event instances for subscribing and publishing.
	// Nil until Connect succeeds.
	Events() *ServiceEvents
}

// ListRequest selects one page of a folder.
type ListRequest struct {
	Folder  store.Folder
	Filters store.QueryFilters
	// Page is 1-based. Zero means the first page.
	Page int
	// Limit is the page size. Zero means the service default;
	// store.UnlimitedLimit returns everything in one page.
	Limit int
}

// MessageReader provides single message retrieval.
type MessageReader interface {
	// Get returns a message the viewer participates in.
	// Drafts are visible only to their sender.
	Get(ctx context.Context, messageID string) (*store.Message, error)
}

// MessageLister provides folder listings and counts.
type MessageLister interface {
	List(ctx context.Context, req ListRequest) (*store.Page, error)
	Counts(ctx context.Context) (*store.Counts, error)
}

// DraftClient provides composition and the draft lifecycle.
type DraftClient interface {
	// Compose stores d as a draft, or sends it directly when d.IsDraft is false.
	Compose(ctx context.Context, d Draft) (*store.Message, error)
	// UpdateDraft edits the viewer's own draft.
	UpdateDraft(ctx context.Context, messageID string, update store.DraftUpdate) (*store.Message, error)
	// SendDraft validates and sends the viewer's own draft.
	SendDraft(ctx context.Context, messageID string) (*store.Message, error)
	// ReplyTo prefills an unsaved draft answering messageID.
	ReplyTo(ctx context.Context, messageID string) (*Draft, error)
}

// FlagMutator toggles per-message flags.
type FlagMutator interface {
	SetRead(ctx context.Context, messageID string, read bool) (*store.Message, error)
	SetStarred(ctx context.Context, messageID string, starred bool) (*store.Message, error)
	SetArchived(ctx context.Context, messageID string, archived bool) (*store.Message, error)
	// UpdateFlags applies every non-nil flag in f.
	UpdateFlags(ctx context.Context, messageID string, f Flags) (*store.Message, error)
}

// MessageDeleter removes messages.
type MessageDeleter interface {
	Delete(ctx context.Context, messageID string) error
}

// AttachmentLoader provides attachment content.
type AttachmentLoader interface {
	// OpenAttachment returns the content of one attachment.
	// Caller is responsible for closing the reader.
	OpenAttachment(ctx context.Context, messageID, attachmentID string) (io.ReadCloser, error)
}

// BulkOperator applies one mutation to many messages.
// Each ID succeeds or fails independently; see BulkResult.
type BulkOperator interface {
	BulkUpdateFlags(ctx context.Context, messageIDs []string, f Flags) (*BulkResult, error)
	BulkDelete(ctx context.Context, messageIDs []string) (*BulkResult, error)
}

// Mailbox is one viewer's view of the messaging system.
// Every operation is scoped to the client identity: listings show only the
// viewer's folders and mutations are checked against the viewer's role in
// the target message.
//
// For applications needing only a subset of functionality, depend on the
// focused interfaces (MessageReader, DraftClient, FlagMutator, ...).
type Mailbox interface {
	UserID() string
	Identity() store.Identity
	MessageReader
	MessageLister
	DraftClient
	FlagMutator
	MessageDeleter
	AttachmentLoader
	BulkOperator
}
