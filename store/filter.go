package store

import (
	"fmt"
	"math"
	"strings"
)

// Storage field keys understood by every backend.
const (
	FieldID           = "id"
	FieldSenderID     = "sender_id"
	FieldSenderName   = "sender_name"
	FieldReceiverID   = "receiver_id"
	FieldReceiverName = "receiver_name"
	FieldSubject      = "subject"
	FieldContent      = "content"
	FieldPriority     = "priority"
	FieldCategory     = "category"
	FieldIsDraft      = "is_draft"
	FieldIsRead       = "is_read"
	FieldIsStarred    = "is_starred"
	FieldIsArchived   = "is_archived"
	FieldThreadID     = "thread_id"
	FieldReplyToID    = "reply_to_id"
	FieldCreatedAt    = "created_at"
)

// Filter operators.
const (
	OpEq       = "eq"
	OpContains = "contains" // case-insensitive substring
	OpAnd      = "and"
	OpOr       = "or"
)

var validFields = map[string]bool{
	FieldID:           true,
	FieldSenderID:     true,
	FieldSenderName:   true,
	FieldReceiverID:   true,
	FieldReceiverName: true,
	FieldSubject:      true,
	FieldContent:      true,
	FieldPriority:     true,
	FieldCategory:     true,
	FieldIsDraft:      true,
	FieldIsRead:       true,
	FieldIsStarred:    true,
	FieldIsArchived:   true,
	FieldThreadID:     true,
	FieldReplyToID:    true,
	FieldCreatedAt:    true,
}

// ValidField reports whether key is a known storage field.
func ValidField(key string) bool {
	return validFields[key]
}

// Filter is a node in a predicate tree. Leaves compare one field with a
// value; And/Or nodes combine their children.
type Filter struct {
	key      string
	operator string
	value    any
	children []Filter
}

// Key returns the storage field key of a leaf.
func (f Filter) Key() string { return f.key }

// Operator returns eq, contains, and, or.
func (f Filter) Operator() string { return f.operator }

// Value returns the comparison value of a leaf.
func (f Filter) Value() any { return f.value }

// Children returns the operands of an And/Or node.
func (f Filter) Children() []Filter { return f.children }

// IsZero reports whether f matches everything (an empty And).
func (f Filter) IsZero() bool {
	return f.operator == "" || (f.operator == OpAnd && len(f.children) == 0)
}

// Eq matches messages whose field equals v.
func Eq(key string, v any) Filter {
	return Filter{key: key, operator: OpEq, value: v}
}

// Contains matches messages whose string field contains s, ignoring case.
func Contains(key, s string) Filter {
	return Filter{key: key, operator: OpContains, value: s}
}

// And matches when every child matches.
func And(fs ...Filter) Filter {
	return Filter{operator: OpAnd, children: flatten(OpAnd, fs)}
}

// Or matches when any child matches.
func Or(fs ...Filter) Filter {
	return Filter{operator: OpOr, children: flatten(OpOr, fs)}
}

func flatten(op string, fs []Filter) []Filter {
	out := make([]Filter, 0, len(fs))
	for _, f := range fs {
		if f.operator == op {
			out = append(out, f.children...)
			continue
		}
		out = append(out, f)
	}
	return out
}

// Check walks the tree and rejects unknown fields and operators.
func (f Filter) Check() error {
	switch f.operator {
	case OpAnd, OpOr:
		for _, c := range f.children {
			if err := c.Check(); err != nil {
				return err
			}
		}
		return nil
	case OpEq, OpContains:
		if !ValidField(f.key) {
			return fmt.Errorf("%w: unsupported field: %s", ErrFilterInvalid, f.key)
		}
		if f.operator == OpContains {
			if _, ok := f.value.(string); !ok {
				return fmt.Errorf("%w: contains needs a string value for %s", ErrFilterInvalid, f.key)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported operator: %q", ErrFilterInvalid, f.operator)
	}
}

// Convenience filters.

// SenderIs matches messages sent by userID.
func SenderIs(userID string) Filter { return Eq(FieldSenderID, userID) }

// ReceiverIs matches messages addressed to userID.
func ReceiverIs(userID string) Filter { return Eq(FieldReceiverID, userID) }

// ParticipantIs matches messages where userID is the sender or the receiver.
func ParticipantIs(userID string) Filter { return Or(ReceiverIs(userID), SenderIs(userID)) }

// IsDraft matches on the draft flag.
func IsDraft(draft bool) Filter { return Eq(FieldIsDraft, draft) }

// IsRead matches on the read flag.
func IsRead(read bool) Filter { return Eq(FieldIsRead, read) }

// IsStarred matches on the starred flag.
func IsStarred(starred bool) Filter { return Eq(FieldIsStarred, starred) }

// IsArchived matches on the archived flag.
func IsArchived(archived bool) Filter { return Eq(FieldIsArchived, archived) }

// ThreadIs matches messages in a thread.
func ThreadIs(threadID string) Filter { return Eq(FieldThreadID, threadID) }

// PriorityIs matches messages with priority p.
func PriorityIs(p Priority) Filter { return Eq(FieldPriority, string(p)) }

// CategoryIs matches messages with category c.
func CategoryIs(c Category) Filter { return Eq(FieldCategory, string(c)) }

// TextSearch matches q against subject, content and both participant names.
func TextSearch(q string) Filter {
	return Or(
		Contains(FieldSubject, q),
		Contains(FieldContent, q),
		Contains(FieldSenderName, q),
		Contains(FieldReceiverName, q),
	)
}

// Folder is a predicate-defined view over messages for one viewer.
type Folder string

const (
	FolderReceived Folder = "received"
	FolderSent     Folder = "sent"
	FolderStarred  Folder = "starred"
	FolderArchived Folder = "archived"
	FolderDrafts   Folder = "drafts"
)

var folders = []Folder{FolderReceived, FolderSent, FolderStarred, FolderArchived, FolderDrafts}

// Folders returns every folder.
func Folders() []Folder {
	out := make([]Folder, len(folders))
	copy(out, folders)
	return out
}

// Valid reports whether f is a known folder.
func (f Folder) Valid() bool {
	for _, k := range folders {
		if k == f {
			return true
		}
	}
	return false
}

// ParseFolder parses a folder name case-insensitively.
func ParseFolder(s string) (Folder, error) {
	f := Folder(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: unknown folder %q", ErrInvalidArgument, s)
	}
	return f, nil
}

// FolderFilter returns the predicate that defines folder for viewerID.
func FolderFilter(viewerID string, folder Folder) (Filter, error) {
	switch folder {
	case FolderReceived:
		return And(ReceiverIs(viewerID), IsDraft(false)), nil
	case FolderSent:
		return And(SenderIs(viewerID), IsDraft(false)), nil
	case FolderStarred:
		return And(ParticipantIs(viewerID), IsStarred(true), IsDraft(false)), nil
	case FolderArchived:
		return And(ParticipantIs(viewerID), IsArchived(true)), nil
	case FolderDrafts:
		return And(SenderIs(viewerID), IsDraft(true)), nil
	default:
		return Filter{}, fmt.Errorf("%w: unknown folder %q", ErrInvalidArgument, folder)
	}
}

// UnlimitedLimit lists a whole folder in one page.
const UnlimitedLimit = math.MaxInt32

// QueryFilters are optional, AND-combined refinements of a folder view.
// Zero values mean "no filter".
type QueryFilters struct {
	// UnreadOnly keeps unread messages. Only honored for the received folder.
	UnreadOnly bool     `json:"unread_only,omitempty"`
	Category   Category `json:"category,omitempty"`
	Priority   Priority `json:"priority,omitempty"`
	Search     string   `json:"search,omitempty"`
	ThreadID   string   `json:"thread_id,omitempty"`
}

// Query asks for one page of a folder.
type Query struct {
	ViewerID string
	Folder   Folder
	Filters  QueryFilters
	Page     int
	Limit    int
}

// Validate rejects empty viewers, unknown folders and enum values, and
// non-positive pagination.
func (q Query) Validate() error {
	if q.ViewerID == "" {
		return fmt.Errorf("%w: viewer is required", ErrInvalidArgument)
	}
	if !q.Folder.Valid() {
		return fmt.Errorf("%w: unknown folder %q", ErrInvalidArgument, q.Folder)
	}
	if q.Page < 1 {
		return fmt.Errorf("%w: page must be positive, got %d", ErrInvalidArgument, q.Page)
	}
	if q.Limit < 1 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidArgument, q.Limit)
	}
	if q.Filters.Category != "" && !q.Filters.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidArgument, q.Filters.Category)
	}
	if q.Filters.Priority != "" && !q.Filters.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, q.Filters.Priority)
	}
	return nil
}

// Filter builds the full predicate: the folder definition AND every set refinement.
func (q Query) Filter() (Filter, error) {
	base, err := FolderFilter(q.ViewerID, q.Folder)
	if err != nil {
		return Filter{}, err
	}
	parts := []Filter{base}
	if q.Filters.UnreadOnly && q.Folder == FolderReceived {
		parts = append(parts, IsRead(false))
	}
	if q.Filters.Category != "" {
		parts = append(parts, CategoryIs(q.Filters.Category))
	}
	if q.Filters.Priority != "" {
		parts = append(parts, PriorityIs(q.Filters.Priority))
	}
	if q.Filters.Search != "" {
		parts = append(parts, TextSearch(q.Filters.Search))
	}
	if q.Filters.ThreadID != "" {
		parts = append(parts, ThreadIs(q.Filters.ThreadID))
	}
	return And(parts...), nil
}

// Offset returns the number of items skipped before the requested page.
// Pages far past any possible result saturate at math.MaxInt64.
func (q Query) Offset() int64 {
	if q.Page <= 1 || q.Limit <= 0 {
		return 0
	}
	skip := int64(q.Page - 1)
	if skip > math.MaxInt64/int64(q.Limit) {
		return math.MaxInt64
	}
	return skip * int64(q.Limit)
}

// Page is one page of a folder listing, newest first.
type Page struct {
	Items []*Message `json:"messages"`
	Total int64      `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
}

// Counts holds per-folder totals for one viewer.
type Counts struct {
	Received int64 `json:"received"`
	Sent     int64 `json:"sent"`
	Starred  int64 `json:"starred"`
	Archived int64 `json:"archived"`
	Drafts   int64 `json:"drafts"`
	Unread   int64 `json:"unread"`
}

// Count names used by CountFilters.
const (
	CountReceived = "received"
	CountSent     = "sent"
	CountStarred  = "starred"
	CountArchived = "archived"
	CountDrafts   = "drafts"
	CountUnread   = "unread"
)

// CountFilter pairs a count name with its predicate.
type CountFilter struct {
	Name   string
	Filter Filter
}

// CountFilters returns the predicates behind Counts, built from the same
// folder definitions used for listing. Unread is the received folder
// restricted to unread messages.
func CountFilters(viewerID string) []CountFilter {
	out := make([]CountFilter, 0, len(folders)+1)
	for _, f := range folders {
		pred, _ := FolderFilter(viewerID, f)
		out = append(out, CountFilter{Name: string(f), Filter: pred})
	}
	unread, _ := Query{ViewerID: viewerID, Folder: FolderReceived, Filters: QueryFilters{UnreadOnly: true}}.Filter()
	out = append(out, CountFilter{Name: CountUnread, Filter: unread})
	return out
}

// Set stores n under the count name.
func (c *Counts) Set(name string, n int64) {
	switch name {
	case CountReceived:
		c.Received = n
	case CountSent:
		c.Sent = n
	case CountStarred:
		c.Starred = n
	case CountArchived:
		c.Archived = n
	case CountDrafts:
		c.Drafts = n
	case CountUnread:
		c.Unread = n
	}
}

// Folder returns the count for a folder.
func (c *Counts) Folder(f Folder) int64 {
	switch f {
	case FolderReceived:
		return c.Received
	case FolderSent:
		return c.Sent
	case FolderStarred:
		return c.Starred
	case FolderArchived:
		return c.Archived
	case FolderDrafts:
		return c.Drafts
	}
	return 0
}
