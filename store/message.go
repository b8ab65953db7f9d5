package store

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Identity is a snapshot of a participant taken when a message is composed.
// It is stored by value, so later changes to the user do not alter history.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// IsZero reports whether no identity field is set.
func (i Identity) IsZero() bool {
	return i.ID == "" && i.Name == "" && i.Role == ""
}

// Priority is the severity of a message. Values are ordered from LOW to URGENT.
type Priority string

const (
	PriorityLow       Priority = "LOW"
	PriorityNormal    Priority = "NORMAL"
	PriorityImportant Priority = "IMPORTANT"
	PriorityHigh      Priority = "HIGH"
	PriorityUrgent    Priority = "URGENT"
)

// DefaultPriority is applied when a message is created without a priority.
const DefaultPriority = PriorityNormal

var priorities = []Priority{PriorityLow, PriorityNormal, PriorityImportant, PriorityHigh, PriorityUrgent}

// Priorities returns all priorities in ascending severity.
func Priorities() []Priority {
	return slices.Clone(priorities)
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return slices.Contains(priorities, p)
}

// Rank returns the position of p in the severity order, or -1 when unknown.
func (p Priority) Rank() int {
	return slices.Index(priorities, p)
}

// ParsePriority parses a priority name case-insensitively.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, s)
	}
	return p, nil
}

// Category classifies a message for the administrative domain.
type Category string

const (
	CategoryGeneral        Category = "GENERAL"
	CategoryAcademic       Category = "ACADEMIC"
	CategoryAdministrative Category = "ADMINISTRATIVE"
	CategoryAttendance     Category = "ATTENDANCE"
	CategoryFees           Category = "FEES"
	CategoryEvent          Category = "EVENT"
	CategoryEmergency      Category = "EMERGENCY"
)

// DefaultCategory is applied when a message is created without a category.
const DefaultCategory = CategoryGeneral

var categories = []Category{
	CategoryGeneral,
	CategoryAcademic,
	CategoryAdministrative,
	CategoryAttendance,
	CategoryFees,
	CategoryEvent,
	CategoryEmergency,
}

// Categories returns all known categories.
func Categories() []Category {
	return slices.Clone(categories)
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(categories, c)
}

// ParseCategory parses a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidArgument, s)
	}
	return c, nil
}

// Attachment is an opaque reference to content held by an external attachment store.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// Message is the sole entity of the mailbox.
type Message struct {
	ID           string       `json:"id"`
	Subject      string       `json:"subject"`
	Content      string       `json:"content"`
	Sender       Identity     `json:"sender"`
	Receiver     Identity     `json:"receiver"`
	Priority     Priority     `json:"priority"`
	Category     Category     `json:"category"`
	IsDraft      bool         `json:"is_draft"`
	IsRead       bool         `json:"is_read"`
	ReadAt       *time.Time   `json:"read_at,omitempty"`
	IsStarred    bool         `json:"is_starred"`
	IsArchived   bool         `json:"is_archived"`
	ThreadID     string       `json:"thread_id,omitempty"`
	ReplyToID    string       `json:"reply_to_id,omitempty"`
	ScheduledFor *time.Time   `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	if m.ScheduledFor != nil {
		t := *m.ScheduledFor
		c.ScheduledFor = &t
	}
	if m.Attachments != nil {
		c.Attachments = slices.Clone(m.Attachments)
	}
	return &c
}

// IsParticipant reports whether userID is the sender or the receiver.
// Drafts are only visible to their sender.
func (m *Message) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	if m.Sender.ID == userID {
		return true
	}
	return !m.IsDraft && m.Receiver.ID == userID
}

// Attachment returns the attachment reference with the given ID.
func (m *Message) Attachment(id string) (Attachment, bool) {
	for _, a := range m.Attachments {
		if a.ID == id {
			return a, true
		}
	}
	return Attachment{}, false
}

// DraftUpdate is a partial edit of a draft. Nil fields are left unchanged.
// The sender of a draft cannot be changed.
type DraftUpdate struct {
	Subject      *string       `json:"subject,omitempty"`
	Content      *string       `json:"content,omitempty"`
	Receiver     *Identity     `json:"receiver,omitempty"`
	Priority     *Priority     `json:"priority,omitempty"`
	Category     *Category     `json:"category,omitempty"`
	ScheduledFor *time.Time    `json:"scheduled_for,omitempty"`
	Attachments  *[]Attachment `json:"attachments,omitempty"`

	// ClearSchedule removes ScheduledFor. It wins over ScheduledFor.
	ClearSchedule bool `json:"clear_schedule,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u DraftUpdate) IsEmpty() bool {
	return u.Subject == nil && u.Content == nil && u.Receiver == nil &&
		u.Priority == nil && u.Category == nil && u.ScheduledFor == nil &&
		u.Attachments == nil && !u.ClearSchedule
}

// Validate rejects unknown enum values.
func (u DraftUpdate) Validate() error {
	if u.Priority != nil && !u.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, *u.Priority)
	}
	if u.Category != nil && !u.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidArgument, *u.Category)
	}
	if u.Attachments != nil {
		if missing := missingAttachmentIDs(*u.Attachments); len(missing) > 0 {
			return &ValidationError{Fields: missing}
		}
	}
	return nil
}

// Apply writes the update into m and stamps UpdatedAt.
func (u DraftUpdate) Apply(m *Message, now time.Time) {
	if u.Subject != nil {
		m.Subject = *u.Subject
	}
	if u.Content != nil {
		m.Content = *u.Content
	}
	if u.Receiver != nil {
		m.Receiver = *u.Receiver
	}
	if u.Priority != nil {
		m.Priority = *u.Priority
	}
	if u.Category != nil {
		m.Category = *u.Category
	}
	if u.ScheduledFor != nil {
		t := u.ScheduledFor.UTC()
		m.ScheduledFor = &t
	}
	if u.ClearSchedule {
		m.ScheduledFor = nil
	}
	if u.Attachments != nil {
		m.Attachments = slices.Clone(*u.Attachments)
	}
	m.UpdatedAt = now
}

// Flag is a single toggle of one of the independent message booleans.
type Flag string

const (
	FlagRead       Flag = "read"
	FlagUnread     Flag = "unread"
	FlagStarred    Flag = "starred"
	FlagUnstarred  Flag = "unstarred"
	FlagArchived   Flag = "archived"
	FlagUnarchived Flag = "unarchived"
)

// Valid reports whether f is a known flag.
func (f Flag) Valid() bool {
	switch f {
	case FlagRead, FlagUnread, FlagStarred, FlagUnstarred, FlagArchived, FlagUnarchived:
		return true
	}
	return false
}

// ParseFlag parses a flag name case-insensitively.
func ParseFlag(s string) (Flag, error) {
	f := Flag(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: unknown flag %q", ErrInvalidArgument, s)
	}
	return f, nil
}

// Field returns the storage field key toggled by f.
func (f Flag) Field() string {
	switch f {
	case FlagRead, FlagUnread:
		return FieldIsRead
	case FlagStarred, FlagUnstarred:
		return FieldIsStarred
	case FlagArchived, FlagUnarchived:
		return FieldIsArchived
	}
	return ""
}

// Value returns the boolean written by f.
func (f Flag) Value() bool {
	return f == FlagRead || f == FlagStarred || f == FlagArchived
}

// Apply sets the flag's field on m and reports whether anything changed.
// Only the flag's own field (and ReadAt for the read flag) is touched. An
// application that changes nothing leaves UpdatedAt alone, so applying a flag
// twice yields the same state as applying it once.
func (f Flag) Apply(m *Message, now time.Time) bool {
	if f.IsSet(m) {
		return false
	}
	switch f {
	case FlagRead:
		t := now
		m.IsRead = true
		m.ReadAt = &t
	case FlagUnread:
		m.IsRead = false
		m.ReadAt = nil
	case FlagStarred, FlagUnstarred:
		m.IsStarred = f.Value()
	case FlagArchived, FlagUnarchived:
		m.IsArchived = f.Value()
	}
	m.UpdatedAt = now
	return true
}

// SyncReadAt makes ReadAt agree with IsRead. A read message without a read
// time is stamped with now.
func (m *Message) SyncReadAt(now time.Time) {
	switch {
	case !m.IsRead:
		m.ReadAt = nil
	case m.ReadAt == nil:
		t := now
		m.ReadAt = &t
	}
}

// IsSet reports whether m already holds the state f would write.
func (f Flag) IsSet(m *Message) bool {
	switch f.Field() {
	case FieldIsRead:
		return m.IsRead == f.Value()
	case FieldIsStarred:
		return m.IsStarred == f.Value()
	case FieldIsArchived:
		return m.IsArchived == f.Value()
	}
	return false
}

// ReadFlag returns FlagRead or FlagUnread.
func ReadFlag(read bool) Flag {
	if read {
		return FlagRead
	}
	return FlagUnread
}

// StarFlag returns FlagStarred or FlagUnstarred.
func StarFlag(starred bool) Flag {
	if starred {
		return FlagStarred
	}
	return FlagUnstarred
}

// ArchiveFlag returns FlagArchived or FlagUnarchived.
func ArchiveFlag(archived bool) Flag {
	if archived {
		return FlagArchived
	}
	return FlagUnarchived
}
