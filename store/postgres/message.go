package postgres

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rbaliyan/campusmail/store"
)

// messageColumns is the canonical SELECT column list for scanning messages.
// It must match the db tags of row.
const messageColumns = `id, subject, content,
       sender_id, sender_name, sender_role,
       receiver_id, receiver_name, receiver_role,
       priority, category, is_draft, is_read, read_at, is_starred, is_archived,
       thread_id, reply_to_id, scheduled_for, attachments, created_at, updated_at`

// row is the database representation of a message.
type row struct {
	ID           string         `db:"id"`
	Subject      string         `db:"subject"`
	Content      string         `db:"content"`
	SenderID     string         `db:"sender_id"`
	SenderName   string         `db:"sender_name"`
	SenderRole   string         `db:"sender_role"`
	ReceiverID   string         `db:"receiver_id"`
	ReceiverName string         `db:"receiver_name"`
	ReceiverRole string         `db:"receiver_role"`
	Priority     string         `db:"priority"`
	Category     string         `db:"category"`
	IsDraft      bool           `db:"is_draft"`
	IsRead       bool           `db:"is_read"`
	ReadAt       *time.Time     `db:"read_at"`
	IsStarred    bool           `db:"is_starred"`
	IsArchived   bool           `db:"is_archived"`
	ThreadID     string         `db:"thread_id"`
	ReplyToID    string         `db:"reply_to_id"`
	ScheduledFor *time.Time     `db:"scheduled_for"`
	Attachments  attachmentList `db:"attachments"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func toRow(m *store.Message) row {
	return row{
		ID:           m.ID,
		Subject:      m.Subject,
		Content:      m.Content,
		SenderID:     m.Sender.ID,
		SenderName:   m.Sender.Name,
		SenderRole:   m.Sender.Role,
		ReceiverID:   m.Receiver.ID,
		ReceiverName: m.Receiver.Name,
		ReceiverRole: m.Receiver.Role,
		Priority:     string(m.Priority),
		Category:     string(m.Category),
		IsDraft:      m.IsDraft,
		IsRead:       m.IsRead,
		ReadAt:       utcPtr(m.ReadAt),
		IsStarred:    m.IsStarred,
		IsArchived:   m.IsArchived,
		ThreadID:     m.ThreadID,
		ReplyToID:    m.ReplyToID,
		ScheduledFor: utcPtr(m.ScheduledFor),
		Attachments:  attachmentList(m.Attachments),
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func (r *row) message() *store.Message {
	m := &store.Message{
		ID:           r.ID,
		Subject:      r.Subject,
		Content:      r.Content,
		Sender:       store.Identity{ID: r.SenderID, Name: r.SenderName, Role: r.SenderRole},
		Receiver:     store.Identity{ID: r.ReceiverID, Name: r.ReceiverName, Role: r.ReceiverRole},
		Priority:     store.Priority(r.Priority),
		Category:     store.Category(r.Category),
		IsDraft:      r.IsDraft,
		IsRead:       r.IsRead,
		ReadAt:       utcPtr(r.ReadAt),
		IsStarred:    r.IsStarred,
		IsArchived:   r.IsArchived,
		ThreadID:     r.ThreadID,
		ReplyToID:    r.ReplyToID,
		ScheduledFor: utcPtr(r.ScheduledFor),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if len(r.Attachments) > 0 {
		m.Attachments = []store.Attachment(r.Attachments)
	}
	return m
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// attachmentList stores attachment references as a JSONB array.
type attachmentList []store.Attachment

// Value implements driver.Valuer.
func (a attachmentList) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal([]store.Attachment(a))
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (a *attachmentList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan attachments: unsupported type %T", src)
	}
	var out []store.Attachment
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal attachments: %w", err)
	}
	*a = out
	return nil
}

// invalidTextRepresentation is the SQLSTATE for malformed input such as a
// non-UUID id.
const invalidTextRepresentation = "22P02"

// mapError converts driver errors into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation {
		return store.ErrNotFound
	}
	return err
}
