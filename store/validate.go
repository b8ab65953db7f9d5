package store

import (
	"fmt"
	"strings"
)

// Field names reported by ValidationError.
const (
	FieldNameSubject      = "subject"
	FieldNameContent      = "content"
	FieldNameSenderID     = "sender.id"
	FieldNameSenderName   = "sender.name"
	FieldNameSenderRole   = "sender.role"
	FieldNameReceiverID   = "receiver.id"
	FieldNameReceiverName = "receiver.name"
	FieldNameReceiverRole = "receiver.role"
)

// Validate checks the fields required by m's lifecycle state.
// Drafts need a complete sender; sent messages also need subject, content
// and a complete receiver. Every missing field is named in the returned
// *ValidationError.
func Validate(m *Message) error {
	var missing []string
	if !m.IsDraft {
		missing = appendBlank(missing, FieldNameSubject, m.Subject)
		missing = appendBlank(missing, FieldNameContent, m.Content)
	}
	missing = appendIdentity(missing, "sender", m.Sender)
	if !m.IsDraft {
		missing = appendIdentity(missing, "receiver", m.Receiver)
	}
	missing = append(missing, missingAttachmentIDs(m.Attachments)...)
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// ValidateForSend checks m as if it were about to leave the draft state.
func ValidateForSend(m *Message) error {
	c := *m
	c.IsDraft = false
	return Validate(&c)
}

// Normalize fills defaults for empty enums and rejects unknown values.
func Normalize(m *Message) error {
	if m.Priority == "" {
		m.Priority = DefaultPriority
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, m.Priority)
	}
	if m.Category == "" {
		m.Category = DefaultCategory
	}
	if !m.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidArgument, m.Category)
	}
	return nil
}

// PrepareCreate normalizes and validates m before it is stored.
func PrepareCreate(m *Message) error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidArgument)
	}
	if err := Normalize(m); err != nil {
		return err
	}
	return Validate(m)
}

func appendBlank(missing []string, name, v string) []string {
	if strings.TrimSpace(v) == "" {
		return append(missing, name)
	}
	return missing
}

func appendIdentity(missing []string, prefix string, id Identity) []string {
	missing = appendBlank(missing, prefix+".id", id.ID)
	missing = appendBlank(missing, prefix+".name", id.Name)
	return appendBlank(missing, prefix+".role", id.Role)
}

func missingAttachmentIDs(atts []Attachment) []string {
	var missing []string
	for i, a := range atts {
		if strings.TrimSpace(a.ID) == "" {
			missing = append(missing, fmt.Sprintf("attachments[%d].id", i))
		}
	}
	return missing
}
