package campusmail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/campusmail/store"
	"github.com/rbaliyan/campusmail/thread"
	"go.opentelemetry.io/otel/attribute"
)

// Draft is the input to Compose. The sender is always the client identity.
//
// Receiver may carry only an ID; its name and role are then filled in from
// the configured IdentityProvider.
type Draft struct {
	Subject      string             `json:"subject"`
	Content      string             `json:"content"`
	Receiver     store.Identity     `json:"receiver"`
	Priority     store.Priority     `json:"priority,omitempty"`
	Category     store.Category     `json:"category,omitempty"`
	ReplyToID    string             `json:"reply_to_id,omitempty"`
	ScheduledFor *time.Time         `json:"scheduled_for,omitempty"`
	Attachments  []store.Attachment `json:"attachments,omitempty"`

	// IsDraft saves without sending. When false, Compose sends immediately
	// and every required field must be present.
	IsDraft bool `json:"is_draft"`
}

func (d Draft) message(sender store.Identity) *store.Message {
	msg := &store.Message{
		Subject:     d.Subject,
		Content:     d.Content,
		Sender:      sender,
		Receiver:    d.Receiver,
		Priority:    d.Priority,
		Category:    d.Category,
		IsDraft:     d.IsDraft,
		ReplyToID:   d.ReplyToID,
		Attachments: d.Attachments,
	}
	if d.ScheduledFor != nil {
		t := d.ScheduledFor.UTC()
		msg.ScheduledFor = &t
	}
	return msg.Clone()
}

// Compose stores d as a draft or, when d.IsDraft is false, sends it.
func (m *userMailbox) Compose(ctx context.Context, d Draft) (*store.Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	msg := d.message(m.who)
	if err := m.completeReceiver(ctx, &msg.Receiver); err != nil {
		return nil, err
	}
	if err := store.Normalize(msg); err != nil {
		return nil, translate(err)
	}
	if err := ValidateLimits(msg, m.service.opts.getLimits()); err != nil {
		return nil, err
	}

	// The parent is not held until Create. If it is deleted in between, the
	// reply keeps the resolved ThreadID and a ReplyToID that no longer loads;
	// thread listings key on ThreadID and tolerate the missing parent.
	threadID, err := thread.NewResolver(participantLookup{m}).Resolve(ctx, msg.ReplyToID)
	if err != nil {
		return nil, translate(err)
	}
	msg.ThreadID = threadID

	if !msg.IsDraft {
		return m.send(ctx, msg, func(ctx context.Context) (*store.Message, error) {
			return m.service.store.Create(ctx, msg)
		})
	}

	ctx, done := m.service.otel.instrument(ctx, opDraft,
		attribute.String("user_id", m.who.ID),
		attribute.String("operation", "create"),
	)
	created, err := m.service.store.Create(ctx, msg)
	err = translate(err)
	done(err)
	if err != nil {
		return nil, err
	}
	m.service.logger.Debug("draft saved", "message_id", created.ID, "user_id", m.who.ID)
	return created, nil
}

// UpdateDraft edits the viewer's own draft. Fields left nil are unchanged.
func (m *userMailbox) UpdateDraft(ctx context.Context, messageID string, update store.DraftUpdate) (*store.Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if err := update.Validate(); err != nil {
		return nil, translate(err)
	}

	ctx, done := m.service.otel.instrument(ctx, opDraft,
		attribute.String("user_id", m.who.ID),
		attribute.String("operation", "update"),
	)
	var updateErr error
	defer func() { done(updateErr) }()

	current, err := m.loadOwnDraft(ctx, messageID)
	if err != nil {
		updateErr = err
		return nil, err
	}
	if update.IsEmpty() {
		return current, nil
	}

	if update.Receiver != nil {
		receiver := *update.Receiver
		if err := m.completeReceiver(ctx, &receiver); err != nil {
			updateErr = err
			return nil, err
		}
		update.Receiver = &receiver
	}

	preview := current.Clone()
	update.Apply(preview, time.Now())
	if err := ValidateLimits(preview, m.service.opts.getLimits()); err != nil {
		updateErr = err
		return nil, err
	}

	updated, err := m.service.store.UpdateDraft(ctx, messageID, update)
	if err != nil {
		updateErr = translate(err)
		return nil, updateErr
	}
	return updated, nil
}

// completeReceiver fills a receiver given by ID only from the identity
// provider. Receivers that already carry a name and role, or no ID, are left
// for store validation.
func (m *userMailbox) completeReceiver(ctx context.Context, receiver *store.Identity) error {
	if receiver.ID == "" || (receiver.Name != "" && receiver.Role != "") {
		return nil
	}
	if m.service.identities == nil {
		return nil
	}
	who, err := m.service.identities.Resolve(ctx, receiver.ID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return invalidField(store.FieldNameReceiverID, "unknown user %q", receiver.ID)
		}
		return fmt.Errorf("resolve receiver: %w", err)
	}
	if receiver.Name == "" {
		receiver.Name = who.Name
	}
	if receiver.Role == "" {
		receiver.Role = who.Role
	}
	return nil
}

// participantLookup reads reply parents as the viewer sees them: only
// messages the viewer participates in, and never drafts.
type participantLookup struct {
	m *userMailbox
}

func (l participantLookup) Get(ctx context.Context, id string) (*store.Message, error) {
	parent, err := l.m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if parent.IsDraft {
		return nil, fmt.Errorf("%w: cannot reply to a draft", ErrInvalidArgument)
	}
	return parent, nil
}
