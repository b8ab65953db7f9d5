package campusmail

import (
	"context"
	"time"

	"github.com/rbaliyan/campusmail/store"
	"go.opentelemetry.io/otel/attribute"
)

// SetRead marks a message read or unread. Only the receiver may do this.
func (m *userMailbox) SetRead(ctx context.Context, messageID string, read bool) (*store.Message, error) {
	return m.UpdateFlags(ctx, messageID, Flags{}.WithRead(read))
}

// SetStarred stars or unstars a message. Either participant may do this.
func (m *userMailbox) SetStarred(ctx context.Context, messageID string, starred bool) (*store.Message, error) {
	return m.UpdateFlags(ctx, messageID, Flags{}.WithStarred(starred))
}

// SetArchived archives or unarchives a message. Either participant may do
// this, and the flag is shared: archiving hides the message from both
// participants' non-archive folders.
func (m *userMailbox) SetArchived(ctx context.Context, messageID string, archived bool) (*store.Message, error) {
	return m.UpdateFlags(ctx, messageID, Flags{}.WithArchived(archived))
}

// UpdateFlags applies every non-nil flag in f.
//
// Permission is checked for all flags before any is written. Each flag is
// its own atomic store write, so a concurrent writer toggling a different
// flag is never overwritten. Setting a flag to its current value changes
// nothing and publishes no event.
func (m *userMailbox) UpdateFlags(ctx context.Context, messageID string, f Flags) (*store.Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	ctx, done := m.service.otel.instrument(ctx, opFlag, attribute.String("user_id", m.who.ID))
	var flagErr error
	defer func() { done(flagErr) }()

	msg, err := m.load(ctx, messageID)
	if err != nil {
		flagErr = err
		return nil, err
	}
	if f.Read != nil && msg.Receiver.ID != m.who.ID {
		flagErr = ErrForbidden
		return nil, flagErr
	}

	for _, flag := range f.storeFlags() {
		wasSet := flag.IsSet(msg)
		updated, err := m.service.store.SetFlag(ctx, messageID, flag)
		if err != nil {
			flagErr = translate(err)
			return nil, flagErr
		}
		msg = updated
		if wasSet {
			continue
		}
		if err := m.publishFlagChange(ctx, msg, flag); err != nil {
			flagErr = err
			return msg, flagErr
		}
	}
	return msg, nil
}

// publishFlagChange announces a flag that actually changed. Marking read
// publishes MessageRead; everything else publishes MessageFlagged.
func (m *userMailbox) publishFlagChange(ctx context.Context, msg *store.Message, flag store.Flag) error {
	now := time.Now().UTC()
	if flag == store.FlagRead {
		readAt := now
		if msg.ReadAt != nil {
			readAt = *msg.ReadAt
		}
		return publishEvent(ctx, m.service, m.service.events.MessageRead, "MessageRead", msg.ID, MessageReadEvent{
			MessageID: msg.ID,
			UserID:    m.who.ID,
			ReadAt:    readAt,
		})
	}
	return publishEvent(ctx, m.service, m.service.events.MessageFlagged, "MessageFlagged", msg.ID, MessageFlaggedEvent{
		MessageID: msg.ID,
		UserID:    m.who.ID,
		Flag:      flag,
		FlaggedAt: now,
	})
}

// Delete permanently removes a message.
//
// Drafts may be deleted only by their sender. A sent message may be deleted
// by either participant and disappears for both.
func (m *userMailbox) Delete(ctx context.Context, messageID string) error {
	if err := m.checkAccess(); err != nil {
		return err
	}

	ctx, done := m.service.otel.instrument(ctx, opDelete, attribute.String("user_id", m.who.ID))
	var deleteErr error
	defer func() { done(deleteErr) }()

	msg, err := m.load(ctx, messageID)
	if err != nil {
		deleteErr = err
		return err
	}
	if msg.IsDraft && msg.Sender.ID != m.who.ID {
		deleteErr = ErrForbidden
		return deleteErr
	}

	if err := m.service.store.Delete(ctx, messageID); err != nil {
		deleteErr = translate(err)
		return deleteErr
	}
	m.service.logger.Debug("message deleted", "message_id", messageID, "user_id", m.who.ID, "draft", msg.IsDraft)

	if err := publishEvent(ctx, m.service, m.service.events.MessageDeleted, "MessageDeleted", messageID, MessageDeletedEvent{
		MessageID: messageID,
		UserID:    m.who.ID,
		WasDraft:  msg.IsDraft,
		DeletedAt: time.Now().UTC(),
	}); err != nil {
		deleteErr = err
		return err
	}
	return nil
}
