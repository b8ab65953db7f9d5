package campusmail

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/campusmail/store"
	"github.com/rbaliyan/event/v3"
)

// Event names for campusmail events.
const (
	EventNameMessageSent    = "campusmail.message.sent"
	EventNameMessageRead    = "campusmail.message.read"
	EventNameMessageFlagged = "campusmail.message.flagged"
	EventNameMessageDeleted = "campusmail.message.deleted"
)

// MessageSentEvent is published when a message is delivered to its receiver.
type MessageSentEvent struct {
	MessageID  string         `json:"message_id"`
	ThreadID   string         `json:"thread_id,omitempty"`
	SenderID   string         `json:"sender_id"`
	ReceiverID string         `json:"receiver_id"`
	Subject    string         `json:"subject"`
	Priority   store.Priority `json:"priority"`
	Category   store.Category `json:"category"`
	SentAt     time.Time      `json:"sent_at"`
}

// MessageReadEvent is published when the receiver marks a message read.
// Use this for read receipts.
type MessageReadEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// MessageFlaggedEvent is published when a flag actually changes.
// Repeating a flag that is already set publishes nothing.
type MessageFlaggedEvent struct {
	MessageID string     `json:"message_id"`
	UserID    string     `json:"user_id"`
	Flag      store.Flag `json:"flag"`
	FlaggedAt time.Time  `json:"flagged_at"`
}

// MessageDeletedEvent is published when a message is removed.
type MessageDeletedEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	WasDraft  bool      `json:"was_draft"`
	DeletedAt time.Time `json:"deleted_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus.
//
// Subscribe to events:
//
//	svc.Events().MessageSent.Subscribe(ctx, handler)
//	svc.Events().MessageRead.Subscribe(ctx, handler)
type ServiceEvents struct {
	MessageSent    event.Event[MessageSentEvent]
	MessageRead    event.Event[MessageReadEvent]
	MessageFlagged event.Event[MessageFlaggedEvent]
	MessageDeleted event.Event[MessageDeletedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageSent:    event.New[MessageSentEvent](namePrefix + "." + EventNameMessageSent),
		MessageRead:    event.New[MessageReadEvent](namePrefix + "." + EventNameMessageRead),
		MessageFlagged: event.New[MessageFlaggedEvent](namePrefix + "." + EventNameMessageFlagged),
		MessageDeleted: event.New[MessageDeletedEvent](namePrefix + "." + EventNameMessageDeleted),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageSent); err != nil {
		return fmt.Errorf("register MessageSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageRead); err != nil {
		return fmt.Errorf("register MessageRead: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageFlagged); err != nil {
		return fmt.Errorf("register MessageFlagged: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageDeleted); err != nil {
		return fmt.Errorf("register MessageDeleted: %w", err)
	}
	return nil
}

// publishEvent publishes data on ev. When event errors are fatal the failure
// comes back as an *EventPublishError; otherwise it goes to the failure handler.
func publishEvent[T any](ctx context.Context, s *service, ev event.Event[T], name, messageID string, data T) error {
	if err := ev.Publish(ctx, data); err != nil {
		if s.opts.eventErrorsFatal {
			return &EventPublishError{Event: name, MessageID: messageID, Err: err}
		}
		s.opts.safeEventPublishFailure(name, err)
	}
	return nil
}
