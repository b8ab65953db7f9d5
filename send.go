package campusmail

import (
	"context"
	"time"

	"github.com/rbaliyan/campusmail/store"
	"go.opentelemetry.io/otel/attribute"
)

// SendDraft validates the viewer's own draft and sends it.
// Sending a message that was already sent returns ErrNotADraft.
func (m *userMailbox) SendDraft(ctx context.Context, messageID string) (*store.Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	draft, err := m.loadOwnDraft(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := ValidateLimits(draft, m.service.opts.getLimits()); err != nil {
		return nil, err
	}

	outgoing := draft.Clone()
	outgoing.IsDraft = false
	return m.send(ctx, outgoing, func(ctx context.Context) (*store.Message, error) {
		return m.service.store.Send(ctx, messageID)
	})
}

// send runs the delivery pipeline shared by direct composition and
// SendDraft: required-field validation, the concurrency limit, BeforeSend
// hooks, the store write, AfterSend hooks and the MessageSent event.
//
// If AfterSend or a fatal event publish fails, the message is still returned
// together with the error, since it has been sent.
func (m *userMailbox) send(ctx context.Context, outgoing *store.Message, write func(ctx context.Context) (*store.Message, error)) (*store.Message, error) {
	if err := store.ValidateForSend(outgoing); err != nil {
		return nil, translate(err)
	}

	ctx, done := m.service.otel.instrument(ctx, opSend,
		attribute.String("user_id", m.who.ID),
		attribute.String("category", string(outgoing.Category)),
		attribute.String("priority", string(outgoing.Priority)),
	)
	var sendErr error
	defer func() { done(sendErr) }()

	if err := m.service.sendSem.Acquire(ctx, 1); err != nil {
		sendErr = err
		return nil, sendErr
	}
	defer m.service.sendSem.Release(1)

	if err := m.service.plugins.beforeSend(ctx, outgoing); err != nil {
		sendErr = err
		return nil, sendErr
	}

	sent, err := write(ctx)
	if err != nil {
		sendErr = translate(err)
		return nil, sendErr
	}

	m.service.logger.Info("message sent",
		"message_id", sent.ID,
		"sender_id", sent.Sender.ID,
		"receiver_id", sent.Receiver.ID,
		"thread_id", sent.ThreadID,
	)

	if err := m.service.plugins.afterSend(ctx, sent); err != nil {
		sendErr = err
		return sent, sendErr
	}

	if err := publishEvent(ctx, m.service, m.service.events.MessageSent, "MessageSent", sent.ID, MessageSentEvent{
		MessageID:  sent.ID,
		ThreadID:   sent.ThreadID,
		SenderID:   sent.Sender.ID,
		ReceiverID: sent.Receiver.ID,
		Subject:    sent.Subject,
		Priority:   sent.Priority,
		Category:   sent.Category,
		SentAt:     time.Now().UTC(),
	}); err != nil {
		sendErr = err
		return sent, sendErr
	}

	return sent, nil
}
