package campusmail

import (
	"context"
	"fmt"
	"io"
)

// OpenAttachment returns the content of one attachment of a message the
// viewer participates in. Content is read from the configured
// AttachmentSource using the reference's URI.
// Caller is responsible for closing the reader.
func (m *userMailbox) OpenAttachment(ctx context.Context, messageID, attachmentID string) (io.ReadCloser, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if m.service.attachments == nil {
		return nil, ErrAttachmentSourceNotConfigured
	}

	msg, err := m.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	ref, ok := msg.Attachment(attachmentID)
	if !ok || ref.URI == "" {
		return nil, ErrAttachmentNotFound
	}

	rc, err := m.service.attachments.Open(ctx, ref.URI)
	if err != nil {
		return nil, fmt.Errorf("open attachment %s: %w", attachmentID, err)
	}
	m.service.logger.Debug("attachment opened", "message_id", messageID, "attachment_id", attachmentID)
	return rc, nil
}
