package store

import (
	"context"
	"io"
)

// AttachmentSource reads attachment content referenced by a message.
// The mailbox never writes attachment content; uploads and retention belong
// to the attachment store that issued the URI.
type AttachmentSource interface {
	// Open returns a reader for the content behind uri.
	// Caller is responsible for closing the reader.
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}
