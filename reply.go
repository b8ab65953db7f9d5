package campusmail

import (
	"context"
	"fmt"
	"strings"

	"github.com/rbaliyan/campusmail/store"
)

// replyPrefix is prepended to reply subjects.
const replyPrefix = "RE: "

// quoteDateLayout formats the date in the quote header.
const quoteDateLayout = "Mon, 2 Jan 2006 at 15:04"

// ReplyTo returns an unsaved draft answering messageID: addressed to the
// original sender, linked through ReplyToID, with a prefixed subject and the
// original content quoted. Nothing is stored; pass the draft to Compose.
func (m *userMailbox) ReplyTo(ctx context.Context, messageID string) (*Draft, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	original, err := m.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if original.IsDraft {
		return nil, fmt.Errorf("%w: cannot reply to a draft", ErrInvalidArgument)
	}

	return &Draft{
		Subject:   ReplySubject(original.Subject),
		Content:   QuoteContent(original),
		Receiver:  original.Sender,
		Category:  original.Category,
		ReplyToID: original.ID,
		IsDraft:   true,
	}, nil
}

// ReplySubject prefixes subject with "RE: " unless it already starts with
// "RE:" in any letter case.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "RE:") {
		return trimmed
	}
	return replyPrefix + trimmed
}

// QuoteContent renders msg's content as a quoted block under an
// "On <date>, <name> wrote:" header, every line prefixed with "> ".
func QuoteContent(msg *store.Message) string {
	var b strings.Builder
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "On %s, %s wrote:\n", msg.CreatedAt.UTC().Format(quoteDateLayout), msg.Sender.Name)
	for line := range strings.Lines(msg.Content) {
		b.WriteString("> ")
		b.WriteString(strings.TrimRight(line, "\r\n"))
		b.WriteString("\n")
	}
	return b.String()
}
