package memory

import (
	"slices"
	"strings"

	"github.com/rbaliyan/campusmail/store"
)

// matches evaluates a filter tree against a message.
func matches(m *store.Message, f store.Filter) bool {
	switch f.Operator() {
	case store.OpAnd:
		for _, c := range f.Children() {
			if !matches(m, c) {
				return false
			}
		}
		return true
	case store.OpOr:
		for _, c := range f.Children() {
			if matches(m, c) {
				return true
			}
		}
		return false
	case store.OpEq:
		return fieldValue(m, f.Key()) == normalizeValue(f.Value())
	case store.OpContains:
		s, ok := fieldValue(m, f.Key()).(string)
		q, _ := f.Value().(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(q))
	}
	return false
}

// fieldValue returns the comparable value stored under a field key.
func fieldValue(m *store.Message, key string) any {
	switch key {
	case store.FieldID:
		return m.ID
	case store.FieldSenderID:
		return m.Sender.ID
	case store.FieldSenderName:
		return m.Sender.Name
	case store.FieldReceiverID:
		return m.Receiver.ID
	case store.FieldReceiverName:
		return m.Receiver.Name
	case store.FieldSubject:
		return m.Subject
	case store.FieldContent:
		return m.Content
	case store.FieldPriority:
		return string(m.Priority)
	case store.FieldCategory:
		return string(m.Category)
	case store.FieldIsDraft:
		return m.IsDraft
	case store.FieldIsRead:
		return m.IsRead
	case store.FieldIsStarred:
		return m.IsStarred
	case store.FieldIsArchived:
		return m.IsArchived
	case store.FieldThreadID:
		return m.ThreadID
	case store.FieldReplyToID:
		return m.ReplyToID
	case store.FieldCreatedAt:
		return m.CreatedAt
	}
	return nil
}

// normalizeValue converts typed enum values to their string form so they
// compare equal to fieldValue's output.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case store.Priority:
		return string(t)
	case store.Category:
		return string(t)
	}
	return v
}

// sortNewestFirst orders entries by CreatedAt descending, latest insertion first on ties.
func sortNewestFirst(entries []*entry) {
	slices.SortFunc(entries, func(a, b *entry) int {
		if c := b.msg.CreatedAt.Compare(a.msg.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})
}
