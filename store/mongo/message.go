package mongo

import (
	"time"

	"github.com/rbaliyan/campusmail/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// messageDoc is the MongoDB document representation.
// Filterable fields are stored even when empty so equality filters on ""
// behave like the other backends.
type messageDoc struct {
	ID           bson.ObjectID   `bson:"_id,omitempty"`
	Subject      string          `bson:"subject"`
	Content      string          `bson:"content"`
	Sender       identityDoc     `bson:"sender"`
	Receiver     identityDoc     `bson:"receiver"`
	Priority     string          `bson:"priority"`
	Category     string          `bson:"category"`
	IsDraft      bool            `bson:"is_draft"`
	IsRead       bool            `bson:"is_read"`
	ReadAt       *time.Time      `bson:"read_at,omitempty"`
	IsStarred    bool            `bson:"is_starred"`
	IsArchived   bool            `bson:"is_archived"`
	ThreadID     string          `bson:"thread_id"`
	ReplyToID    string          `bson:"reply_to_id"`
	ScheduledFor *time.Time      `bson:"scheduled_for,omitempty"`
	Attachments  []attachmentDoc `bson:"attachments,omitempty"`
	CreatedAt    time.Time       `bson:"created_at"`
	UpdatedAt    time.Time       `bson:"updated_at"`
	Version      int64           `bson:"version"`
}

type identityDoc struct {
	ID   string `bson:"id"`
	Name string `bson:"name"`
	Role string `bson:"role"`
}

// attachmentDoc is the MongoDB document for attachment references.
type attachmentDoc struct {
	ID          string `bson:"id"`
	Name        string `bson:"name,omitempty"`
	ContentType string `bson:"content_type,omitempty"`
	Size        int64  `bson:"size,omitempty"`
	URI         string `bson:"uri,omitempty"`
}

// fields maps storage field keys onto document paths.
var fields = map[string]string{
	store.FieldID:           "_id",
	store.FieldSenderID:     "sender.id",
	store.FieldSenderName:   "sender.name",
	store.FieldReceiverID:   "receiver.id",
	store.FieldReceiverName: "receiver.name",
	store.FieldSubject:      "subject",
	store.FieldContent:      "content",
	store.FieldPriority:     "priority",
	store.FieldCategory:     "category",
	store.FieldIsDraft:      "is_draft",
	store.FieldIsRead:       "is_read",
	store.FieldIsStarred:    "is_starred",
	store.FieldIsArchived:   "is_archived",
	store.FieldThreadID:     "thread_id",
	store.FieldReplyToID:    "reply_to_id",
	store.FieldCreatedAt:    "created_at",
}

// now returns the current time at BSON datetime precision, so returned
// messages compare equal to what a later Get reads back.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func toIdentityDoc(id store.Identity) identityDoc {
	return identityDoc{ID: id.ID, Name: id.Name, Role: id.Role}
}

func (d identityDoc) identity() store.Identity {
	return store.Identity{ID: d.ID, Name: d.Name, Role: d.Role}
}

func toAttachmentDocs(atts []store.Attachment) []attachmentDoc {
	if len(atts) == 0 {
		return nil
	}
	docs := make([]attachmentDoc, len(atts))
	for i, a := range atts {
		docs[i] = attachmentDoc{
			ID:          a.ID,
			Name:        a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
			URI:         a.URI,
		}
	}
	return docs
}

// messageToDoc converts m. The ID is left for the caller to set.
func messageToDoc(m *store.Message) *messageDoc {
	return &messageDoc{
		Subject:      m.Subject,
		Content:      m.Content,
		Sender:       toIdentityDoc(m.Sender),
		Receiver:     toIdentityDoc(m.Receiver),
		Priority:     string(m.Priority),
		Category:     string(m.Category),
		IsDraft:      m.IsDraft,
		IsRead:       m.IsRead,
		ReadAt:       msPtr(m.ReadAt),
		IsStarred:    m.IsStarred,
		IsArchived:   m.IsArchived,
		ThreadID:     m.ThreadID,
		ReplyToID:    m.ReplyToID,
		ScheduledFor: msPtr(m.ScheduledFor),
		Attachments:  toAttachmentDocs(m.Attachments),
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func docToMessage(doc *messageDoc) *store.Message {
	m := &store.Message{
		ID:           doc.ID.Hex(),
		Subject:      doc.Subject,
		Content:      doc.Content,
		Sender:       doc.Sender.identity(),
		Receiver:     doc.Receiver.identity(),
		Priority:     store.Priority(doc.Priority),
		Category:     store.Category(doc.Category),
		IsDraft:      doc.IsDraft,
		IsRead:       doc.IsRead,
		ReadAt:       utcPtr(doc.ReadAt),
		IsStarred:    doc.IsStarred,
		IsArchived:   doc.IsArchived,
		ThreadID:     doc.ThreadID,
		ReplyToID:    doc.ReplyToID,
		ScheduledFor: utcPtr(doc.ScheduledFor),
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
	if len(doc.Attachments) > 0 {
		m.Attachments = make([]store.Attachment, len(doc.Attachments))
		for i, a := range doc.Attachments {
			m.Attachments[i] = store.Attachment{
				ID:          a.ID,
				Name:        a.Name,
				ContentType: a.ContentType,
				Size:        a.Size,
				URI:         a.URI,
			}
		}
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

// msPtr is utcPtr truncated to BSON datetime precision.
func msPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC().Truncate(time.Millisecond)
	return &u
}
