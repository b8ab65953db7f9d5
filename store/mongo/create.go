package mongo

import (
	"context"
	"fmt"

	"github.com/rbaliyan/campusmail/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Create validates msg and inserts a copy under a new ObjectID.
func (s *Store) Create(ctx context.Context, msg *store.Message) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	m := msg.Clone()
	if err := store.PrepareCreate(m); err != nil {
		return nil, err
	}

	ts := now()
	m.CreatedAt = ts
	m.UpdatedAt = ts
	m.SyncReadAt(ts)

	doc := messageToDoc(m)
	doc.ID = bson.NewObjectID()

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return docToMessage(doc), nil
}
