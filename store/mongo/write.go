package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/campusmail/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SetFlag sets only the flag's fields and updated_at. The filter skips
// documents already in the requested state, so repeating a flag writes
// nothing and returns the message unchanged.
func (s *Store) SetFlag(ctx context.Context, id string, flag store.Flag) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !flag.Valid() {
		return nil, store.ErrInvalidArgument
	}
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter, update := flagUpdate(oid, flag, now())
	opts := mongoopts.FindOneAndUpdate().SetReturnDocument(mongoopts.After)

	var doc messageDoc
	err = s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Either missing or already set; getDoc tells the two apart.
		existing, err := s.getDoc(ctx, oid)
		if err != nil {
			return nil, err
		}
		return docToMessage(existing), nil
	}
	if err != nil {
		return nil, fmt.Errorf("set flag %s: %w", flag, err)
	}
	return docToMessage(&doc), nil
}

// flagUpdate returns the filter and update document for flag.
func flagUpdate(oid bson.ObjectID, flag store.Flag, ts time.Time) (bson.D, bson.D) {
	path := fields[flag.Field()]
	value := flag.Value()

	filter := bson.D{
		{Key: "_id", Value: oid},
		{Key: path, Value: bson.D{{Key: "$ne", Value: value}}},
	}

	set := bson.D{
		{Key: path, Value: value},
		{Key: "updated_at", Value: ts},
	}
	update := bson.D{}
	if flag.Field() == store.FieldIsRead {
		if value {
			set = append(set, bson.E{Key: "read_at", Value: ts})
		} else {
			update = append(update, bson.E{Key: "$unset", Value: bson.D{{Key: "read_at", Value: ""}}})
		}
	}
	update = append(update,
		bson.E{Key: "$set", Value: set},
		bson.E{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	)
	return filter, update
}

// UpdateDraft applies a partial edit to a draft.
func (s *Store) UpdateDraft(ctx context.Context, id string, update store.DraftUpdate) (*store.Message, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return s.modifyDraft(ctx, id, "update draft", func(m *store.Message) error {
		update.Apply(m, now())
		return nil
	})
}

// Send moves a draft to the sent state after re-validating it.
func (s *Store) Send(ctx context.Context, id string) (*store.Message, error) {
	return s.modifyDraft(ctx, id, "send", func(m *store.Message) error {
		if err := store.ValidateForSend(m); err != nil {
			return err
		}
		m.IsDraft = false
		m.UpdatedAt = now()
		return nil
	})
}

// modifyDraft reads a draft, applies fn and replaces the document if its
// version is unchanged. A lost race is retried with a fresh read; after
// maxRetries it fails with ErrConflict.
func (s *Store) modifyDraft(ctx context.Context, id, op string, fn func(*store.Message) error) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	for attempt := 0; attempt < s.opts.maxRetries; attempt++ {
		current, err := s.getDoc(ctx, oid)
		if err != nil {
			return nil, err
		}
		if !current.IsDraft {
			return nil, store.ErrNotADraft
		}

		m := docToMessage(current)
		if err := fn(m); err != nil {
			return nil, err
		}

		next := messageToDoc(m)
		next.ID = oid
		next.Version = current.Version + 1

		filter := bson.D{
			{Key: "_id", Value: oid},
			{Key: "is_draft", Value: true},
			{Key: "version", Value: current.Version},
		}
		result, err := s.collection.ReplaceOne(ctx, filter, next)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if result.MatchedCount == 1 {
			return docToMessage(next), nil
		}
		s.logger.Debug("draft changed concurrently, retrying", "id", id, "op", op, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%s %s: %w", op, id, store.ErrConflict)
}

// Delete permanently removes a message.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	oid, err := parseID(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
