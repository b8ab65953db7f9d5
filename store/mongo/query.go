package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rbaliyan/campusmail/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// parseID converts a hex ID. Malformed IDs cannot name a stored message.
func parseID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, store.ErrNotFound
	}
	return oid, nil
}

// Get retrieves a message by ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc, err := s.getDoc(ctx, oid)
	if err != nil {
		return nil, err
	}
	return docToMessage(doc), nil
}

func (s *Store) getDoc(ctx context.Context, oid bson.ObjectID) (*messageDoc, error) {
	var doc messageDoc
	if err := s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &doc, nil
}

// List returns one page of the query's folder, newest first.
func (s *Store) List(ctx context.Context, q store.Query) (*store.Page, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	pred, err := q.Filter()
	if err != nil {
		return nil, err
	}
	filter, err := buildFilter(pred)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	page := &store.Page{
		Items: []*store.Message{},
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
	}
	if q.Offset() >= total {
		return page, nil
	}

	findOpts := mongoopts.Find().
		SetSort(bson.D{
			{Key: "created_at", Value: -1},
			{Key: "_id", Value: -1},
		}).
		SetSkip(q.Offset()).
		SetLimit(int64(q.Limit))

	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	for i := range docs {
		page.Items = append(page.Items, docToMessage(&docs[i]))
	}
	return page, nil
}

// buildFilter renders a filter tree as a MongoDB query document.
func buildFilter(f store.Filter) (bson.D, error) {
	if f.IsZero() {
		return bson.D{}, nil
	}
	switch f.Operator() {
	case store.OpAnd, store.OpOr:
		children := f.Children()
		if len(children) == 0 {
			if f.Operator() == store.OpOr {
				// Matches nothing; an empty $or is rejected by the server.
				return bson.D{{Key: "_id", Value: bson.D{{Key: "$exists", Value: false}}}}, nil
			}
			return bson.D{}, nil
		}
		parts := make(bson.A, 0, len(children))
		for _, c := range children {
			p, err := buildFilter(c)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
		return bson.D{{Key: "$" + f.Operator(), Value: parts}}, nil
	case store.OpEq:
		path, ok := fields[f.Key()]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", store.ErrFilterInvalid, f.Key())
		}
		return bson.D{{Key: path, Value: bsonValue(f.Key(), f.Value())}}, nil
	case store.OpContains:
		path, ok := fields[f.Key()]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", store.ErrFilterInvalid, f.Key())
		}
		s, _ := f.Value().(string)
		return bson.D{{Key: path, Value: bson.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}}}, nil
	}
	return nil, fmt.Errorf("%w: unknown operator %q", store.ErrFilterInvalid, f.Operator())
}

// bsonValue converts typed enums to plain strings and message IDs to ObjectIDs.
func bsonValue(key string, v any) any {
	switch t := v.(type) {
	case store.Priority:
		return string(t)
	case store.Category:
		return string(t)
	case string:
		if key == store.FieldID {
			if oid, err := bson.ObjectIDFromHex(t); err == nil {
				return oid
			}
		}
	}
	return v
}
