// Package mongo provides a MongoDB implementation of store.Store.
//
// Messages live in a single collection. Every document carries a version
// counter that each write increments; draft edits and sends read the
// document, validate it, and then write it back only if the version is
// unchanged.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/campusmail/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	opts       *options
	connected  int32
	logger     *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collection and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Open creates a client for uri and a store using it.
// The caller owns the returned client and must disconnect it.
func Open(uri string, opts ...Option) (*Store, *mongo.Client, error) {
	client, err := mongo.Connect(mongoopts.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	return New(client, opts...), client, nil
}

// Connect verifies the server and creates indexes.
func (s *Store) Connect(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 2) {
		return store.ErrAlreadyConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.collection = s.client.Database(s.opts.database).Collection(s.opts.collection)

	if err := s.ensureIndexes(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure indexes: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB", "database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.CompareAndSwapInt32(&s.connected, 1, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) != 1 {
		return store.ErrNotConnected
	}
	return nil
}

// ensureIndexes creates the indexes behind every folder predicate.
func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "thread_id", Value: 1}}},
		// Received, starred and archived views
		{Keys: bson.D{
			{Key: "receiver.id", Value: 1},
			{Key: "is_draft", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		// Sent and drafts views
		{Keys: bson.D{
			{Key: "sender.id", Value: 1},
			{Key: "is_draft", Value: 1},
			{Key: "created_at", Value: -1},
		}},
	}

	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}
