package mongo

import (
	"context"
	"fmt"

	"github.com/rbaliyan/campusmail/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Counts returns per-folder totals for viewerID with a single $facet
// aggregation. Each facet matches the same filter List uses for the folder.
func (s *Store) Counts(ctx context.Context, viewerID string) (*store.Counts, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if viewerID == "" {
		return nil, store.ErrInvalidArgument
	}

	pipeline, err := countsPipeline(viewerID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count folders: %w", err)
	}
	defer cursor.Close(ctx)

	var results []map[string][]struct {
		N int64 `bson:"n"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode counts: %w", err)
	}

	counts := &store.Counts{}
	if len(results) == 0 {
		return counts, nil
	}
	for name, facet := range results[0] {
		if len(facet) > 0 {
			counts.Set(name, facet[0].N)
		}
	}
	return counts, nil
}

// countsPipeline scopes to the viewer's messages and counts each folder in
// its own facet. An empty facet means zero.
func countsPipeline(viewerID string) (bson.A, error) {
	scope, err := buildFilter(store.ParticipantIs(viewerID))
	if err != nil {
		return nil, err
	}
	cfs := store.CountFilters(viewerID)
	facets := make(bson.D, 0, len(cfs))
	for _, cf := range cfs {
		match, err := buildFilter(cf.Filter)
		if err != nil {
			return nil, err
		}
		facets = append(facets, bson.E{Key: cf.Name, Value: bson.A{
			bson.D{{Key: "$match", Value: match}},
			bson.D{{Key: "$count", Value: "n"}},
		}})
	}
	return bson.A{
		bson.D{{Key: "$match", Value: scope}},
		bson.D{{Key: "$facet", Value: facets}},
	}, nil
}
