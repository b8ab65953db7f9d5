package memory

import (
	"context"

	"github.com/rbaliyan/campusmail/store"
)

// Counts returns per-folder totals for viewerID in a single pass over the
// stored snapshots, using the same predicates as List.
func (s *Store) Counts(ctx context.Context, viewerID string) (*store.Counts, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if viewerID == "" {
		return nil, store.ErrInvalidArgument
	}

	cfs := store.CountFilters(viewerID)
	totals := make([]int64, len(cfs))
	s.messages.Range(func(_, v any) bool {
		m := v.(*entry).msg
		if m.Sender.ID != viewerID && m.Receiver.ID != viewerID {
			return true
		}
		for i, cf := range cfs {
			if matches(m, cf.Filter) {
				totals[i]++
			}
		}
		return ctx.Err() == nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := &store.Counts{}
	for i, cf := range cfs {
		counts.Set(cf.Name, totals[i])
	}
	return counts, nil
}
