package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/rbaliyan/campusmail/store"
)

// Counts returns per-folder totals for viewerID in one statement. Each
// total is a COUNT(*) FILTER over the same predicate List uses for the
// folder, so counts and listings cannot drift apart.
func (s *Store) Counts(ctx context.Context, viewerID string) (*store.Counts, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if viewerID == "" {
		return nil, store.ErrInvalidArgument
	}

	query, args, cfs, err := s.countsQuery(viewerID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	totals := make([]int64, len(cfs))
	dest := make([]any, len(cfs))
	for i := range totals {
		dest[i] = &totals[i]
	}
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(dest...); err != nil {
		return nil, fmt.Errorf("count folders: %w", err)
	}

	counts := &store.Counts{}
	for i, cf := range cfs {
		counts.Set(cf.Name, totals[i])
	}
	return counts, nil
}

func (s *Store) countsQuery(viewerID string) (string, []any, []store.CountFilter, error) {
	cfs := store.CountFilters(viewerID)
	var w whereBuilder
	selects := make([]string, 0, len(cfs))
	for _, cf := range cfs {
		cond, err := w.build(cf.Filter)
		if err != nil {
			return "", nil, nil, err
		}
		selects = append(selects, fmt.Sprintf("COUNT(*) FILTER (WHERE %s)", cond))
	}
	scope, err := w.build(store.ParticipantIs(viewerID))
	if err != nil {
		return "", nil, nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, strings.Join(selects, ", "), s.opts.table, scope)
	return query, w.args, cfs, nil
}
