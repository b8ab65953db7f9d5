package memory

import (
	"context"

	"github.com/rbaliyan/campusmail/store"
)

// Get retrieves a message by ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.load(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.msg.Clone(), nil
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
	if err := pred.Check(); err != nil {
		return nil, err
	}

	var matched []*entry
	s.messages.Range(func(_, v any) bool {
		e := v.(*entry)
		if matches(e.msg, pred) {
			matched = append(matched, e)
		}
		return ctx.Err() == nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortNewestFirst(matched)

	page := &store.Page{
		Items: []*store.Message{},
		Total: int64(len(matched)),
		Page:  q.Page,
		Limit: q.Limit,
	}
	offset := q.Offset()
	if offset >= int64(len(matched)) {
		return page, nil
	}
	end := offset + int64(q.Limit)
	if end > int64(len(matched)) {
		end = int64(len(matched))
	}
	for _, e := range matched[offset:end] {
		page.Items = append(page.Items, e.msg.Clone())
	}
	return page, nil
}
