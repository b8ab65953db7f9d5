package campusmail

import (
	"context"
	"fmt"

	"github.com/rbaliyan/campusmail/store"
	"go.opentelemetry.io/otel/attribute"
)

// Get returns a message the viewer participates in.
// Drafts are visible only to their sender; anything else is ErrNotFound.
func (m *userMailbox) Get(ctx context.Context, messageID string) (*store.Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	ctx, done := m.service.otel.instrument(ctx, opGet,
		attribute.String("user_id", m.who.ID),
		attribute.String("message_id", messageID),
	)
	msg, err := m.load(ctx, messageID)
	done(err)
	return msg, err
}

// List returns one page of one of the viewer's folders, newest first.
func (m *userMailbox) List(ctx context.Context, req ListRequest) (*store.Page, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if !req.Folder.Valid() {
		return nil, fmt.Errorf("%w: unknown folder %q", ErrInvalidArgument, req.Folder)
	}
	if req.Page < 0 || req.Limit < 0 {
		return nil, fmt.Errorf("%w: page and limit must be positive", ErrInvalidArgument)
	}
	if err := validateQueryFilters(req.Filters); err != nil {
		return nil, err
	}

	page := req.Page
	if page == 0 {
		page = 1
	}
	q := store.Query{
		ViewerID: m.who.ID,
		Folder:   req.Folder,
		Filters:  req.Filters,
		Page:     page,
		Limit:    m.service.opts.pageLimit(req.Limit),
	}

	ctx, done := m.service.otel.instrument(ctx, opList,
		attribute.String("user_id", m.who.ID),
		attribute.String("folder", string(req.Folder)),
	)
	result, err := m.service.store.List(ctx, q)
	err = translate(err)
	done(err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Counts returns the viewer's per-folder totals and unread count, computed
// from the same predicates as List.
func (m *userMailbox) Counts(ctx context.Context) (*store.Counts, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	ctx, done := m.service.otel.instrument(ctx, opCounts, attribute.String("user_id", m.who.ID))
	counts, err := m.service.store.Counts(ctx, m.who.ID)
	err = translate(err)
	done(err)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func validateQueryFilters(f store.QueryFilters) error {
	if f.Category != "" && !f.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidArgument, f.Category)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, f.Priority)
	}
	return nil
}
