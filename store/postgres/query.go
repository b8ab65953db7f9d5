package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rbaliyan/campusmail/store"
)

// columns maps storage field keys onto table columns.
var columns = map[string]string{
	store.FieldID:           "id",
	store.FieldSenderID:     "sender_id",
	store.FieldSenderName:   "sender_name",
	store.FieldReceiverID:   "receiver_id",
	store.FieldReceiverName: "receiver_name",
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

// Get retrieves a message by ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, s.opts.table)
	var r row
	if err := s.db.GetContext(ctx, &r, query, id); err != nil {
		if mapped := mapError(err); errors.Is(mapped, store.ErrNotFound) {
			return nil, mapped
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return r.message(), nil
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

	var w whereBuilder
	where, err := w.build(pred)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.opts.table, where)
	var total int64
	if err := s.db.GetContext(ctx, &total, countQuery, w.args...); err != nil {
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

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY created_at DESC, seq DESC
		LIMIT $%d OFFSET $%d
	`, messageColumns, s.opts.table, where, len(w.args)+1, len(w.args)+2)
	args := append(w.args, q.Limit, q.Offset())

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	for i := range rows {
		page.Items = append(page.Items, rows[i].message())
	}
	return page, nil
}

// whereBuilder renders a filter tree as a SQL boolean expression with
// positional arguments.
type whereBuilder struct {
	args []any
}

func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) build(f store.Filter) (string, error) {
	if f.IsZero() {
		return "TRUE", nil
	}
	switch f.Operator() {
	case store.OpAnd, store.OpOr:
		parts := make([]string, 0, len(f.Children()))
		for _, c := range f.Children() {
			p, err := w.build(c)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
		if len(parts) == 0 {
			if f.Operator() == store.OpOr {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		sep := " AND "
		if f.Operator() == store.OpOr {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	case store.OpEq:
		col, ok := columns[f.Key()]
		if !ok {
			return "", fmt.Errorf("%w: unknown field %q", store.ErrFilterInvalid, f.Key())
		}
		return col + " = " + w.arg(sqlValue(f.Value())), nil
	case store.OpContains:
		col, ok := columns[f.Key()]
		if !ok {
			return "", fmt.Errorf("%w: unknown field %q", store.ErrFilterInvalid, f.Key())
		}
		s, _ := f.Value().(string)
		return col + " ILIKE " + w.arg("%"+escapeLike(s)+"%") + ` ESCAPE '\'`, nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", store.ErrFilterInvalid, f.Operator())
}

// sqlValue converts typed enums to plain strings for the driver.
func sqlValue(v any) any {
	switch t := v.(type) {
	case store.Priority:
		return string(t)
	case store.Category:
		return string(t)
	}
	return v
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike quotes LIKE metacharacters so s matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
