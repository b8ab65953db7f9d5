package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/campusmail/store"
)

// SetFlag toggles one flag with a single UPDATE ... RETURNING that writes
// only the flag's columns and updated_at. A flag already in the requested
// state matches no row, and the message is returned unchanged.
func (s *Store) SetFlag(ctx context.Context, id string, flag store.Flag) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !flag.Valid() {
		return nil, store.ErrInvalidArgument
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}

	query := s.flagQuery(flag)

	updateCtx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var r row
	err := s.db.GetContext(updateCtx, &r, query, id, flag.Value(), now())
	if errors.Is(err, sql.ErrNoRows) {
		// Either missing or already set; Get tells the two apart.
		return s.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("set flag %s: %w", flag, err)
	}
	return r.message(), nil
}

// flagQuery builds the statement for flag. $1 is the id, $2 the new value
// and $3 the timestamp.
func (s *Store) flagQuery(flag store.Flag) string {
	col := columns[flag.Field()]
	set := col + " = $2, updated_at = $3"
	if flag.Field() == store.FieldIsRead {
		set += ", read_at = CASE WHEN $2 THEN $3 ELSE NULL END"
	}
	return fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 AND %s <> $2 RETURNING %s`,
		s.opts.table, set, col, messageColumns)
}

// UpdateDraft applies a partial edit to a draft under a row lock.
func (s *Store) UpdateDraft(ctx context.Context, id string, update store.DraftUpdate) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET subject = :subject, content = :content,
		    receiver_id = :receiver_id, receiver_name = :receiver_name, receiver_role = :receiver_role,
		    priority = :priority, category = :category, scheduled_for = :scheduled_for,
		    attachments = :attachments, updated_at = :updated_at
		WHERE id = :id
	`, s.opts.table)

	var out *store.Message
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		m, err := s.lockRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if !m.IsDraft {
			return store.ErrNotADraft
		}
		update.Apply(m, now())
		if _, err := tx.NamedExecContext(ctx, query, toRow(m)); err != nil {
			return fmt.Errorf("update draft: %w", err)
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Send moves a draft to the sent state after re-validating it under a row lock.
func (s *Store) Send(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET is_draft = FALSE, updated_at = $2 WHERE id = $1`, s.opts.table)

	var out *store.Message
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		m, err := s.lockRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if !m.IsDraft {
			return store.ErrNotADraft
		}
		if err := store.ValidateForSend(m); err != nil {
			return err
		}
		m.IsDraft = false
		m.UpdatedAt = now()
		if _, err := tx.ExecContext(ctx, query, id, m.UpdatedAt); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete permanently removes a message.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.opts.table)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// lockRow reads a message with SELECT ... FOR UPDATE inside tx.
func (s *Store) lockRow(ctx context.Context, tx *sqlx.Tx, id string) (*store.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, messageColumns, s.opts.table)
	var r row
	if err := tx.GetContext(ctx, &r, query, id); err != nil {
		if mapped := mapError(err); errors.Is(mapped, store.ErrNotFound) {
			return nil, mapped
		}
		return nil, fmt.Errorf("lock message: %w", err)
	}
	return r.message(), nil
}
