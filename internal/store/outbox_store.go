package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/model"
)

// next_at is stored as unix nanoseconds so due-time comparisons are
// numeric rather than lexical.

// EnqueueOutgoing stores a new pending outbox item, due immediately
// unless NextAt is set.
func (s *SQLiteStore) EnqueueOutgoing(
	ctx context.Context,
	item model.OutboxItem,
) (model.OutboxItem, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	item.State = model.OutboxPending
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.NextAt.IsZero() {
		item.NextAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox (
			id, to_addr, subject, body, state,
			attempts, last_error, next_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.To, item.Subject, item.Body, item.State,
		item.Attempts, item.LastError, item.NextAt.UnixNano(), item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return model.OutboxItem{}, fmt.Errorf("enqueueing outgoing message: %w", err)
	}
	return item, nil
}

// DueOutgoing returns pending items whose next attempt is at or before
// now, oldest first.
func (s *SQLiteStore) DueOutgoing(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]model.OutboxItem, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, to_addr, subject, body, state,
			attempts, last_error, next_at, created_at, updated_at
		FROM outbox
		WHERE state = ? AND next_at <= ?
		ORDER BY created_at, id
		LIMIT ?`,
		model.OutboxPending, now.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying due outbox items: %w", err)
	}
	defer rows.Close()

	var items []model.OutboxItem
	for rows.Next() {
		var item model.OutboxItem
		var nextAt int64
		if err := rows.Scan(
			&item.ID, &item.To, &item.Subject, &item.Body, &item.State,
			&item.Attempts, &item.LastError, &nextAt, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		item.NextAt = time.Unix(0, nextAt).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextDueAt reports the earliest next-attempt time among pending items.
func (s *SQLiteStore) NextDueAt(ctx context.Context) (time.Time, bool, error) {
	var next sql.NullInt64
	err := s.db.GetContext(ctx, &next,
		"SELECT MIN(next_at) FROM outbox WHERE state = ?", model.OutboxPending)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying next outbox due time: %w", err)
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, next.Int64).UTC(), true, nil
}

// MarkSent records successful delivery of an outbox item.
func (s *SQLiteStore) MarkSent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET state = ?, attempts = attempts + 1, last_error = '', updated_at = ?
		WHERE id = ?`,
		model.OutboxSent, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking outbox item %s sent: %w", id, err)
	}
	return requireRow(result, "outbox item", id)
}

// MarkFailed records a failed delivery attempt and schedules the next one.
func (s *SQLiteStore) MarkFailed(
	ctx context.Context,
	id string,
	reason string,
	next time.Time,
) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = ?, next_at = ?, updated_at = ?
		WHERE id = ?`,
		reason, next.UnixNano(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking outbox item %s failed: %w", id, err)
	}
	return requireRow(result, "outbox item", id)
}

func requireRow(result sql.Result, what, id string) error {
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
