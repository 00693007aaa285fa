package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/model"
)

// RecordEvent appends an entry to the lifecycle journal.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev model.LifecycleEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_events (id, kind, detail, created_at)
		VALUES (?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.Detail, ev.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording %s event: %w", ev.Kind, err)
	}
	return nil
}

// GetEvents returns the most recent journal entries, newest first.
func (s *SQLiteStore) GetEvents(ctx context.Context, limit int) ([]model.LifecycleEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var events []model.LifecycleEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, kind, detail, created_at
		FROM lifecycle_events
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying lifecycle events: %w", err)
	}
	return events, nil
}
