package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// ErrNotFound is returned when a row addressed by ID does not exist.
var ErrNotFound = errors.New("not found")

// MessageFilter controls filtering and pagination for message queries.
type MessageFilter struct {
	Mailbox   *string
	Direction *string
	ChatOnly  bool
	Limit     int
	Offset    int
}

// Store defines the persistence interface for fetched messages, mailbox
// cursors, the SMTP outbox, and the lifecycle journal.
type Store interface {
	// === Messages ===

	UpsertMessages(ctx context.Context, msgs []model.Message) error
	GetMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error)

	// === Mailbox cursors ===

	GetCursor(ctx context.Context, mailbox string) (model.MailboxCursor, error)
	SetCursor(ctx context.Context, cursor model.MailboxCursor) error

	// === Outbox ===

	EnqueueOutgoing(ctx context.Context, item model.OutboxItem) (model.OutboxItem, error)
	DueOutgoing(ctx context.Context, now time.Time, limit int) ([]model.OutboxItem, error)
	NextDueAt(ctx context.Context) (time.Time, bool, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string, next time.Time) error

	// === Lifecycle journal ===

	RecordEvent(ctx context.Context, ev model.LifecycleEvent) error
	GetEvents(ctx context.Context, limit int) ([]model.LifecycleEvent, error)
}
