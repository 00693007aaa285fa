package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/model"
)

// UpsertMessages inserts a batch of messages, updating rows that already
// exist for the same mailbox and UID.
func (s *SQLiteStore) UpsertMessages(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO messages (
			id, mailbox, uid, message_id,
			from_addr, to_addrs, subject, body,
			date, is_chat, direction, fetched_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?
		)
		ON CONFLICT(mailbox, uid) DO UPDATE SET
			message_id = excluded.message_id,
			from_addr  = excluded.from_addr,
			to_addrs   = excluded.to_addrs,
			subject    = excluded.subject,
			body       = excluded.body,
			date       = excluded.date,
			is_chat    = excluded.is_chat,
			direction  = excluded.direction,
			fetched_at = excluded.fetched_at`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.Direction == "" {
			m.Direction = model.DirectionIncoming
		}
		if m.FetchedAt.IsZero() {
			m.FetchedAt = now
		}

		_, err = stmt.ExecContext(ctx,
			m.ID, m.Mailbox, m.UID, m.MessageID,
			m.From, m.To, m.Subject, m.Body,
			m.Date.UTC(), m.IsChat, m.Direction, m.FetchedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upserting message %s/%d: %w", m.Mailbox, m.UID, err)
		}
	}

	return tx.Commit()
}

// GetMessages retrieves messages matching the filter, newest UID first.
func (s *SQLiteStore) GetMessages(
	ctx context.Context,
	filter MessageFilter,
) ([]model.Message, error) {
	var conditions []string
	var args []interface{}

	if filter.Mailbox != nil {
		conditions = append(conditions, "mailbox = ?")
		args = append(args, *filter.Mailbox)
	}
	if filter.Direction != nil {
		conditions = append(conditions, "direction = ?")
		args = append(args, *filter.Direction)
	}
	if filter.ChatOnly {
		conditions = append(conditions, "is_chat = 1")
	}

	query := "SELECT * FROM messages"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY mailbox, uid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var msgs []model.Message
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return msgs, nil
}

// GetCursor returns the fetch cursor for mailbox. A mailbox that has
// never been fetched yields a zero cursor.
func (s *SQLiteStore) GetCursor(
	ctx context.Context,
	mailbox string,
) (model.MailboxCursor, error) {
	var cursor model.MailboxCursor
	err := s.db.GetContext(ctx, &cursor,
		"SELECT * FROM mailbox_cursors WHERE mailbox = ?", mailbox)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MailboxCursor{Mailbox: mailbox}, nil
	}
	if err != nil {
		return model.MailboxCursor{}, fmt.Errorf("getting cursor for %s: %w", mailbox, err)
	}
	return cursor, nil
}

// SetCursor stores the fetch cursor for a mailbox.
func (s *SQLiteStore) SetCursor(ctx context.Context, cursor model.MailboxCursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mailbox_cursors (mailbox, uid_validity, last_uid, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(mailbox) DO UPDATE SET
			uid_validity = excluded.uid_validity,
			last_uid     = excluded.last_uid,
			updated_at   = excluded.updated_at`,
		cursor.Mailbox, cursor.UIDValidity, cursor.LastUID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting cursor for %s: %w", cursor.Mailbox, err)
	}
	return nil
}
