package model

import "time"

// Message direction values.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Message is a mail message the core has fetched from a mailbox.
type Message struct {
	// ID is the internal unique identifier for this message.
	ID string `json:"id" db:"id"`

	// Mailbox is the IMAP folder the message was fetched from.
	Mailbox string `json:"mailbox" db:"mailbox"`

	// UID is the IMAP UID within Mailbox.
	UID uint32 `json:"uid" db:"uid"`

	// MessageID is the RFC 5322 Message-Id without angle brackets.
	MessageID string `json:"message_id" db:"message_id"`

	From    string    `json:"from" db:"from_addr"`
	To      string    `json:"to" db:"to_addrs"`
	Subject string    `json:"subject" db:"subject"`
	Body    string    `json:"body" db:"body"`
	Date    time.Time `json:"date" db:"date"`

	// IsChat is set when the message carries a Chat-Version header.
	IsChat bool `json:"is_chat" db:"is_chat"`

	// Direction is DirectionIncoming or DirectionOutgoing.
	Direction string `json:"direction" db:"direction"`

	FetchedAt time.Time `json:"fetched_at" db:"fetched_at"`
}

// MailboxCursor records how far a mailbox has been fetched.
type MailboxCursor struct {
	Mailbox     string    `json:"mailbox" db:"mailbox"`
	UIDValidity uint32    `json:"uid_validity" db:"uid_validity"`
	LastUID     uint32    `json:"last_uid" db:"last_uid"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
