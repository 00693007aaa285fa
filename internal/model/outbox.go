package model

import "time"

// Outbox item states.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
)

// OutboxItem is a chat message waiting to be delivered over SMTP.
type OutboxItem struct {
	ID        string    `json:"id" db:"id"`
	To        string    `json:"to" db:"to_addr"`
	Subject   string    `json:"subject" db:"subject"`
	Body      string    `json:"body" db:"body"`
	State     string    `json:"state" db:"state"`
	Attempts  int       `json:"attempts" db:"attempts"`
	LastError string    `json:"last_error" db:"last_error"`
	NextAt    time.Time `json:"next_at" db:"next_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
