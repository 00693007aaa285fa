package model

import "time"

// EventKind names a lifecycle transition recorded in the journal.
type EventKind string

const (
	EventStart       EventKind = "start"
	EventStop        EventKind = "stop"
	EventDrained     EventKind = "drained"
	EventForeground  EventKind = "foreground"
	EventBackground  EventKind = "background"
	EventFetch       EventKind = "background_fetch"
	EventTerminate   EventKind = "terminate"
	EventBudgetBegin EventKind = "budget_begin"
	EventBudgetEnd   EventKind = "budget_end"
	EventWatchdog    EventKind = "watchdog_stop"
	EventReachable   EventKind = "network_reachable"
	EventUnreachable EventKind = "network_unreachable"
)

// LifecycleEvent is one entry of the controller's journal.
type LifecycleEvent struct {
	ID        string    `json:"id" db:"id"`
	Kind      EventKind `json:"kind" db:"kind"`
	Detail    string    `json:"detail" db:"detail"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
