package storage

import (
	"errors"
	"time"

	"castbot/internal/transport"
)

// ErrUnavailable marks store connectivity/IO failures. Operations failing
// with it are retryable; callers surface them instead of dropping requests.
var ErrUnavailable = errors.New("store unavailable")

// ErrNotFound is returned when a row does not exist (or is no longer in the
// expected state, e.g. MarkSent on an already-deleted broadcast).
var ErrNotFound = errors.New("not found")

// Status is the durable lifecycle state of a broadcast row.
//
// Transitions are scheduled -> sent (MarkSent) or scheduled -> gone
// (DeleteBroadcast); never backward. Sent rows are terminal and are only
// ever touched by retention pruning.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
)

// Broadcast is one scheduled campaign row.
type Broadcast struct {
	ID        int64
	Content   transport.Content
	SendAt    time.Time // absolute, stored UTC
	Status    Status
	CreatedAt time.Time
}

// AuditEntry records a campaign outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At          time.Time
	ActorID     int64
	Action      string
	BroadcastID int64
	Attempted   int
	Sent        int
	Failed      int
	Error       string
}
