package campaign

import (
	"context"
	"errors"
	"time"

	"castbot/internal/dispatch"
	"castbot/internal/storage"
	"castbot/internal/transport"
)

// ErrInvalidRequest marks bad operator input (empty content, past target
// time). It is reported immediately and never reaches the store.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound is returned when a cancel targets a broadcast that does not
// exist or has already fired.
var ErrNotFound = errors.New("broadcast not found")

// Store is the durable-store contract the campaign layer depends on.
type Store interface {
	CreateBroadcast(ctx context.Context, content transport.Content, sendAt time.Time) (int64, error)
	PendingBroadcasts(ctx context.Context) ([]storage.Broadcast, error)
	PendingBroadcast(ctx context.Context, id int64) (storage.Broadcast, error)
	MarkSent(ctx context.Context, id int64) error
	DeleteBroadcast(ctx context.Context, id int64) (bool, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Audience enumerates current recipients.
type Audience interface {
	All(ctx context.Context) ([]int64, error)
}

// Dispatcher performs the fan-out. It never touches the store.
type Dispatcher interface {
	Deliver(ctx context.Context, msg transport.Content, recipients []int64) dispatch.Report
}
