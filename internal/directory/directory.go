// Package directory is the recipient registry: a thin, idempotent layer over
// the durable store. Recipients are appended on first contact and never
// removed by this subsystem.
package directory

import (
	"context"

	logx "castbot/pkg/logx"
)

// Store is the slice of the persistence layer the directory needs.
type Store interface {
	UpsertRecipient(ctx context.Context, id int64) error
	Recipients(ctx context.Context) ([]int64, error)
}

type Directory struct {
	store Store
	log   logx.Logger
}

func New(store Store, log logx.Logger) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{store: store, log: log}
}

// Register records a recipient. It is called on every inbound interaction,
// so it must stay cheap and idempotent.
func (d *Directory) Register(ctx context.Context, id int64) error {
	if err := d.store.UpsertRecipient(ctx, id); err != nil {
		d.log.Warn("recipient register failed", logx.Int64("recipient", id), logx.Err(err))
		return err
	}
	return nil
}

// All returns the current full audience. At the scale this bot targets a
// single materialization is fine; callers must not assume any ordering.
func (d *Directory) All(ctx context.Context) ([]int64, error) {
	return d.store.Recipients(ctx)
}
