package campaign

import (
	"context"
	"fmt"
	"time"

	"castbot/internal/dispatch"
	"castbot/internal/storage"
	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// Controller exposes the operator-facing campaign operations. Validation
// failures never reach the scheduler or the store.
type Controller struct {
	store    Store
	sched    *Scheduler
	disp     Dispatcher
	audience Audience
	log      logx.Logger
}

func NewController(store Store, sched *Scheduler, disp Dispatcher, audience Audience, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{store: store, sched: sched, disp: disp, audience: audience, log: log}
}

// SendNow delivers content to the full current audience immediately. There
// is no pending window, so nothing is persisted as scheduled; the outcome is
// still recorded in the audit log.
func (c *Controller) SendNow(ctx context.Context, actor int64, content transport.Content) (dispatch.Report, error) {
	if content.Empty() {
		return dispatch.Report{}, fmt.Errorf("%w: empty content", ErrInvalidRequest)
	}
	recipients, err := c.audience.All(ctx)
	if err != nil {
		return dispatch.Report{}, err
	}

	rep := c.disp.Deliver(ctx, content, recipients)

	if err := c.store.AppendAudit(ctx, storage.AuditEntry{
		ActorID:   actor,
		Action:    "send_now",
		Attempted: rep.Attempted,
		Sent:      rep.Sent,
		Failed:    rep.Failed,
	}); err != nil {
		c.log.Warn("audit append failed", logx.Err(err))
	}
	return rep, nil
}

// Schedule persists a deferred broadcast and arms its timer. The target time
// must be strictly in the future.
func (c *Controller) Schedule(ctx context.Context, actor int64, content transport.Content, sendAt time.Time) (int64, error) {
	if content.Empty() {
		return 0, fmt.Errorf("%w: empty content", ErrInvalidRequest)
	}
	if !sendAt.After(time.Now()) {
		return 0, fmt.Errorf("%w: target time %s is not in the future", ErrInvalidRequest, sendAt.Format(time.RFC3339))
	}

	id, err := c.store.CreateBroadcast(ctx, content, sendAt)
	if err != nil {
		return 0, err
	}
	c.sched.Arm(id, sendAt)

	c.log.Info("broadcast scheduled",
		logx.Int64("id", id), logx.Int64("actor", actor), logx.Time("send_at", sendAt))
	if err := c.store.AppendAudit(ctx, storage.AuditEntry{
		ActorID:     actor,
		Action:      "schedule",
		BroadcastID: id,
	}); err != nil {
		c.log.Warn("audit append failed", logx.Err(err))
	}
	return id, nil
}

// Cancel removes a still-pending broadcast. ErrNotFound distinguishes
// "nothing to cancel" (unknown id, already sent, already cancelled).
func (c *Controller) Cancel(ctx context.Context, actor int64, id int64) error {
	removed, err := c.sched.Cancel(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}

	c.log.Info("broadcast cancelled", logx.Int64("id", id), logx.Int64("actor", actor))
	if err := c.store.AppendAudit(ctx, storage.AuditEntry{
		ActorID:     actor,
		Action:      "cancel",
		BroadcastID: id,
	}); err != nil {
		c.log.Warn("audit append failed", logx.Err(err))
	}
	return nil
}

// Pending lists scheduled broadcasts ordered by target time ascending.
func (c *Controller) Pending(ctx context.Context) ([]storage.Broadcast, error) {
	return c.store.PendingBroadcasts(ctx)
}
