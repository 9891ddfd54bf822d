// Package dispatch fans one campaign payload out to a recipient list.
//
// Delivery is best-effort: a failure for one recipient is counted and never
// aborts the batch, and no per-recipient retry is attempted. Pacing is a
// fixed interval between consecutive sends (flood-control), implemented as a
// burst-1 rate limiter so a cancelled context interrupts the wait cleanly.
// The dispatcher holds no scheduling state and never touches the store.
package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

type Config struct {
	// SendInterval is the fixed pause between consecutive sends.
	SendInterval time.Duration
	// SendTimeout bounds each individual transport call.
	SendTimeout time.Duration
}

// Report aggregates one fan-out. Attempted can be short of the recipient
// count when the context was cancelled mid-batch.
type Report struct {
	Attempted int
	Sent      int
	Failed    int
}

// Sender is the outbound transport capability the dispatcher calls.
type Sender interface {
	Send(ctx context.Context, to transport.ChatTarget, msg transport.Content, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender Sender
	log    logx.Logger
}

func New(cfg Config, sender Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{sender: sender, log: log}
	d.Apply(cfg)
	return d
}

// Apply updates pacing at runtime. Safe to call concurrently with Deliver;
// an in-flight batch picks the new limiter up on its next send.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = 50 * time.Millisecond
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = rate.NewLimiter(rate.Every(cfg.SendInterval), 1)
	d.mu.Unlock()
}

// Deliver sends msg to every recipient in order, pacing between sends.
// Per-recipient failures are absorbed into the report. Cancelling ctx stops
// not-yet-started sends; deliveries already issued cannot be recalled.
func (d *Dispatcher) Deliver(ctx context.Context, msg transport.Content, recipients []int64) Report {
	start := time.Now()
	var rep Report

	for _, id := range recipients {
		d.mu.Lock()
		lim := d.limiter
		timeout := d.cfg.SendTimeout
		d.mu.Unlock()

		if err := lim.Wait(ctx); err != nil {
			// context cancelled; remaining recipients stay unattempted
			break
		}
		rep.Attempted++

		sctx, cancel := context.WithTimeout(ctx, timeout)
		_, err := d.sender.Send(sctx, transport.ChatTarget{ChatID: id}, msg, nil)
		cancel()
		if err != nil {
			rep.Failed++
			d.log.Debug("send failed", logx.Int64("recipient", id), logx.Err(err))
			continue
		}
		rep.Sent++
	}

	fields := []logx.Field{
		logx.Int("recipients", len(recipients)),
		logx.Int("attempted", rep.Attempted),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if rep.Failed > 0 || rep.Attempted < len(recipients) {
		d.log.Warn("fan-out finished with failures", fields...)
	} else {
		d.log.Info("fan-out finished", fields...)
	}
	return rep
}
