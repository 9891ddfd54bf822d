package campaign

import (
	"context"
	"errors"
	"sync"
	"time"

	"castbot/internal/storage"
	logx "castbot/pkg/logx"
)

// Scheduler owns the in-memory timer handles, keyed by broadcast id.
// No other component may hold or cancel a handle directly.
type Scheduler struct {
	store    Store
	audience Audience
	disp     Dispatcher
	log      logx.Logger

	mu        sync.Mutex
	timers    map[int64]*time.Timer
	gen       map[int64]uint64
	inflight  map[int64]context.CancelFunc
	runCtx    context.Context
	runCancel context.CancelFunc
	fireWG    sync.WaitGroup
}

func NewScheduler(store Store, audience Audience, disp Dispatcher, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		store:    store,
		audience: audience,
		disp:     disp,
		log:      log,
		timers:   map[int64]*time.Timer{},
		gen:      map[int64]uint64{},
		inflight: map[int64]context.CancelFunc{},
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.log.Debug("scheduler started")
}

// Stop destroys runtime timer handles and halts in-flight fan-outs.
// Durable rows are untouched; Recover() re-arms them on next start.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.runCtx == nil {
		s.mu.Unlock()
		return
	}
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	for id, cancel := range s.inflight {
		cancel()
		delete(s.inflight, id)
	}
	cancel := s.runCancel
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.fireWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop cancelled; fan-outs finishing in background")
	}
}

// Arm creates (or replaces) the timer handle for a broadcast. Arming is
// idempotent per id: re-arming replaces rather than duplicates the handle,
// which also makes Recover() safe to run against an armed set. A target time
// in the past fires immediately; deferred work is never silently dropped.
func (s *Scheduler) Arm(id int64, sendAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		s.log.Error("arm on stopped scheduler", logx.Int64("id", id))
		return
	}
	if t := s.timers[id]; t != nil {
		t.Stop()
	}
	g := s.gen[id] + 1
	s.gen[id] = g

	delay := time.Until(sendAt)
	if delay < 0 {
		delay = 0
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id, g) })
	s.log.Debug("broadcast armed", logx.Int64("id", id), logx.Time("send_at", sendAt), logx.Duration("in", delay))
}

// Cancel destroys the timer handle (if any), invalidates a not-yet-run
// callback, halts an in-flight fan-out best-effort, and deletes the durable
// row if it is still scheduled. Already-fired or already-cancelled ids
// report nothing removed; terminal rows are never deleted here.
func (s *Scheduler) Cancel(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	removed := false
	if t := s.timers[id]; t != nil {
		t.Stop()
		delete(s.timers, id)
		removed = true
	}
	// Invalidate a callback that may already be scheduled to run.
	if _, ok := s.gen[id]; ok {
		s.gen[id]++
	}
	if cancel := s.inflight[id]; cancel != nil {
		cancel()
	}
	s.mu.Unlock()

	rowGone, err := s.store.DeleteBroadcast(ctx, id)
	if err != nil {
		return removed, err
	}
	return removed || rowGone, nil
}

// Recover reads all scheduled rows and arms a timer for each. It must run
// before any new scheduling request is accepted. Corrupt rows are logged and
// skipped rather than crashing the process; running Recover twice arms each
// row exactly once (Arm replaces).
func (s *Scheduler) Recover(ctx context.Context) error {
	rows, err := s.store.PendingBroadcasts(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	armed, overdue, skipped := 0, 0, 0
	for _, b := range rows {
		if b.Content.Empty() {
			s.log.Warn("recovery: skipping corrupt scheduled row",
				logx.Int64("id", b.ID), logx.Time("send_at", b.SendAt))
			skipped++
			continue
		}
		if b.SendAt.Before(now) {
			overdue++
		}
		s.Arm(b.ID, b.SendAt)
		armed++
	}
	s.log.Info("recovery complete",
		logx.Int("armed", armed), logx.Int("overdue", overdue), logx.Int("skipped", skipped))
	return nil
}

// Armed reports how many timer handles are live.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// fire runs in the timer goroutine. The store row is the source of truth: a
// handle whose row has been cancelled or already sent is a safe no-op.
func (s *Scheduler) fire(id int64, g uint64) {
	s.mu.Lock()
	if s.gen[id] != g || s.runCtx == nil {
		// cancelled or replaced between arming and firing
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	fctx, cancel := context.WithCancel(s.runCtx)
	s.inflight[id] = cancel
	s.fireWG.Add(1)
	s.mu.Unlock()

	defer s.fireWG.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, id)
		delete(s.gen, id)
		s.mu.Unlock()
		cancel()
	}()

	log := s.log.With(logx.Int64("id", id))

	b, err := s.store.PendingBroadcast(fctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		log.Debug("fire skipped; broadcast no longer pending")
		return
	}
	if err != nil {
		// Row stays scheduled; next recovery will pick it up.
		log.Error("fire aborted; store unreadable", logx.Err(err))
		return
	}

	recipients, err := s.audience.All(fctx)
	if err != nil {
		log.Error("fire aborted; audience unreadable", logx.Err(err))
		return
	}

	log.Info("broadcast firing", logx.Int("recipients", len(recipients)))
	rep := s.disp.Deliver(fctx, b.Content, recipients)

	// Status write uses its own context so a racing Cancel or shutdown does
	// not leave the row scheduled after deliveries went out.
	wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer wcancel()
	if err := s.store.MarkSent(wctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Debug("row deleted during fan-out; cancel won the race")
		} else {
			log.Error("mark sent failed", logx.Err(err))
		}
	}
	if err := s.store.AppendAudit(wctx, storage.AuditEntry{
		Action:      "fire",
		BroadcastID: id,
		Attempted:   rep.Attempted,
		Sent:        rep.Sent,
		Failed:      rep.Failed,
	}); err != nil {
		log.Warn("audit append failed", logx.Err(err))
	}
}
