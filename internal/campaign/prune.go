package campaign

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	logx "castbot/pkg/logx"
)

// PruneStore is the single store operation the janitor needs.
type PruneStore interface {
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically prunes terminal broadcast rows so the audit/list
// history stays bounded. Scheduled rows are never touched, and recovery
// never re-arms terminal rows regardless, so pruning is purely hygiene.
type Janitor struct {
	c       *cron.Cron
	store   PruneStore
	keepFor time.Duration
	log     logx.Logger
}

func NewJanitor(store PruneStore, keepFor time.Duration, spec string, log logx.Logger) (*Janitor, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if keepFor <= 0 {
		keepFor = 30 * 24 * time.Hour
	}
	j := &Janitor{
		c:       cron.New(),
		store:   store,
		keepFor: keepFor,
		log:     log,
	}
	if _, err := j.c.AddFunc(spec, j.run); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.c.Start()
	j.log.Debug("retention janitor started", logx.Duration("keep_for", j.keepFor))
}

func (j *Janitor) Stop() {
	<-j.c.Stop().Done()
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-j.keepFor)
	n, err := j.store.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		j.log.Warn("retention prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		j.log.Info("retention prune", logx.Int64("deleted", n), logx.Time("cutoff", cutoff))
	}
}
