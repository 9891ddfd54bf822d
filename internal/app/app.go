// Package app wires config, storage, scheduling and transport into one
// runnable bot.
//
// Startup order matters: recovery re-arms timers from durable state before
// the adapter starts polling, so no new scheduling request can race the
// recovery pass.
package app

import (
	"context"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"

	"castbot/internal/campaign"
	"castbot/internal/config"
	"castbot/internal/directory"
	"castbot/internal/dispatch"
	"castbot/internal/router"
	"castbot/internal/storage"
	"castbot/internal/transport"
	"castbot/internal/transport/telegram"
	logx "castbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store   *storage.Store
	adapter *telegram.Adapter
	disp    *dispatch.Dispatcher
	sched   *campaign.Scheduler
	janitor *campaign.Janitor
	router  *router.Router

	updates   chan transport.Update
	bgCancel  context.CancelFunc
	bgWG      sync.WaitGroup
	startOnce sync.Once
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	if _, err := mgr.Load(); err != nil {
		return nil, err
	}
	return &App{cfgMgr: mgr}, nil
}

func (a *App) Start(ctx context.Context) error {
	var startErr error
	a.startOnce.Do(func() { startErr = a.start(ctx) })
	return startErr
}

func (a *App) start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	a.logSvc, a.log = logx.New(logx.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console})
	a.cfgMgr.SetLogger(a.log.With(logx.String("component", "config")))

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}, a.log.With(logx.String("component", "storage")))
	if err != nil {
		return err
	}
	a.store = store

	dir := directory.New(store, a.log.With(logx.String("component", "directory")))

	a.adapter, err = telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutOrDefault(),
		SendTimeout: cfg.Dispatch.SendTimeoutOrDefault(),
	}, a.log.With(logx.String("component", "telegram")))
	if err != nil {
		_ = store.Close()
		return err
	}

	a.disp = dispatch.New(dispatch.Config{
		SendInterval: cfg.Dispatch.SendIntervalOrDefault(),
		SendTimeout:  cfg.Dispatch.SendTimeoutOrDefault(),
	}, a.adapter, a.log.With(logx.String("component", "dispatch")))

	a.sched = campaign.NewScheduler(store, dir, a.disp, a.log.With(logx.String("component", "scheduler")))
	ctrl := campaign.NewController(store, a.sched, a.disp, dir, a.log.With(logx.String("component", "campaign")))

	a.router = router.New(router.Config{
		Admins:   cfg.Telegram.Admins,
		Location: cfg.Scheduler.Location(),
	}, a.adapter, ctrl, dir, a.log.With(logx.String("component", "router")))

	// Recover before accepting any new scheduling request.
	a.sched.Start(ctx)
	if err := a.sched.Recover(ctx); err != nil {
		_ = store.Close()
		return err
	}

	if cfg.Retention != nil && cfg.Retention.Enabled {
		a.janitor, err = campaign.NewJanitor(store,
			cfg.Retention.KeepForOrDefault(), cfg.Retention.CronOrDefault(),
			a.log.With(logx.String("component", "janitor")))
		if err != nil {
			_ = store.Close()
			return err
		}
		a.janitor.Start()
	}

	a.updates = make(chan transport.Update, 256)
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		_ = store.Close()
		return err
	}

	bgCtx, cancel := context.WithCancel(ctx)
	a.bgCancel = cancel

	a.bgWG.Add(2)
	go a.pump(bgCtx)
	go a.watchConfig(bgCtx)

	// Signal readiness only after recovery completed and polling started.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("bot started", logx.Int("pending", a.sched.Armed()))
	return nil
}

// pump hands every update its own goroutine so a long-running fan-out or a
// slow handler never starves arming/cancel commands arriving during it.
func (a *App) pump(ctx context.Context) {
	defer a.bgWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			go a.router.Handle(ctx, up)
		}
	}
}

func (a *App) watchConfig(ctx context.Context) {
	defer a.bgWG.Done()

	sub := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(sub)

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := a.cfgMgr.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			<-watchDone
			return
		case cfg := <-sub:
			if cfg == nil {
				continue
			}
			a.apply(cfg)
		}
	}
}

// apply re-applies the hot-reloadable config slices. Token, storage path and
// the transport HTTP client bound (derived from send_timeout at construction)
// still require a restart; reloaded send_timeout reaches dispatcher pacing
// contexts only.
func (a *App) apply(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console})
	a.disp.Apply(dispatch.Config{
		SendInterval: cfg.Dispatch.SendIntervalOrDefault(),
		SendTimeout:  cfg.Dispatch.SendTimeoutOrDefault(),
	})
	a.router.Apply(router.Config{
		Admins:   cfg.Telegram.Admins,
		Location: cfg.Scheduler.Location(),
	})
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.adapter != nil {
		_ = a.adapter.Stop(ctx)
	}
	if a.bgCancel != nil {
		a.bgCancel()
	}
	a.bgWG.Wait()

	if a.janitor != nil {
		a.janitor.Stop()
	}
	if a.sched != nil {
		a.sched.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if !a.log.IsZero() {
		a.log.Info("bot stopped")
	}
	return nil
}
