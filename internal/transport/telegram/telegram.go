// Package telegram adapts the neutral transport contract to the Telegram
// Bot API via telebot.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendTimeout bounds every Bot API HTTP call. A hung send must not be
	// able to stall a fan-out indefinitely.
	SendTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot       *tele.Bot
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the Telegram poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
		// The long poller keeps its own connection; this client only serves
		// outbound calls, so the timeout caps each send.
		Client: &http.Client{Timeout: sendTimeout + pollTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	}()

	push := func(up transport.Update) {
		select {
		case out <- up:
		default:
			atomic.AddUint64(&a.droppedUpdates, 1)
		}
	}

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if m := messageFrom(c); m != nil {
			push(transport.Update{Kind: transport.UpdateMessage, Message: m})
		}
		return nil
	})
	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		if m := messageFrom(c); m != nil {
			push(transport.Update{Kind: transport.UpdateMessage, Message: m})
		}
		return nil
	})
	a.bot.Handle(tele.OnVideo, func(c tele.Context) error {
		if m := messageFrom(c); m != nil {
			push(transport.Update{Kind: transport.UpdateMessage, Message: m})
		}
		return nil
	})
	a.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		if m := messageFrom(c); m != nil {
			push(transport.Update{Kind: transport.UpdateMessage, Message: m})
		}
		return nil
	})

	go func() {
		defer a.runWG.Done()
		// Ensure we stop telebot when context is cancelled.
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() called
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Best-effort graceful stop. Never block shutdown for too long on Telegram long-poll.
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		rem := time.Until(dl)
		if rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// Send delivers one payload to one chat. Media kinds map onto the matching
// Bot API method; unknown kinds fall back to a plain text send.
//
// telebot's Send does not take a context, so the hard per-call bound is the
// HTTP client timeout fixed at construction; ctx is checked up front so an
// already-expired caller deadline skips the call entirely.
func (a *Adapter) Send(ctx context.Context, to transport.ChatTarget, msg transport.Content, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}

	var what any
	switch msg.MediaKind {
	case transport.MediaPhoto:
		what = &tele.Photo{File: tele.File{FileID: msg.MediaRef}, Caption: msg.Text}
	case transport.MediaVideo:
		what = &tele.Video{File: tele.File{FileID: msg.MediaRef}, Caption: msg.Text}
	case transport.MediaDocument:
		what = &tele.Document{File: tele.File{FileID: msg.MediaRef}, Caption: msg.Text}
	default:
		what = msg.Text
	}

	sent, err := a.bot.Send(chat, what, sendOpt)
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: sent.ID}, nil
}

func messageFrom(c tele.Context) *transport.Message {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	out := &transport.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
	}
	switch {
	case m.Photo != nil:
		out.MediaRef = m.Photo.FileID
		out.MediaKind = transport.MediaPhoto
		out.Text = m.Caption
	case m.Video != nil:
		out.MediaRef = m.Video.FileID
		out.MediaKind = transport.MediaVideo
		out.Text = m.Caption
	case m.Document != nil:
		out.MediaRef = m.Document.FileID
		out.MediaKind = transport.MediaDocument
		out.Text = m.Caption
	}
	return out
}
