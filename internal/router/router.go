// Package router turns inbound transport updates into campaign operations.
//
// Every inbound interaction registers the sender as a recipient. Operator
// commands run through a per-operator draft conversation (see package
// session) so the bot can collect content and a target time step by step.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"castbot/internal/campaign"
	"castbot/internal/session"
	"castbot/internal/storage"
	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// TimeLayout is the wall-clock format operators type target times in.
// Parsing happens here, once, in the configured zone; everything past the
// router works in absolute UTC instants.
const TimeLayout = "2006-01-02 15:04"

type Config struct {
	Admins   []int64
	Location *time.Location
}

type Router struct {
	adapter  transport.Adapter
	ctrl     *campaign.Controller
	registry Registry
	sessions *session.Manager
	log      logx.Logger

	mu     sync.RWMutex
	admins map[int64]bool
	loc    *time.Location
}

// Registry is the recipient-directory slice the router needs.
type Registry interface {
	Register(ctx context.Context, id int64) error
}

func New(cfg Config, adapter transport.Adapter, ctrl *campaign.Controller, registry Registry, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		adapter:  adapter,
		ctrl:     ctrl,
		registry: registry,
		sessions: session.NewManager(),
		log:      log,
	}
	r.Apply(cfg)
	return r
}

// Apply swaps the operator list and timezone at runtime (config reload).
func (r *Router) Apply(cfg Config) {
	admins := make(map[int64]bool, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = true
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	r.mu.Lock()
	r.admins = admins
	r.loc = loc
	r.mu.Unlock()
}

func (r *Router) isAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admins[id]
}

func (r *Router) location() *time.Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loc
}

// Handle processes one update. It is safe to call concurrently; the app runs
// each update on its own goroutine so a long fan-out cannot starve commands.
func (r *Router) Handle(ctx context.Context, up transport.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in update handler",
				logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()

	if up.Kind != transport.UpdateMessage || up.Message == nil {
		return
	}
	m := up.Message

	// Registration is idempotent and happens on every inbound interaction.
	_ = r.registry.Register(ctx, m.ChatID)

	if cmd, arg := splitCommand(m.Text); cmd != "" {
		r.handleCommand(ctx, m, cmd, arg)
		return
	}
	r.handleConversation(ctx, m)
}

func (r *Router) handleCommand(ctx context.Context, m *transport.Message, cmd, arg string) {
	switch cmd {
	case "start":
		r.reply(ctx, m, "Привет! Ты подписан на рассылку этого бота 🚀")
		return
	case "help":
		if r.isAdmin(m.FromID) {
			r.reply(ctx, m, adminHelp)
		} else {
			r.reply(ctx, m, "Бот присылает объявления. Просто оставайся на связи.")
		}
		return
	}

	if !r.isAdmin(m.FromID) {
		r.reply(ctx, m, "Эта команда доступна только администраторам.")
		return
	}

	switch cmd {
	case "broadcast":
		r.sessions.Begin(m.FromID, false)
		r.reply(ctx, m, "Пришли сообщение для немедленной рассылки (текст или медиа). /cancel — отмена.")
	case "schedule":
		r.sessions.Begin(m.FromID, true)
		r.reply(ctx, m, "Пришли сообщение для отложенной рассылки (текст или медиа). /cancel — отмена.")
	case "cancel":
		r.sessions.Clear(m.FromID)
		r.reply(ctx, m, "Ок, черновик сброшен.")
	case "pending":
		r.replyPending(ctx, m)
	case "cancel_broadcast":
		r.cancelBroadcast(ctx, m, arg)
	default:
		r.reply(ctx, m, "Неизвестная команда. /help")
	}
}

func (r *Router) handleConversation(ctx context.Context, m *transport.Message) {
	if !r.isAdmin(m.FromID) {
		return
	}
	d, ok := r.sessions.Get(m.FromID)
	if !ok {
		return
	}

	switch d.Stage {
	case session.StageContent:
		content := transport.Content{Text: strings.TrimSpace(m.Text), MediaRef: m.MediaRef, MediaKind: m.MediaKind}
		if content.Empty() {
			r.reply(ctx, m, "Пустое сообщение. Пришли текст или медиа, либо /cancel.")
			return
		}
		d, ok = r.sessions.SetContent(m.FromID, content)
		if !ok {
			return
		}
		if d.Deferred {
			loc := r.location()
			r.reply(ctx, m, fmt.Sprintf("Когда отправить? Формат: %s (%s).", TimeLayout, loc.String()))
			return
		}
		// immediate: fan out right away
		r.sessions.Clear(m.FromID)
		rep, err := r.ctrl.SendNow(ctx, m.FromID, d.Content)
		if err != nil {
			r.replyErr(ctx, m, err)
			return
		}
		r.reply(ctx, m, fmt.Sprintf("Рассылка завершена: отправлено %d, ошибок %d (всего %d).",
			rep.Sent, rep.Failed, rep.Attempted))

	case session.StageTime:
		loc := r.location()
		at, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(m.Text), loc)
		if err != nil {
			r.reply(ctx, m, fmt.Sprintf("Не понял время. Формат: %s, например %s.",
				TimeLayout, time.Now().In(loc).Add(time.Hour).Format(TimeLayout)))
			return
		}
		id, err := r.ctrl.Schedule(ctx, m.FromID, d.Content, at)
		if err != nil {
			r.replyErr(ctx, m, err)
			return
		}
		r.sessions.Clear(m.FromID)
		r.reply(ctx, m, fmt.Sprintf("Запланировано ✅ #%d на %s. /pending — список, /cancel_broadcast %d — отмена.",
			id, at.Format(TimeLayout), id))
	}
}

func (r *Router) replyPending(ctx context.Context, m *transport.Message) {
	rows, err := r.ctrl.Pending(ctx)
	if err != nil {
		r.replyErr(ctx, m, err)
		return
	}
	r.reply(ctx, m, formatPending(rows, r.location()))
}

func (r *Router) cancelBroadcast(ctx context.Context, m *transport.Message, arg string) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		r.reply(ctx, m, "Укажи номер: /cancel_broadcast <id>")
		return
	}
	if err := r.ctrl.Cancel(ctx, m.FromID, id); err != nil {
		r.replyErr(ctx, m, err)
		return
	}
	r.reply(ctx, m, fmt.Sprintf("Рассылка #%d отменена.", id))
}

func (r *Router) replyErr(ctx context.Context, m *transport.Message, err error) {
	switch {
	case errors.Is(err, campaign.ErrInvalidRequest):
		r.reply(ctx, m, "⚠️ "+err.Error())
	case errors.Is(err, campaign.ErrNotFound):
		r.reply(ctx, m, "Не нашёл такую рассылку — возможно, уже отправлена или отменена.")
	case errors.Is(err, storage.ErrUnavailable):
		r.reply(ctx, m, "Хранилище временно недоступно, попробуй ещё раз.")
	default:
		r.log.Error("operation failed", logx.Err(err))
		r.reply(ctx, m, "Что-то пошло не так, попробуй ещё раз.")
	}
}

func (r *Router) reply(ctx context.Context, m *transport.Message, text string) {
	_, err := r.adapter.Send(ctx, transport.ChatTarget{ChatID: m.ChatID}, transport.Content{Text: text}, nil)
	if err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

const adminHelp = `Команды администратора:
/broadcast — немедленная рассылка
/schedule — отложенная рассылка
/pending — список запланированных
/cancel_broadcast <id> — отменить запланированную
/cancel — сбросить текущий черновик`

// splitCommand parses "/cmd@bot arg arg" into ("cmd", "arg arg").
// Returns ("", "") for ordinary messages.
func splitCommand(text string) (cmd, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	rest := text[1:]
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		cmd, arg = rest[:i], strings.TrimSpace(rest[i+1:])
	} else {
		cmd = rest
	}
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), arg
}
