package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"castbot/internal/campaign"
	"castbot/internal/dispatch"
	"castbot/internal/storage"
	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

const (
	adminID  = 42
	readerID = 7
)

// fakeAdapter records every outbound reply.
type fakeAdapter struct {
	mu    sync.Mutex
	sends []string
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (a *fakeAdapter) Send(ctx context.Context, to transport.ChatTarget, msg transport.Content, opt *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends = append(a.sends, msg.Text)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) last(t *testing.T) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sends) == 0 {
		t.Fatal("no reply sent")
	}
	return a.sends[len(a.sends)-1]
}

type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]storage.Broadcast
	audits []storage.AuditEntry
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[int64]storage.Broadcast{}} }

func (s *fakeStore) CreateBroadcast(ctx context.Context, content transport.Content, sendAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.rows[s.nextID] = storage.Broadcast{ID: s.nextID, Content: content, SendAt: sendAt, Status: storage.StatusScheduled}
	return s.nextID, nil
}

func (s *fakeStore) PendingBroadcasts(ctx context.Context) ([]storage.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Broadcast, 0, len(s.rows))
	for _, b := range s.rows {
		if b.Status == storage.StatusScheduled {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeStore) PendingBroadcast(ctx context.Context, id int64) (storage.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rows[id]
	if !ok || b.Status != storage.StatusScheduled {
		return storage.Broadcast{}, storage.ErrNotFound
	}
	return b, nil
}

func (s *fakeStore) MarkSent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rows[id]
	if !ok || b.Status != storage.StatusScheduled {
		return storage.ErrNotFound
	}
	b.Status = storage.StatusSent
	s.rows[id] = b
	return nil
}

func (s *fakeStore) DeleteBroadcast(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rows[id]
	if !ok || b.Status != storage.StatusScheduled {
		return false, nil
	}
	delete(s.rows, id)
	return true, nil
}

func (s *fakeStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, e)
	return nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []transport.Content
}

func (d *fakeDispatcher) Deliver(ctx context.Context, msg transport.Content, recipients []int64) dispatch.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, msg)
	return dispatch.Report{Attempted: len(recipients), Sent: len(recipients)}
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeRegistry struct {
	mu  sync.Mutex
	ids map[int64]bool
}

func (r *fakeRegistry) Register(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids == nil {
		r.ids = map[int64]bool{}
	}
	r.ids[id] = true
	return nil
}

type audienceFunc func(ctx context.Context) ([]int64, error)

func (f audienceFunc) All(ctx context.Context) ([]int64, error) { return f(ctx) }

type testRig struct {
	router   *Router
	adapter  *fakeAdapter
	store    *fakeStore
	disp     *fakeDispatcher
	registry *fakeRegistry
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	adapter := &fakeAdapter{}
	store := newFakeStore()
	disp := &fakeDispatcher{}
	registry := &fakeRegistry{}
	audience := audienceFunc(func(context.Context) ([]int64, error) { return []int64{100, 200, 300}, nil })

	sched := campaign.NewScheduler(store, audience, disp, logx.Nop())
	sched.Start(context.Background())
	t.Cleanup(func() { sched.Stop(context.Background()) })

	ctrl := campaign.NewController(store, sched, disp, audience, logx.Nop())
	r := New(Config{Admins: []int64{adminID}, Location: time.UTC}, adapter, ctrl, registry, logx.Nop())
	return &testRig{router: r, adapter: adapter, store: store, disp: disp, registry: registry}
}

func (rig *testRig) message(from int64, text string) {
	rig.router.Handle(context.Background(), transport.Update{
		Kind:    transport.UpdateMessage,
		Message: &transport.Message{ChatID: from, FromID: from, Text: text},
	})
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in       string
		cmd, arg string
	}{
		{"/start", "start", ""},
		{"/Start", "start", ""},
		{"/pending@CastBot", "pending", ""},
		{"/cancel_broadcast 17", "cancel_broadcast", "17"},
		{"/cancel_broadcast@CastBot  17 ", "cancel_broadcast", "17"},
		{"  /help  ", "help", ""},
		{"hello", "", ""},
		{"", "", ""},
		{"not /a command", "", ""},
	}
	for _, tc := range cases {
		cmd, arg := splitCommand(tc.in)
		if cmd != tc.cmd || arg != tc.arg {
			t.Errorf("splitCommand(%q) = (%q, %q), want (%q, %q)", tc.in, cmd, arg, tc.cmd, tc.arg)
		}
	}
}

func TestEveryInboundSenderIsRegistered(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	rig.message(readerID, "/start")
	rig.message(555, "просто сообщение")

	rig.registry.mu.Lock()
	defer rig.registry.mu.Unlock()
	if !rig.registry.ids[readerID] || !rig.registry.ids[555] {
		t.Fatalf("registered = %v", rig.registry.ids)
	}
}

func TestNonAdminCannotBroadcast(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	rig.message(readerID, "/broadcast")
	if got := rig.adapter.last(t); !strings.Contains(got, "администраторам") {
		t.Fatalf("reply = %q", got)
	}

	// and a follow-up message from them is not treated as content
	rig.message(readerID, "payload")
	if rig.disp.count() != 0 {
		t.Fatal("non-admin triggered a fan-out")
	}
}

func TestBroadcastImmediateFlow(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	rig.message(adminID, "/broadcast")
	rig.message(adminID, "Всем привет!")

	if rig.disp.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", rig.disp.count())
	}
	if got := rig.adapter.last(t); !strings.Contains(got, "отправлено 3") {
		t.Fatalf("summary reply = %q", got)
	}
	// immediate sends leave no scheduled row behind
	if rows, _ := rig.store.PendingBroadcasts(context.Background()); len(rows) != 0 {
		t.Fatalf("pending rows = %d, want 0", len(rows))
	}
}

func TestBroadcastRejectsEmptyContent(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	rig.message(adminID, "/broadcast")
	rig.message(adminID, "   ")
	if rig.disp.count() != 0 {
		t.Fatal("empty content dispatched")
	}
}

func TestScheduleFlow(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	rig.message(adminID, "/schedule")
	rig.message(adminID, "Завтра обновление")
	if got := rig.adapter.last(t); !strings.Contains(got, TimeLayout) {
		t.Fatalf("time prompt = %q", got)
	}

	at := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Minute)
	rig.message(adminID, at.Format(TimeLayout))

	if got := rig.adapter.last(t); !strings.Contains(got, "#1") {
		t.Fatalf("confirmation = %q", got)
	}
	rows, _ := rig.store.PendingBroadcasts(context.Background())
	if len(rows) != 1 || rows[0].Content.Text != "Завтра обновление" {
		t.Fatalf("rows = %+v", rows)
	}
	if !rows[0].SendAt.Equal(at) {
		t.Fatalf("send_at = %v, want %v", rows[0].SendAt, at)
	}
	if rig.disp.count() != 0 {
		t.Fatal("deferred broadcast fired immediately")
	}
}

func TestScheduleBadTimeKeepsDraft(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	rig.message(adminID, "/schedule")
	rig.message(adminID, "контент")
	rig.message(adminID, "завтра в пять")
	if got := rig.adapter.last(t); !strings.Contains(got, TimeLayout) {
		t.Fatalf("format hint = %q", got)
	}

	// the draft survives a bad time, so a correct retry completes it
	at := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	rig.message(adminID, at.Format(TimeLayout))
	if rows, _ := rig.store.PendingBroadcasts(context.Background()); len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
}

func TestSchedulePastTimeRejected(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	rig.message(adminID, "/schedule")
	rig.message(adminID, "контент")
	rig.message(adminID, time.Now().UTC().Add(-time.Hour).Format(TimeLayout))

	if got := rig.adapter.last(t); !strings.Contains(got, "⚠️") {
		t.Fatalf("reply = %q, want validation warning", got)
	}
	if rows, _ := rig.store.PendingBroadcasts(context.Background()); len(rows) != 0 {
		t.Fatal("past-time broadcast persisted")
	}
}

func TestCancelBroadcastCommand(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	rig.message(adminID, "/cancel_broadcast")
	if got := rig.adapter.last(t); !strings.Contains(got, "/cancel_broadcast <id>") {
		t.Fatalf("usage reply = %q", got)
	}

	rig.message(adminID, "/cancel_broadcast 99")
	if got := rig.adapter.last(t); !strings.Contains(got, "Не нашёл") {
		t.Fatalf("unknown id reply = %q", got)
	}

	rig.message(adminID, "/schedule")
	rig.message(adminID, "контент")
	rig.message(adminID, time.Now().UTC().Add(time.Hour).Format(TimeLayout))

	rig.message(adminID, "/cancel_broadcast 1")
	if got := rig.adapter.last(t); !strings.Contains(got, "#1 отменена") {
		t.Fatalf("cancel reply = %q", got)
	}
	if rows, _ := rig.store.PendingBroadcasts(context.Background()); len(rows) != 0 {
		t.Fatal("row survived cancel")
	}
}

func TestCancelResetsDraft(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	rig.message(adminID, "/broadcast")
	rig.message(adminID, "/cancel")
	rig.message(adminID, "это уже не контент")
	if rig.disp.count() != 0 {
		t.Fatal("message after /cancel dispatched")
	}
}

func TestPendingListing(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	rig.message(adminID, "/pending")
	if got := rig.adapter.last(t); !strings.Contains(got, "нет") {
		t.Fatalf("empty listing = %q", got)
	}

	rig.message(adminID, "/schedule")
	rig.message(adminID, "анонс")
	rig.message(adminID, time.Now().UTC().Add(time.Hour).Format(TimeLayout))

	rig.message(adminID, "/pending")
	got := rig.adapter.last(t)
	if !strings.Contains(got, "#1") || !strings.Contains(got, "анонс") {
		t.Fatalf("listing = %q", got)
	}
}

func TestMediaContentCollected(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	rig.message(adminID, "/broadcast")
	rig.router.Handle(context.Background(), transport.Update{
		Kind: transport.UpdateMessage,
		Message: &transport.Message{
			ChatID: adminID, FromID: adminID,
			Text: "подпись", MediaRef: "file-abc", MediaKind: transport.MediaPhoto,
		},
	})

	rig.disp.mu.Lock()
	defer rig.disp.mu.Unlock()
	if len(rig.disp.calls) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(rig.disp.calls))
	}
	sent := rig.disp.calls[0]
	if sent.MediaRef != "file-abc" || sent.MediaKind != transport.MediaPhoto || sent.Text != "подпись" {
		t.Fatalf("delivered content = %+v", sent)
	}
}
