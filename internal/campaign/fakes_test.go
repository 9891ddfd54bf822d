package campaign

import (
	"context"
	"sync"
	"time"

	"castbot/internal/dispatch"
	"castbot/internal/storage"
	"castbot/internal/transport"
)

// memStore is an in-memory stand-in for the sqlite store. It keeps the same
// semantics: monotonically assigned ids, scheduled->sent only, deletes that
// touch scheduled rows only.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]storage.Broadcast
	sent    map[int64]int // MarkSent transitions per id
	audits  []storage.AuditEntry
	creates int
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]storage.Broadcast{}, sent: map[int64]int{}}
}

func (m *memStore) CreateBroadcast(ctx context.Context, content transport.Content, sendAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.creates++
	m.rows[m.nextID] = storage.Broadcast{
		ID:        m.nextID,
		Content:   content,
		SendAt:    sendAt.UTC(),
		Status:    storage.StatusScheduled,
		CreatedAt: time.Now().UTC(),
	}
	return m.nextID, nil
}

func (m *memStore) PendingBroadcasts(ctx context.Context) ([]storage.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Broadcast
	for _, b := range m.rows {
		if b.Status == storage.StatusScheduled {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) PendingBroadcast(ctx context.Context, id int64) (storage.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok || b.Status != storage.StatusScheduled {
		return storage.Broadcast{}, storage.ErrNotFound
	}
	return b, nil
}

func (m *memStore) MarkSent(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok || b.Status != storage.StatusScheduled {
		return storage.ErrNotFound
	}
	b.Status = storage.StatusSent
	m.rows[id] = b
	m.sent[id]++
	return nil
}

func (m *memStore) DeleteBroadcast(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok || b.Status != storage.StatusScheduled {
		return false, nil
	}
	delete(m.rows, id)
	return true, nil
}

func (m *memStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, e)
	return nil
}

func (m *memStore) row(id int64) (storage.Broadcast, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	return b, ok
}

func (m *memStore) sentCount(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[id]
}

type deliverCall struct {
	msg        transport.Content
	recipients []int64
	at         time.Time
}

// fakeDispatcher records fan-outs and signals each one on a channel.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []deliverCall
	fired chan deliverCall
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{fired: make(chan deliverCall, 16)}
}

func (d *fakeDispatcher) Deliver(ctx context.Context, msg transport.Content, recipients []int64) dispatch.Report {
	call := deliverCall{msg: msg, recipients: append([]int64(nil), recipients...), at: time.Now()}
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
	select {
	case d.fired <- call:
	default:
	}
	return dispatch.Report{Attempted: len(recipients), Sent: len(recipients)}
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeAudience struct{ ids []int64 }

func (a fakeAudience) All(ctx context.Context) ([]int64, error) {
	return append([]int64(nil), a.ids...), nil
}

func waitFired(t interface {
	Helper()
	Fatalf(string, ...any)
}, d *fakeDispatcher, within time.Duration) deliverCall {
	t.Helper()
	select {
	case call := <-d.fired:
		return call
	case <-time.After(within):
		t.Fatalf("no delivery within %v", within)
		return deliverCall{}
	}
}
