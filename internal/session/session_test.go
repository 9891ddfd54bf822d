package session

import (
	"sync"
	"testing"
	"time"

	"castbot/internal/transport"
)

func TestDraftTransitions(t *testing.T) {
	t.Parallel()
	m := NewManager()

	if _, ok := m.Get(1); ok {
		t.Fatal("idle operator has a draft")
	}

	m.Begin(1, true)
	d, ok := m.Get(1)
	if !ok || d.Stage != StageContent || !d.Deferred {
		t.Fatalf("after Begin: %+v ok=%v", d, ok)
	}

	d, ok = m.SetContent(1, transport.Content{Text: "hello"})
	if !ok || d.Stage != StageTime {
		t.Fatalf("deferred draft after content: %+v ok=%v", d, ok)
	}
	if d.Content.Text != "hello" {
		t.Fatalf("content = %+v", d.Content)
	}

	m.Clear(1)
	if _, ok := m.Get(1); ok {
		t.Fatal("draft survived Clear")
	}
}

func TestImmediateDraftCompletesOnContent(t *testing.T) {
	t.Parallel()
	m := NewManager()
	m.Begin(1, false)
	d, ok := m.SetContent(1, transport.Content{Text: "now"})
	if !ok || d.Stage != StageIdle {
		t.Fatalf("immediate draft after content: %+v ok=%v", d, ok)
	}
}

func TestSetContentRequiresContentStage(t *testing.T) {
	t.Parallel()
	m := NewManager()
	if _, ok := m.SetContent(1, transport.Content{Text: "x"}); ok {
		t.Fatal("content accepted without Begin")
	}
	m.Begin(1, true)
	m.SetContent(1, transport.Content{Text: "x"})
	// second content while waiting for a time is ignored
	if _, ok := m.SetContent(1, transport.Content{Text: "y"}); ok {
		t.Fatal("content accepted in StageTime")
	}
}

func TestOperatorsAreIsolated(t *testing.T) {
	t.Parallel()
	m := NewManager()
	m.Begin(1, true)
	m.Begin(2, false)

	m.SetContent(1, transport.Content{Text: "one"})
	d2, ok := m.Get(2)
	if !ok || d2.Stage != StageContent || d2.Content.Text != "" {
		t.Fatalf("operator 2 draft leaked state: %+v", d2)
	}

	m.Clear(2)
	if _, ok := m.Get(1); !ok {
		t.Fatal("clearing operator 2 dropped operator 1's draft")
	}
}

func TestStaleDraftExpires(t *testing.T) {
	t.Parallel()
	m := NewManager()
	m.ttl = 10 * time.Millisecond
	m.Begin(1, true)
	time.Sleep(30 * time.Millisecond)
	if _, ok := m.Get(1); ok {
		t.Fatal("stale draft not expired")
	}
	// expired means gone, not paused
	if _, ok := m.SetContent(1, transport.Content{Text: "late"}); ok {
		t.Fatal("late content accepted after expiry")
	}
}

func TestBeginRestartsDraft(t *testing.T) {
	t.Parallel()
	m := NewManager()
	m.Begin(1, true)
	m.SetContent(1, transport.Content{Text: "old"})
	m.Begin(1, false)
	d, ok := m.Get(1)
	if !ok || d.Stage != StageContent || d.Deferred || d.Content.Text != "" {
		t.Fatalf("Begin did not reset draft: %+v", d)
	}
}

// Drafts are read and advanced from per-update goroutines; snapshots returned
// by Get/SetContent must never alias the live draft. Run under -race.
func TestConcurrentAccessSameOperator(t *testing.T) {
	t.Parallel()
	m := NewManager()
	m.Begin(1, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if d, ok := m.Get(1); ok {
					_ = d.Stage
					_ = d.Content.Text
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.SetContent(1, transport.Content{Text: "payload"})
				m.Begin(1, j%2 == 0)
			}
		}()
	}
	wg.Wait()

	if d, ok := m.Get(1); !ok || d.Stage != StageContent {
		t.Fatalf("draft after churn: %+v ok=%v", d, ok)
	}
}
