// Package session tracks in-progress campaign conversations per operator.
//
// State is keyed by operator id, never process-wide, so concurrent operators
// cannot corrupt each other's drafts. Abandoned drafts expire.
package session

import (
	"sync"
	"time"

	"castbot/internal/transport"
)

type Stage int

const (
	StageIdle Stage = iota
	// StageContent: waiting for the operator's message content.
	StageContent
	// StageTime: content collected, waiting for a target time (deferred only).
	StageTime
)

// Draft is one operator's in-progress campaign.
type Draft struct {
	Stage    Stage
	Deferred bool
	Content  transport.Content

	touched time.Time
}

const defaultTTL = 15 * time.Minute

type Manager struct {
	mu  sync.Mutex
	m   map[int64]*Draft
	ttl time.Duration
}

func NewManager() *Manager {
	return &Manager{m: map[int64]*Draft{}, ttl: defaultTTL}
}

// Begin starts (or restarts) a draft for the operator.
func (s *Manager) Begin(operator int64, deferred bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[operator] = &Draft{Stage: StageContent, Deferred: deferred, touched: time.Now()}
}

// Get returns a snapshot of the operator's current draft. Callers get a
// copy: drafts mutate only under the manager's lock, and updates concurrent
// with the handler for another message of the same operator must not tear.
// Stale drafts are dropped as if the operator had never started.
func (s *Manager) Get(operator int64) (Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.m[operator]
	if d == nil {
		return Draft{}, false
	}
	if time.Since(d.touched) > s.ttl {
		delete(s.m, operator)
		return Draft{}, false
	}
	return *d, true
}

// SetContent stores collected content and advances the state machine:
// immediate drafts are complete, deferred drafts await a time. The returned
// snapshot reflects the draft after the transition.
func (s *Manager) SetContent(operator int64, content transport.Content) (Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.m[operator]
	if d == nil || d.Stage != StageContent {
		return Draft{}, false
	}
	d.Content = content
	d.touched = time.Now()
	if d.Deferred {
		d.Stage = StageTime
	} else {
		d.Stage = StageIdle
	}
	return *d, true
}

// Clear drops the operator's draft.
func (s *Manager) Clear(operator int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, operator)
}
