package main

import (
	"sort"
	"sync"
	"time"

	"github.com/Shimmur/streamgen/config"
	"github.com/Shimmur/streamgen/metrics"
	"github.com/Shimmur/streamgen/reporter"
	"github.com/Shimmur/streamgen/stream"
)

// A Session is what the status endpoint shows about one connection. It is
// filled in once, before the connection starts emitting.
type Session struct {
	ID        string            `json:"id"`
	Remote    string            `json:"remote"`
	Transport string            `json:"transport"`
	Policy    config.SeedPolicy `json:"seed_policy"`
	Seed      uint64            `json:"seed"`
	Substream uint64            `json:"substream,omitempty"`
	Fallback  bool              `json:"seed_fallback,omitempty"`
	Model     config.Model      `json:"distribution"`
	Sampler   string            `json:"sampler"`
	MaxRate   float64           `json:"max_rate"`
	Started   time.Time         `json:"started"`
}

// A SessionTracker keeps track of every connection currently being served
// and fans lifecycle events out to metrics and the reporter.
type SessionTracker struct {
	Sessions map[string]*Session

	metrics  *metrics.Metrics
	reporter *reporter.SummaryReporter

	sessionsLock sync.RWMutex
}

// NewSessionTracker returns a tracker. The reporter may be nil.
func NewSessionTracker(m *metrics.Metrics, r *reporter.SummaryReporter) *SessionTracker {
	return &SessionTracker{
		Sessions: make(map[string]*Session, 5),
		metrics:  m,
		reporter: r,
	}
}

// Started registers a session about to begin emitting
func (t *SessionTracker) Started(profile *stream.Profile, transport string) {
	session := &Session{
		ID:        profile.ID,
		Remote:    profile.Remote,
		Transport: transport,
		Policy:    profile.Policy,
		Seed:      profile.Seed,
		Substream: profile.Substream,
		Fallback:  profile.Fallback,
		Model:     profile.Model,
		Sampler:   profile.Describe(),
		MaxRate:   profile.MaxRate,
		Started:   time.Now().UTC(),
	}

	t.withLock(func() {
		t.Sessions[profile.ID] = session
	})

	t.metrics.SessionStarted(profile, transport)
}

// SessionClosed satisfies stream.Observer
func (t *SessionTracker) SessionClosed(profile *stream.Profile, stats stream.Stats) {
	t.withLock(func() {
		delete(t.Sessions, profile.ID)
	})

	t.metrics.SessionClosed(profile, stats)
	if t.reporter != nil {
		t.reporter.SessionClosed(profile, stats)
	}
}

// Rejected counts a connection turned away before it got a session
func (t *SessionTracker) Rejected() {
	t.metrics.ConnectionRejected()
	if t.reporter != nil {
		t.reporter.ConnectionRejected()
	}
}

// Active returns the current sessions, oldest first
func (t *SessionTracker) Active() []*Session {
	var sessions []*Session
	t.withReadLock(func() {
		sessions = make([]*Session, 0, len(t.Sessions))
		for _, s := range t.Sessions {
			sessions = append(sessions, s)
		}
	})

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Started.Before(sessions[j].Started)
	})

	return sessions
}

func (t *SessionTracker) withReadLock(fn func()) {
	t.sessionsLock.RLock()
	fn()
	t.sessionsLock.RUnlock()
}

func (t *SessionTracker) withLock(fn func()) {
	t.sessionsLock.Lock()
	fn()
	t.sessionsLock.Unlock()
}
