package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id is unknown or expired.
var ErrNotFound = errors.New("session not found")

// DefaultIdleTTL is how long a session survives without activity.
const DefaultIdleTTL = 2 * time.Hour

// DefaultSweepInterval is how often expired sessions are reclaimed.
const DefaultSweepInterval = 5 * time.Minute

// Info is a read-only listing entry for one session.
type Info struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ResultCount int       `json:"result_count"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`
}

// entry pairs a session with its private mutation lock. deleted marks an
// evicted entry so callers holding a stale pointer cannot commit into it.
type entry struct {
	mu      sync.Mutex
	deleted bool
	s       *Session
}

// Manager owns all live sessions. The map itself is guarded by mu; each
// session's state is guarded by its entry lock, so mutations on one
// session serialize while other sessions proceed untouched.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	idleTTL time.Duration
	sweep   time.Duration
	logger  *slog.Logger
	now     func() time.Time // injectable for expiry tests
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIdleTTL overrides the idle expiry timeout.
func WithIdleTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.idleTTL = ttl
		}
	}
}

// WithSweepInterval overrides the reclaim sweep interval.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.sweep = d
		}
	}
}

// withClock replaces the time source. Test hook.
func withClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty session manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*entry),
		idleTTL:  DefaultIdleTTL,
		sweep:    DefaultSweepInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new named session and returns its snapshot.
func (m *Manager) Create(name string) Session {
	now := m.now().UTC()
	s := &Session{
		ID:         uuid.New().String(),
		Name:       name,
		Excluded:   make(map[string]struct{}),
		Pinned:     make(map[string]struct{}),
		CreatedAt:  now,
		LastActive: now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = &entry{s: s}
	m.mu.Unlock()
	return s.snapshot()
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	return e, ok
}

func (m *Manager) expired(s *Session) bool {
	return m.now().Sub(s.LastActive) > m.idleTTL
}

// Get returns a snapshot of the session, or ErrNotFound if the id is
// unknown or the session has idled out.
func (m *Manager) Get(id string) (Session, error) {
	e, ok := m.lookup(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted || m.expired(e.s) {
		return Session{}, ErrNotFound
	}
	return e.s.snapshot(), nil
}

// List returns every live session, most recently active first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var infos []Info
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && !m.expired(e.s) {
			infos = append(infos, Info{
				ID:          e.s.ID,
				Name:        e.s.Name,
				ResultCount: len(e.s.Results),
				CreatedAt:   e.s.CreatedAt,
				LastActive:  e.s.LastActive,
			})
		}
		e.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActive.After(infos[j].LastActive)
	})
	return infos
}

// Delete removes a session. Deleting an unknown id is ErrNotFound. The
// per-session lock is taken before eviction, same as the sweep, so an
// in-flight mutation either commits before the delete or observes it.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Update runs a mutation against the session under its lock. The history
// entry is appended and the exclusion filter re-applied after fn returns
// successfully; a failed fn leaves prior state standing. The returned
// snapshot reflects the committed state.
func (m *Manager) Update(id, op, query string, fn func(*Session) error) (Session, error) {
	e, ok := m.lookup(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted || m.expired(e.s) {
		return Session{}, ErrNotFound
	}

	// Mutate a scratch copy so a failing mutation cannot leave the
	// session half-updated.
	scratch := e.s.snapshot()
	if err := fn(&scratch); err != nil {
		return Session{}, err
	}

	now := m.now().UTC()
	scratch.History = append(scratch.History, HistoryEntry{Op: op, Query: query, At: now})
	scratch.dropExcluded()
	scratch.LastActive = now
	*e.s = scratch
	return e.s.snapshot(), nil
}

// Run sweeps expired sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reclaim()
		}
	}
}

// reclaim evicts idle sessions. The per-session lock is taken before
// eviction so a sweep never races an in-flight mutation.
func (m *Manager) reclaim() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.sessions {
		e.mu.Lock()
		if m.expired(e.s) {
			e.deleted = true
			delete(m.sessions, id)
			m.logger.Debug("session expired", "session_id", id, "name", e.s.Name)
		}
		e.mu.Unlock()
	}
}
