// Package session holds per-session search state: the current result set,
// anchors, exclusions, pins, and the operation history. Every mutation on a
// session is serialized behind that session's own lock, so concurrent
// refinements queue instead of racing; different sessions never contend.
package session

import (
	"time"

	"github.com/kalambet/recall/internal/retrieval"
)

// Polarity marks an anchor as attracting or repelling.
type Polarity string

const (
	Positive Polarity = "positive"
	Negative Polarity = "negative"
)

// Anchor is an embedding copied from a result at creation time. It is
// immutable afterwards and only ever influences ranking; an anchor never
// removes a result by itself.
type Anchor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is one operation in a session's append-only log.
type HistoryEntry struct {
	Op    string    `json:"op"`
	Query string    `json:"query,omitempty"`
	At    time.Time `json:"at"`
}

// Session is the mutable state of one interactive search.
type Session struct {
	ID              string
	Name            string
	Results         []retrieval.SearchResult
	History         []HistoryEntry
	PositiveAnchors []Anchor
	NegativeAnchors []Anchor
	Excluded        map[string]struct{}
	Pinned          map[string]struct{}
	CreatedAt       time.Time
	LastActive      time.Time
}

// IsExcluded reports whether a result id is permanently hidden.
func (s *Session) IsExcluded(id string) bool {
	_, ok := s.Excluded[id]
	return ok
}

// IsPinned reports whether a result id is protected from filtering.
func (s *Session) IsPinned(id string) bool {
	_, ok := s.Pinned[id]
	return ok
}

// PinnedResults returns the currently held results that are pinned.
func (s *Session) PinnedResults() []retrieval.SearchResult {
	var pinned []retrieval.SearchResult
	for _, r := range s.Results {
		if s.IsPinned(r.ID) {
			pinned = append(pinned, r)
		}
	}
	return pinned
}

// dropExcluded removes excluded ids from the visible result set. Called
// after every mutation so exclusions hold no matter which operation ran.
func (s *Session) dropExcluded() {
	if len(s.Excluded) == 0 {
		return
	}
	kept := s.Results[:0]
	for _, r := range s.Results {
		if !s.IsExcluded(r.ID) {
			kept = append(kept, r)
		}
	}
	s.Results = kept
}

// snapshot returns a copy safe to hand outside the session lock. Top-level
// slices and sets are copied; element payloads are treated as read-only.
func (s *Session) snapshot() Session {
	out := *s
	out.Results = append([]retrieval.SearchResult(nil), s.Results...)
	out.History = append([]HistoryEntry(nil), s.History...)
	out.PositiveAnchors = append([]Anchor(nil), s.PositiveAnchors...)
	out.NegativeAnchors = append([]Anchor(nil), s.NegativeAnchors...)
	out.Excluded = copySet(s.Excluded)
	out.Pinned = copySet(s.Pinned)
	return out
}

func copySet(m map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}
