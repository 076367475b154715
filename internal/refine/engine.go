// Package refine iteratively narrows a session's result set: new scoped
// searches, threshold filters, anchor-based re-ranking, exclusions, pins,
// and the quality gate all live here.
package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kalambet/recall/internal/retrieval"
	"github.com/kalambet/recall/internal/session"
)

// ErrResultNotFound is returned when a named result id is not part of the
// session's current result set.
var ErrResultNotFound = errors.New("result not in session")

// Config holds the refinement tunables. Defaults are starting points, not
// tuned optima.
type Config struct {
	// AnchorWeight scales the anchor similarity boost added to scores.
	AnchorWeight float32
	// AnchorThreshold is the default score floor applied by ApplyAnchors.
	AnchorThreshold float32
}

// DefaultConfig returns the stock refinement tunables.
func DefaultConfig() Config {
	return Config{AnchorWeight: 0.3, AnchorThreshold: 0.25}
}

// Engine applies refinement operations to sessions. All mutations run
// through the session manager's per-session lock.
type Engine struct {
	sessions *session.Manager
	searcher *retrieval.Searcher
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates a refinement engine over the given session manager and
// searcher.
func NewEngine(sessions *session.Manager, searcher *retrieval.Searcher, cfg Config) *Engine {
	if cfg.AnchorWeight <= 0 {
		cfg.AnchorWeight = DefaultConfig().AnchorWeight
	}
	if cfg.AnchorThreshold <= 0 {
		cfg.AnchorThreshold = DefaultConfig().AnchorThreshold
	}
	return &Engine{sessions: sessions, searcher: searcher, cfg: cfg, logger: slog.Default()}
}

// SearchInSession runs a fresh retrieval and replaces the session's result
// set. Excluded ids are dropped from the new results; currently pinned
// results are merged back in with their original scores. The session's
// accumulated anchors are folded into every fresh score, so anchoring
// keeps steering all later searches.
func (e *Engine) SearchInSession(ctx context.Context, sessionID, query string, opts retrieval.Options) (session.Session, retrieval.Stats, error) {
	resp, err := e.searcher.Search(ctx, query, opts)
	if err != nil {
		return session.Session{}, retrieval.Stats{}, err
	}

	snap, err := e.sessions.Update(sessionID, "search_in_session", query, func(s *session.Session) error {
		fresh := make([]retrieval.SearchResult, 0, len(resp.Results))
		seen := make(map[string]struct{}, len(resp.Results))
		for _, r := range resp.Results {
			if s.IsExcluded(r.ID) {
				continue
			}
			// A pinned result keeps the score it was pinned with.
			if s.IsPinned(r.ID) {
				if prev, ok := findResult(s.Results, r.ID); ok {
					r = prev
				}
			}
			fresh = append(fresh, r)
			seen[r.ID] = struct{}{}
		}
		// Pinned results missing from the new retrieval are retained.
		for _, p := range s.PinnedResults() {
			if _, ok := seen[p.ID]; !ok {
				fresh = append(fresh, p)
			}
		}
		e.applyAnchorBoost(s, fresh)
		sortResults(fresh)
		s.Results = fresh
		return nil
	})
	if err != nil {
		return session.Session{}, retrieval.Stats{}, err
	}
	return snap, resp.Stats, nil
}

// RefineOptions narrows the existing result set without a new retrieval.
type RefineOptions struct {
	MinScore     float32  `json:"min_score"`
	MinWordCount int      `json:"min_word_count"`
	LikeThese    []string `json:"like_these"`   // result ids used as transient positive anchors
	UnlikeThese  []string `json:"unlike_these"` // result ids used as transient negative anchors
}

// RefineStats reports what a refinement removed.
type RefineStats struct {
	Before   int `json:"before"`
	After    int `json:"after"`
	Filtered int `json:"filtered"`
}

// RefineResults filters and re-ranks the session's current results in
// place. Pinned results are exempt from the score and word-count floors.
// The session's accumulated anchors and the transient LikeThese/UnlikeThese
// ids both feed the recomputed boost; the persistent anchor lists
// themselves are untouched. The previous boost is replaced, not stacked.
func (e *Engine) RefineResults(ctx context.Context, sessionID string, opts RefineOptions) (session.Session, RefineStats, error) {
	var stats RefineStats
	snap, err := e.sessions.Update(sessionID, "refine_results", "", func(s *session.Session) error {
		like, err := collectEmbeddings(s.Results, opts.LikeThese)
		if err != nil {
			return err
		}
		unlike, err := collectEmbeddings(s.Results, opts.UnlikeThese)
		if err != nil {
			return err
		}
		pos := anchorEmbeddings(s.PositiveAnchors)
		neg := anchorEmbeddings(s.NegativeAnchors)
		boosting := len(like) > 0 || len(unlike) > 0 || len(pos) > 0 || len(neg) > 0

		stats.Before = len(s.Results)
		kept := s.Results[:0]
		for _, r := range s.Results {
			if !s.IsPinned(r.ID) {
				if r.Score < opts.MinScore || r.WordCount < opts.MinWordCount {
					continue
				}
			}
			if boosting {
				base := r.Score - r.Breakdown.AnchorBoost
				boost := e.cfg.AnchorWeight * (maxSimilarity(r.Embedding, pos) - maxSimilarity(r.Embedding, neg))
				boost += e.cfg.AnchorWeight * (maxSimilarity(r.Embedding, like) - maxSimilarity(r.Embedding, unlike))
				r.Breakdown.AnchorBoost = boost
				r.Score = base + boost
			}
			kept = append(kept, r)
		}
		sortResults(kept)
		s.Results = kept
		stats.After = len(kept)
		stats.Filtered = stats.Before - stats.After
		return nil
	})
	if err != nil {
		return session.Session{}, RefineStats{}, err
	}
	return snap, stats, nil
}

// ExcludeResults permanently hides the given ids for the life of the
// session: they leave the visible set immediately and never return from
// future retrievals.
func (e *Engine) ExcludeResults(ctx context.Context, sessionID string, ids []string) (session.Session, error) {
	return e.sessions.Update(sessionID, "exclude_results", "", func(s *session.Session) error {
		for _, id := range ids {
			s.Excluded[id] = struct{}{}
			delete(s.Pinned, id)
		}
		return nil
	})
}

// PinResults protects the given ids from quality and threshold filtering
// and retains them across future searches.
func (e *Engine) PinResults(ctx context.Context, sessionID string, ids []string) (session.Session, error) {
	return e.sessions.Update(sessionID, "pin_results", "", func(s *session.Session) error {
		for _, id := range ids {
			if _, ok := findResult(s.Results, id); !ok {
				return fmt.Errorf("%w: %s", ErrResultNotFound, id)
			}
			if s.IsExcluded(id) {
				return fmt.Errorf("%w: %s is excluded", ErrResultNotFound, id)
			}
			s.Pinned[id] = struct{}{}
		}
		return nil
	})
}

// findResult locates a result by id in a slice.
func findResult(results []retrieval.SearchResult, id string) (retrieval.SearchResult, bool) {
	for _, r := range results {
		if r.ID == id {
			return r, true
		}
	}
	return retrieval.SearchResult{}, false
}

// collectEmbeddings resolves result ids to their embeddings, erroring on
// ids absent from the set.
func collectEmbeddings(results []retrieval.SearchResult, ids []string) ([][]float32, error) {
	var vecs [][]float32
	for _, id := range ids {
		r, ok := findResult(results, id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrResultNotFound, id)
		}
		if r.Embedding != nil {
			vecs = append(vecs, r.Embedding)
		}
	}
	return vecs, nil
}

// maxSimilarity returns the highest cosine similarity between v and any of
// the given vectors, or 0 when either side is empty.
func maxSimilarity(v []float32, vecs [][]float32) float32 {
	var max float32
	for _, other := range vecs {
		if sim := retrieval.Cosine(v, other); sim > max {
			max = sim
		}
	}
	return max
}

// sortResults orders by score descending, recency breaking ties.
func sortResults(results []retrieval.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
}
