package refine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/retrieval"
	"github.com/kalambet/recall/internal/session"
)

// ErrNoEmbedding is returned when an anchor source result carries no
// embedding to copy.
var ErrNoEmbedding = errors.New("result has no embedding")

// AddPositiveAnchor copies the named result's embedding into a persistent
// positive anchor. All future scoring in the session boosts similarity to
// it.
func (e *Engine) AddPositiveAnchor(ctx context.Context, sessionID, resultID, name string) (session.Session, error) {
	return e.addAnchor(sessionID, resultID, name, session.Positive)
}

// AddNegativeAnchor copies the named result's embedding into a persistent
// negative anchor. All future scoring in the session penalizes similarity
// to it.
func (e *Engine) AddNegativeAnchor(ctx context.Context, sessionID, resultID, name string) (session.Session, error) {
	return e.addAnchor(sessionID, resultID, name, session.Negative)
}

func (e *Engine) addAnchor(sessionID, resultID, name string, polarity session.Polarity) (session.Session, error) {
	op := "add_positive_anchor"
	if polarity == session.Negative {
		op = "add_negative_anchor"
	}
	return e.sessions.Update(sessionID, op, "", func(s *session.Session) error {
		r, ok := findResult(s.Results, resultID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrResultNotFound, resultID)
		}
		if r.Embedding == nil {
			return fmt.Errorf("%w: %s", ErrNoEmbedding, resultID)
		}
		if name == "" {
			name = r.Title
		}
		// The embedding is copied so later node updates cannot shift an
		// anchor after the fact.
		anchor := session.Anchor{
			ID:        uuid.New().String(),
			Name:      name,
			Embedding: append([]float32(nil), r.Embedding...),
			CreatedAt: time.Now().UTC(),
		}
		if polarity == session.Positive {
			s.PositiveAnchors = append(s.PositiveAnchors, anchor)
		} else {
			s.NegativeAnchors = append(s.NegativeAnchors, anchor)
		}
		return nil
	})
}

// ApplyOptions controls an ApplyAnchors pass.
type ApplyOptions struct {
	// Threshold is the score floor after boosting; zero uses the
	// configured default, negative applies no floor at all.
	Threshold float32 `json:"threshold"`
}

// ApplyStats reports the outcome of an ApplyAnchors pass.
type ApplyStats struct {
	FilteredByAnchors int `json:"filtered_by_anchors"`
}

// ApplyAnchors recomputes every result's anchor boost from the session's
// accumulated anchors and re-fuses its score, dropping unpinned results
// that fall below the threshold.
//
// boost = maxSim(result, positive) − maxSim(result, negative), scaled by
// the configured anchor weight. The previous boost is discarded, never
// stacked, so repeated applications are stable.
func (e *Engine) ApplyAnchors(ctx context.Context, sessionID string, opts ApplyOptions) (session.Session, ApplyStats, error) {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = e.cfg.AnchorThreshold
	}

	var stats ApplyStats
	snap, err := e.sessions.Update(sessionID, "apply_anchors", "", func(s *session.Session) error {
		pos := anchorEmbeddings(s.PositiveAnchors)
		neg := anchorEmbeddings(s.NegativeAnchors)

		kept := s.Results[:0]
		for _, r := range s.Results {
			base := r.Score - r.Breakdown.AnchorBoost
			boost := e.cfg.AnchorWeight * (maxSimilarity(r.Embedding, pos) - maxSimilarity(r.Embedding, neg))
			r.Breakdown.AnchorBoost = boost
			r.Score = base + boost

			if threshold >= 0 && r.Score < threshold && !s.IsPinned(r.ID) {
				stats.FilteredByAnchors++
				continue
			}
			kept = append(kept, r)
		}
		sortResults(kept)
		s.Results = kept
		return nil
	})
	if err != nil {
		return session.Session{}, ApplyStats{}, err
	}
	return snap, stats, nil
}

// applyAnchorBoost recomputes each result's boost from the session's
// persistent anchors, in place. The previous boost is replaced, never
// stacked. A session without anchors is left untouched.
func (e *Engine) applyAnchorBoost(s *session.Session, results []retrieval.SearchResult) {
	if len(s.PositiveAnchors) == 0 && len(s.NegativeAnchors) == 0 {
		return
	}
	pos := anchorEmbeddings(s.PositiveAnchors)
	neg := anchorEmbeddings(s.NegativeAnchors)
	for i := range results {
		r := &results[i]
		base := r.Score - r.Breakdown.AnchorBoost
		boost := e.cfg.AnchorWeight * (maxSimilarity(r.Embedding, pos) - maxSimilarity(r.Embedding, neg))
		r.Breakdown.AnchorBoost = boost
		r.Score = base + boost
	}
}

func anchorEmbeddings(anchors []session.Anchor) [][]float32 {
	vecs := make([][]float32, 0, len(anchors))
	for _, a := range anchors {
		vecs = append(vecs, a.Embedding)
	}
	return vecs
}
