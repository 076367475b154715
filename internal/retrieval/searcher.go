// Package retrieval implements hybrid dense + sparse search over the
// indexed content pyramid.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kalambet/recall/internal/storage"
)

// NodeStore is the slice of the node store the searcher needs.
type NodeStore interface {
	VectorSearch(ctx context.Context, vector []float32, topK int, f storage.NodeFilter) ([]storage.ScoredNode, error)
	LexicalSearch(ctx context.Context, query string, topK int, f storage.NodeFilter) ([]storage.ScoredNode, error)
}

// Compile-time check that the SQLite store satisfies NodeStore.
var _ NodeStore = (*storage.Store)(nil)

// QueryEmbedder embeds query text for the dense path.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FusionConfig holds the hybrid scoring tunables. The default weights are
// a starting point, not a tuned optimum; expose them in configuration.
type FusionConfig struct {
	DenseWeight  float32
	SparseWeight float32
	// CandidateK is how many candidates each path retrieves before fusion.
	CandidateK int
}

// DefaultFusionConfig returns the stock fusion weights: 0.6 dense, 0.4 sparse.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{DenseWeight: 0.6, SparseWeight: 0.4, CandidateK: 50}
}

// Searcher executes hybrid searches. Stateless per call and safe for
// concurrent use.
type Searcher struct {
	embedder QueryEmbedder
	store    NodeStore
	cfg      FusionConfig
	logger   *slog.Logger
}

// NewSearcher creates a Searcher over the given embedder and node store.
func NewSearcher(embedder QueryEmbedder, store NodeStore, cfg FusionConfig) *Searcher {
	if cfg.DenseWeight <= 0 && cfg.SparseWeight <= 0 {
		cfg = DefaultFusionConfig()
	}
	if cfg.CandidateK <= 0 {
		cfg.CandidateK = DefaultFusionConfig().CandidateK
	}
	return &Searcher{embedder: embedder, store: store, cfg: cfg, logger: slog.Default()}
}

// Search runs the configured retrieval paths, fuses their rankings, and
// returns results above the threshold, best first.
//
// When one path fails the other carries the query alone and the response
// is flagged degraded; both paths failing is an error.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) (Response, error) {
	if opts.Limit < 0 {
		return Response{}, fmt.Errorf("%w: negative limit %d", ErrValidation, opts.Limit)
	}
	if opts.Limit == 0 {
		opts.Limit = 20
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	if opts.Level != "" && !opts.Level.Valid() {
		return Response{}, fmt.Errorf("%w: unknown hierarchy level %q", ErrValidation, opts.Level)
	}

	filter := storage.NodeFilter{
		SourceTypes:  opts.SourceTypes,
		AuthorRole:   opts.AuthorRole,
		ThreadRootID: opts.ThreadRootID,
	}
	if opts.Level != "" {
		filter.Levels = []storage.HierarchyLevel{opts.Level}
	}

	topK := s.cfg.CandidateK
	if opts.Limit*3 > topK {
		topK = opts.Limit * 3
	}

	start := time.Now()
	var stats Stats

	var dense, sparse []storage.ScoredNode
	var denseErr, sparseErr error

	if opts.Mode == ModeHybrid || opts.Mode == ModeDense {
		t := time.Now()
		dense, denseErr = s.denseSearch(ctx, query, topK, filter)
		stats.DenseMs = time.Since(t).Milliseconds()
		stats.DenseCandidates = len(dense)
	}
	if opts.Mode == ModeHybrid || opts.Mode == ModeSparse {
		t := time.Now()
		sparse, sparseErr = s.store.LexicalSearch(ctx, query, topK, filter)
		stats.SparseMs = time.Since(t).Milliseconds()
		stats.SparseCandidates = len(sparse)
	}

	switch opts.Mode {
	case ModeDense:
		if denseErr != nil {
			return Response{}, fmt.Errorf("dense search: %w", denseErr)
		}
	case ModeSparse:
		if sparseErr != nil {
			return Response{}, fmt.Errorf("sparse search: %w", sparseErr)
		}
	default:
		if denseErr != nil && sparseErr != nil {
			return Response{}, fmt.Errorf("%w: dense: %v; sparse: %v", ErrUnavailable, denseErr, sparseErr)
		}
		if denseErr != nil {
			s.logger.Warn("dense path failed, serving sparse only", "error", denseErr)
			stats.Degraded = "sparse_only"
			dense = nil
		}
		if sparseErr != nil {
			s.logger.Warn("sparse path failed, serving dense only", "error", sparseErr)
			stats.Degraded = "dense_only"
			sparse = nil
		}
	}

	results := fuse(dense, sparse, opts.Mode, s.cfg)

	// Threshold and truncate.
	filtered := results[:0]
	for _, r := range results {
		if r.Score >= opts.Threshold {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	stats.TotalTimeMs = time.Since(start).Milliseconds()
	return Response{Results: filtered, Stats: stats}, nil
}

func (s *Searcher) denseSearch(ctx context.Context, query string, topK int, f storage.NodeFilter) ([]storage.ScoredNode, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.store.VectorSearch(ctx, vec, topK, f)
}

// fuse min-max normalizes each candidate list independently and combines
// them as a weighted sum. A node absent from one list contributes zero for
// that component. Ties break toward the more recent source.
func fuse(dense, sparse []storage.ScoredNode, mode Mode, cfg FusionConfig) []SearchResult {
	denseNorm := normalize(dense)
	sparseNorm := normalize(sparse)

	type candidate struct {
		node      storage.ScoredNode
		breakdown ScoreBreakdown
	}
	merged := make(map[string]*candidate, len(dense)+len(sparse))

	for i, n := range dense {
		merged[n.ID] = &candidate{node: n, breakdown: ScoreBreakdown{Dense: denseNorm[i]}}
	}
	for i, n := range sparse {
		if c, ok := merged[n.ID]; ok {
			c.breakdown.Sparse = sparseNorm[i]
		} else {
			merged[n.ID] = &candidate{node: n, breakdown: ScoreBreakdown{Sparse: sparseNorm[i]}}
		}
	}

	// Explicit single-path modes score by the bare normalized component so
	// the unused breakdown field stays exactly zero. Hybrid always applies
	// the weights; a path with no candidates contributes zero, even when
	// that path is degraded or simply empty.
	results := make([]SearchResult, 0, len(merged))
	for _, c := range merged {
		var score float32
		switch mode {
		case ModeDense:
			score = c.breakdown.Dense
		case ModeSparse:
			score = c.breakdown.Sparse
		default:
			score = cfg.DenseWeight*c.breakdown.Dense + cfg.SparseWeight*c.breakdown.Sparse
		}
		results = append(results, resultFromNode(c.node, c.breakdown, score))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results
}

// normalize maps a descending candidate list's scores onto [0,1]. A list
// where every score is equal maps to all ones.
func normalize(nodes []storage.ScoredNode) []float32 {
	if len(nodes) == 0 {
		return nil
	}
	min, max := nodes[0].Score, nodes[0].Score
	for _, n := range nodes[1:] {
		if n.Score < min {
			min = n.Score
		}
		if n.Score > max {
			max = n.Score
		}
	}
	out := make([]float32, len(nodes))
	if max == min {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, n := range nodes {
		out[i] = (n.Score - min) / (max - min)
	}
	return out
}
