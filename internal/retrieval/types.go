package retrieval

import (
	"errors"
	"time"

	"github.com/kalambet/recall/internal/storage"
)

// ErrValidation is returned for malformed search options.
var ErrValidation = errors.New("invalid search options")

// ErrUnavailable is returned when both retrieval paths are down.
var ErrUnavailable = errors.New("retrieval backends unavailable")

// Mode selects which retrieval paths participate in a search.
type Mode string

const (
	ModeHybrid Mode = "hybrid"
	ModeDense  Mode = "dense"
	ModeSparse Mode = "sparse"
)

// ScoreBreakdown records the components behind a result's fused score.
// The fused score is always recomputed from these, never patched in place.
type ScoreBreakdown struct {
	Dense       float32 `json:"dense"`
	Sparse      float32 `json:"sparse"`
	AnchorBoost float32 `json:"anchor_boost"`
}

// SearchResult is a scored, session-scoped view of a ContentNode.
type SearchResult struct {
	ID           string                 `json:"id"`
	ThreadRootID string                 `json:"thread_root_id"`
	Score        float32                `json:"score"`
	Breakdown    ScoreBreakdown         `json:"breakdown"`
	WordCount    int                    `json:"word_count"`
	Level        storage.HierarchyLevel `json:"level"`
	Title        string                 `json:"title"`
	Text         string                 `json:"text"`
	SourceType   string                 `json:"source_type"`
	AuthorRole   string                 `json:"author_role"`
	CreatedAt    time.Time              `json:"created_at"`
	Embedding    []float32              `json:"-"`
}

// Options controls a single search call.
type Options struct {
	Limit        int
	Threshold    float32
	Mode         Mode
	Level        storage.HierarchyLevel // empty searches all levels
	SourceTypes  []string
	AuthorRole   string
	ThreadRootID string
}

// Stats reports timings and degradation for one search call.
type Stats struct {
	TotalTimeMs      int64  `json:"total_time_ms"`
	DenseMs          int64  `json:"dense_ms"`
	SparseMs         int64  `json:"sparse_ms"`
	DenseCandidates  int    `json:"dense_candidates"`
	SparseCandidates int    `json:"sparse_candidates"`
	Degraded         string `json:"degraded,omitempty"` // "sparse_only" or "dense_only"
}

// Response is the result of one search call.
type Response struct {
	Results []SearchResult `json:"results"`
	Stats   Stats          `json:"stats"`
}

// resultFromNode converts a stored node and fused score into a result view.
func resultFromNode(n storage.ScoredNode, breakdown ScoreBreakdown, score float32) SearchResult {
	return SearchResult{
		ID:           n.ID,
		ThreadRootID: n.ThreadRootID,
		Score:        score,
		Breakdown:    breakdown,
		WordCount:    n.WordCount,
		Level:        n.Level,
		Title:        n.Provenance.ThreadTitle,
		Text:         n.Text,
		SourceType:   n.Provenance.SourceType,
		AuthorRole:   n.Provenance.AuthorRole,
		CreatedAt:    n.Provenance.SourceCreatedAt,
		Embedding:    n.Embedding,
	}
}
