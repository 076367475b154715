// Package cluster groups a session's results into cohesive semantic
// clusters by greedy agglomerative merging over embedding similarity.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/retrieval"
	"github.com/kalambet/recall/internal/session"
)

// Summarizer generates a short cluster label. Optional; labeling failures
// never fail discovery.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetWords int) (string, error)
}

// Options controls one discovery pass. Thresholds are exposed rather than
// hard-coded; the defaults are a starting point.
type Options struct {
	// SimilarityThreshold is the minimum average-linkage similarity for a
	// merge; zero uses 0.75.
	SimilarityThreshold float32 `json:"similarity_threshold"`
	// MinClusterSize dissolves smaller clusters back to unclustered;
	// zero uses 2.
	MinClusterSize int `json:"min_cluster_size"`
	// MaxClusters caps how many clusters are returned; zero uses 10.
	MaxClusters int `json:"max_clusters"`
	// Label asks the summarizer for a short label per cluster.
	Label bool `json:"label"`
}

func (o Options) withDefaults() Options {
	if o.SimilarityThreshold == 0 {
		o.SimilarityThreshold = 0.75
	}
	if o.MinClusterSize <= 0 {
		o.MinClusterSize = 2
	}
	if o.MaxClusters <= 0 {
		o.MaxClusters = 10
	}
	return o
}

// Cluster is one discovered group of results.
type Cluster struct {
	ID             string   `json:"id"`
	Label          string   `json:"label,omitempty"`
	Members        []string `json:"members"` // result ids
	Cohesion       float32  `json:"cohesion"`
	Representative string   `json:"representative"` // medoid result id
}

// Stats summarizes a discovery pass.
type Stats struct {
	Clustered   int   `json:"clustered"`
	Unclustered int   `json:"unclustered"`
	TotalTimeMs int64 `json:"total_time_ms"`
}

// Result is the outcome of one discovery pass.
type Result struct {
	Clusters    []Cluster `json:"clusters"`
	Unclustered []string  `json:"unclustered"` // result ids left ungrouped
	Stats       Stats     `json:"stats"`
}

// Engine discovers clusters within sessions.
type Engine struct {
	sessions   *session.Manager
	summarizer Summarizer // nil disables labeling
	logger     *slog.Logger
}

// NewEngine creates a cluster engine. summarizer may be nil.
func NewEngine(sessions *session.Manager, summarizer Summarizer) *Engine {
	return &Engine{sessions: sessions, summarizer: summarizer, logger: slog.Default()}
}

// Discover groups the session's current results. The result set itself is
// not modified; the operation is still recorded in session history and
// serialized with other mutations. An empty session yields an empty,
// successful result.
func (e *Engine) Discover(ctx context.Context, sessionID string, opts Options) (Result, error) {
	opts = opts.withDefaults()
	start := time.Now()

	var results []retrieval.SearchResult
	if _, err := e.sessions.Update(sessionID, "discover_clusters", "", func(s *session.Session) error {
		results = append(results, s.Results...)
		return nil
	}); err != nil {
		return Result{}, err
	}

	out := e.discover(ctx, results, opts)
	out.Stats.TotalTimeMs = time.Since(start).Milliseconds()
	return out, nil
}

func (e *Engine) discover(ctx context.Context, results []retrieval.SearchResult, opts Options) Result {
	// Results without embeddings cannot participate.
	var items []int
	var out Result
	for i, r := range results {
		if len(r.Embedding) > 0 {
			items = append(items, i)
		} else {
			out.Unclustered = append(out.Unclustered, r.ID)
		}
	}
	if len(items) == 0 {
		out.Stats.Unclustered = len(out.Unclustered)
		return out
	}

	// Pairwise similarity over participating members.
	n := len(items)
	sim := make([][]float32, n)
	for i := range sim {
		sim[i] = make([]float32, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := retrieval.Cosine(results[items[i]].Embedding, results[items[j]].Embedding)
			sim[i][j] = s
			sim[j][i] = s
		}
	}

	// Greedy agglomerative merging with average linkage: repeatedly merge
	// the two most similar groups until no pair clears the threshold.
	groups := make([][]int, n)
	for i := range groups {
		groups[i] = []int{i}
	}
	for len(groups) > 1 {
		bestI, bestJ := -1, -1
		var best float32 = -1
		for i := 0; i < len(groups); i++ {
			for j := i + 1; j < len(groups); j++ {
				if link := averageLinkage(groups[i], groups[j], sim); link > best {
					best = link
					bestI, bestJ = i, j
				}
			}
		}
		if best < opts.SimilarityThreshold {
			break
		}
		groups[bestI] = append(groups[bestI], groups[bestJ]...)
		groups = append(groups[:bestJ], groups[bestJ+1:]...)
	}

	// Dissolve undersized groups; cap the cluster count, largest first.
	var sized [][]int
	for _, g := range groups {
		if len(g) >= opts.MinClusterSize {
			sized = append(sized, g)
		} else {
			for _, m := range g {
				out.Unclustered = append(out.Unclustered, results[items[m]].ID)
			}
		}
	}
	sort.Slice(sized, func(i, j int) bool { return len(sized[i]) > len(sized[j]) })
	if len(sized) > opts.MaxClusters {
		for _, g := range sized[opts.MaxClusters:] {
			for _, m := range g {
				out.Unclustered = append(out.Unclustered, results[items[m]].ID)
			}
		}
		sized = sized[:opts.MaxClusters]
	}

	for _, g := range sized {
		c := Cluster{ID: uuid.New().String(), Members: make([]string, len(g))}
		for i, m := range g {
			c.Members[i] = results[items[m]].ID
		}
		c.Cohesion = cohesion(g, sim)
		c.Representative = results[items[medoid(g, sim)]].ID
		if opts.Label && e.summarizer != nil {
			c.Label = e.label(ctx, results, items, g)
		}
		out.Clusters = append(out.Clusters, c)
		out.Stats.Clustered += len(g)
	}
	out.Stats.Unclustered = len(out.Unclustered)
	return out
}

// averageLinkage is the mean similarity across all cross-group pairs.
func averageLinkage(a, b []int, sim [][]float32) float32 {
	var sum float64
	for _, i := range a {
		for _, j := range b {
			sum += float64(sim[i][j])
		}
	}
	return float32(sum / float64(len(a)*len(b)))
}

// cohesion is the mean pairwise similarity within a group. Singletons
// cohere perfectly.
func cohesion(g []int, sim [][]float32) float32 {
	if len(g) < 2 {
		return 1
	}
	var sum float64
	var pairs int
	for i := 0; i < len(g); i++ {
		for j := i + 1; j < len(g); j++ {
			sum += float64(sim[g[i]][g[j]])
			pairs++
		}
	}
	return float32(sum / float64(pairs))
}

// medoid returns the member with the highest mean similarity to the rest
// of its group.
func medoid(g []int, sim [][]float32) int {
	best := g[0]
	var bestMean float64 = -1
	for _, i := range g {
		var sum float64
		for _, j := range g {
			if i != j {
				sum += float64(sim[i][j])
			}
		}
		mean := sum
		if len(g) > 1 {
			mean = sum / float64(len(g)-1)
		}
		if mean > bestMean {
			bestMean = mean
			best = i
		}
	}
	return best
}

// label asks the summarizer for a handful of words naming the cluster.
// Any failure logs and returns an empty label.
func (e *Engine) label(ctx context.Context, results []retrieval.SearchResult, items, g []int) string {
	var sb strings.Builder
	for i, m := range g {
		if i >= 5 {
			break
		}
		text := results[items[m]].Text
		if len(text) > 400 {
			text = text[:400]
		}
		fmt.Fprintf(&sb, "- %s\n", text)
	}
	label, err := e.summarizer.Summarize(ctx, sb.String(), 8)
	if err != nil {
		e.logger.Warn("cluster labeling failed", "error", err)
		return ""
	}
	return strings.TrimSpace(label)
}
