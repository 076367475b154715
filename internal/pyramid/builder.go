// Package pyramid builds the three-level compression tree over raw archive
// text: L0 base chunks, L1 bucket summaries, and a single apex summary per
// thread.
package pyramid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/storage"
)

// Summarizer produces an abstractive summary of text near targetWords.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetWords int) (string, error)
}

// Config holds the pyramid construction tunables.
type Config struct {
	// MinWords is the threshold below which compression is skipped and the
	// whole document becomes a single L0 node. Derived from the ~1000 token
	// default at roughly 0.75 words per token.
	MinWords int
	// ChunkWords is the L0 chunk word target.
	ChunkWords int
	// BucketSize is the number of L0 chunks summarized into one L1 node.
	BucketSize int
	// L1TargetWords is the word target for one L1 summary.
	L1TargetWords int
	// ApexTargetWords is the word target for the apex summary.
	ApexTargetWords int
}

// DefaultConfig returns the stock pyramid tunables.
func DefaultConfig() Config {
	return Config{
		MinWords:        750,
		ChunkWords:      DefaultChunkWords,
		BucketSize:      5,
		L1TargetWords:   150,
		ApexTargetWords: 300,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinWords <= 0 {
		c.MinWords = d.MinWords
	}
	if c.ChunkWords <= 0 {
		c.ChunkWords = d.ChunkWords
	}
	if c.BucketSize <= 0 {
		c.BucketSize = d.BucketSize
	}
	if c.L1TargetWords <= 0 {
		c.L1TargetWords = d.L1TargetWords
	}
	if c.ApexTargetWords <= 0 {
		c.ApexTargetWords = d.ApexTargetWords
	}
	return c
}

// Event reports build progress to an observer channel.
type Event struct {
	Stage string // "chunk", "summarize_l1", "summarize_apex"
	Done  int
	Total int
}

// Request describes one document to compress.
type Request struct {
	Content      string
	ThreadRootID string
	Provenance   storage.Provenance
}

// Result is a completed pyramid for one thread.
type Result struct {
	L0    []storage.ContentNode
	L1    []storage.ContentNode
	Apex  *storage.ContentNode
	Stats Stats
}

// Nodes returns every node of the pyramid in insertion order: L0 chunks,
// then L1 summaries, then the apex.
func (r Result) Nodes() []storage.ContentNode {
	nodes := make([]storage.ContentNode, 0, len(r.L0)+len(r.L1)+1)
	nodes = append(nodes, r.L0...)
	nodes = append(nodes, r.L1...)
	if r.Apex != nil {
		nodes = append(nodes, *r.Apex)
	}
	return nodes
}

// Stats reports node counts, word totals, and compression ratios.
type Stats struct {
	L0Count      int
	L1Count      int
	ApexCount    int
	L0Words      int
	L1Words      int
	ApexWords    int
	L0ToL1Ratio  float64 // L0 words / L1 words; 0 when no L1 exists
	OverallRatio float64 // L0 words / apex words; 0 when no apex exists
}

// Builder turns raw document text into a pyramid. It is stateless and safe
// for concurrent use across documents.
type Builder struct {
	chunker    Chunker
	summarizer Summarizer // nil degrades to flat L0 indexing
	cfg        Config
	events     chan<- Event
}

// Option configures a Builder.
type Option func(*Builder)

// WithSummarizer injects the abstractive summarizer. Without one the
// builder emits L0 chunks only.
func WithSummarizer(s Summarizer) Option {
	return func(b *Builder) { b.summarizer = s }
}

// WithEvents sets a progress channel. Sends never block; events are
// dropped when the channel is full.
func WithEvents(ch chan<- Event) Option {
	return func(b *Builder) { b.events = ch }
}

// NewBuilder creates a Builder with the given chunker and config.
func NewBuilder(chunker Chunker, cfg Config, opts ...Option) *Builder {
	b := &Builder{chunker: chunker, cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) emit(ev Event) {
	if b.events == nil {
		return
	}
	select {
	case b.events <- ev:
	default:
	}
}

// Build compresses one document into a pyramid. Any chunking or
// summarization error aborts the whole document; nothing partial is
// returned.
func (b *Builder) Build(ctx context.Context, req Request) (Result, error) {
	totalWords := countWords(req.Content)
	if totalWords == 0 {
		return Result{}, fmt.Errorf("document %s has no content", req.ThreadRootID)
	}

	baseTime := req.Provenance.SourceCreatedAt
	if baseTime.IsZero() {
		baseTime = time.Now().UTC()
	}

	// Short documents skip compression entirely.
	if totalWords < b.cfg.MinWords {
		node := b.newNode(req, storage.LevelL0, req.Content, baseTime)
		res := Result{L0: []storage.ContentNode{node}}
		res.Stats = b.stats(res)
		return res, nil
	}

	chunks := b.chunker.Chunk(req.Content)
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("chunking document %s produced no chunks", req.ThreadRootID)
	}
	b.emit(Event{Stage: "chunk", Done: len(chunks), Total: len(chunks)})

	// Chunk order is preserved through strictly increasing source
	// timestamps, which is what thread ordering sorts on.
	l0 := make([]storage.ContentNode, len(chunks))
	for i, text := range chunks {
		l0[i] = b.newNode(req, storage.LevelL0, text, baseTime.Add(time.Duration(i)*time.Millisecond))
	}

	res := Result{L0: l0}
	if b.summarizer == nil {
		res.Stats = b.stats(res)
		return res, nil
	}

	// Bucket L0 chunks and summarize each bucket into an L1 node.
	buckets := (len(l0) + b.cfg.BucketSize - 1) / b.cfg.BucketSize
	l1 := make([]storage.ContentNode, 0, buckets)
	for i := 0; i < len(l0); i += b.cfg.BucketSize {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		end := i + b.cfg.BucketSize
		if end > len(l0) {
			end = len(l0)
		}
		bucket := l0[i:end]

		var sb strings.Builder
		for _, n := range bucket {
			sb.WriteString(n.Text)
			sb.WriteString("\n\n")
		}
		summary, err := b.summarizer.Summarize(ctx, sb.String(), b.cfg.L1TargetWords)
		if err != nil {
			return Result{}, fmt.Errorf("summarizing bucket %d of document %s: %w", len(l1), req.ThreadRootID, err)
		}

		node := b.newNode(req, storage.LevelL1, summary, baseTime.Add(time.Duration(i)*time.Millisecond))
		node.ChildIDs = make([]string, len(bucket))
		for j := range bucket {
			node.ChildIDs[j] = bucket[j].ID
			l0[i+j].ParentID = node.ID
		}
		l1 = append(l1, node)
		b.emit(Event{Stage: "summarize_l1", Done: len(l1), Total: buckets})
	}
	res.L1 = l1

	// One apex summarizes the concatenation of all L1 summaries.
	var sb strings.Builder
	for _, n := range l1 {
		sb.WriteString(n.Text)
		sb.WriteString("\n\n")
	}
	apexText, err := b.summarizer.Summarize(ctx, sb.String(), b.cfg.ApexTargetWords)
	if err != nil {
		return Result{}, fmt.Errorf("summarizing apex of document %s: %w", req.ThreadRootID, err)
	}
	apex := b.newNode(req, storage.LevelApex, apexText, baseTime)
	apex.ChildIDs = make([]string, len(l1))
	for i := range l1 {
		apex.ChildIDs[i] = l1[i].ID
		res.L1[i].ParentID = apex.ID
	}
	res.Apex = &apex
	b.emit(Event{Stage: "summarize_apex", Done: 1, Total: 1})

	res.Stats = b.stats(res)
	return res, nil
}

func (b *Builder) newNode(req Request, level storage.HierarchyLevel, text string, createdAt time.Time) storage.ContentNode {
	prov := req.Provenance
	prov.SourceCreatedAt = createdAt
	return storage.ContentNode{
		ID:           uuid.New().String(),
		ThreadRootID: req.ThreadRootID,
		Level:        level,
		Text:         text,
		WordCount:    countWords(text),
		Provenance:   prov,
	}
}

func (b *Builder) stats(res Result) Stats {
	var st Stats
	st.L0Count = len(res.L0)
	st.L1Count = len(res.L1)
	for _, n := range res.L0 {
		st.L0Words += n.WordCount
	}
	for _, n := range res.L1 {
		st.L1Words += n.WordCount
	}
	if res.Apex != nil {
		st.ApexCount = 1
		st.ApexWords = res.Apex.WordCount
	}
	if st.L1Words > 0 {
		st.L0ToL1Ratio = float64(st.L0Words) / float64(st.L1Words)
	}
	if st.ApexWords > 0 {
		st.OverallRatio = float64(st.L0Words) / float64(st.ApexWords)
	}
	return st
}
