package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// HierarchyLevel identifies a node's position in the content pyramid.
type HierarchyLevel string

const (
	// LevelL0 is a base chunk of raw archive text.
	LevelL0 HierarchyLevel = "L0"
	// LevelL1 is a summary of a bucket of L0 chunks.
	LevelL1 HierarchyLevel = "L1"
	// LevelApex is the single whole-thread summary.
	LevelApex HierarchyLevel = "apex"
)

// Valid reports whether l is one of the three known levels.
func (l HierarchyLevel) Valid() bool {
	return l == LevelL0 || l == LevelL1 || l == LevelApex
}

// Provenance records where a node's text originally came from.
type Provenance struct {
	SourceType      string    // "chat_export", "social_export", "article", ...
	AuthorRole      string    // "user", "assistant", "system", "author", ...
	SourceCreatedAt time.Time // creation time of the source document
	ThreadTitle     string
}

// ContentNode is one unit of indexed text in the pyramid.
//
// Invariants maintained by the pyramid builder: every ChildIDs entry
// references a node one level down with the same ThreadRootID, and exactly
// one apex node exists per thread whenever any L1 node exists for it.
type ContentNode struct {
	ID           string
	ThreadRootID string
	ParentID     string // empty on apex and on flat L0 nodes
	ChildIDs     []string
	Level        HierarchyLevel
	Text         string
	WordCount    int
	Embedding    []float32 // nil until computed
	Provenance   Provenance
}

// ScoredNode is a ContentNode with a similarity or lexical score attached.
type ScoredNode struct {
	ContentNode
	Score float32
}

// NodeFilter narrows vector and lexical search to matching nodes.
// Zero-value fields are not applied.
type NodeFilter struct {
	Levels       []HierarchyLevel
	SourceTypes  []string
	AuthorRole   string
	ThreadRootID string
}

// Document is a raw archive document queued for pyramid construction.
type Document struct {
	ID         string
	Title      string
	Content    string
	SourceType string
	AuthorRole string
	Status     string // "queued", "indexed", "failed"
	CreatedAt  time.Time
}

// Job is a unit of background work in the SQLite job queue.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
