package hierarchy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/recall/internal/storage"
)

// openSeededStore builds a small two-level pyramid in an in-memory store.
func openSeededStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { s.Close() })

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	prov := func(i int) storage.Provenance {
		return storage.Provenance{
			SourceType:      "chat_export",
			SourceCreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
	}
	nodes := []storage.ContentNode{
		{ID: "c1", ThreadRootID: "doc1", ParentID: "s1", Level: storage.LevelL0, Text: "chunk one", WordCount: 2, Provenance: prov(0)},
		{ID: "c2", ThreadRootID: "doc1", ParentID: "s1", Level: storage.LevelL0, Text: "chunk two", WordCount: 2, Provenance: prov(1)},
		{ID: "s1", ThreadRootID: "doc1", ParentID: "a1", ChildIDs: []string{"c1", "c2"}, Level: storage.LevelL1, Text: "summary", WordCount: 1, Provenance: prov(2)},
		{ID: "a1", ThreadRootID: "doc1", ChildIDs: []string{"s1"}, Level: storage.LevelApex, Text: "apex", WordCount: 1, Provenance: prov(3)},
		{ID: "flat", ThreadRootID: "doc2", Level: storage.LevelL0, Text: "short flat doc", WordCount: 3, Provenance: prov(0)},
	}
	if err := s.InsertThread(context.Background(), nodes); err != nil {
		t.Fatalf("InsertThread: %v", err)
	}
	return s
}

func TestParentContext(t *testing.T) {
	nav := NewNavigator(openSeededStore(t))
	ctx := context.Background()

	parent, err := nav.ParentContext(ctx, "c1")
	if err != nil {
		t.Fatalf("ParentContext: %v", err)
	}
	if parent == nil || parent.ID != "s1" {
		t.Errorf("parent = %+v", parent)
	}

	// The apex and flat chunks have no parent.
	parent, err = nav.ParentContext(ctx, "a1")
	if err != nil {
		t.Fatalf("ParentContext apex: %v", err)
	}
	if parent != nil {
		t.Errorf("apex parent = %+v", parent)
	}
	parent, err = nav.ParentContext(ctx, "flat")
	if err != nil {
		t.Fatalf("ParentContext flat: %v", err)
	}
	if parent != nil {
		t.Errorf("flat parent = %+v", parent)
	}

	if _, err := nav.ParentContext(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing node = %v, want ErrNotFound", err)
	}
}

func TestChildren(t *testing.T) {
	nav := NewNavigator(openSeededStore(t))
	ctx := context.Background()

	kids, err := nav.Children(ctx, "s1")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(kids) != 2 || kids[0].ID != "c1" || kids[1].ID != "c2" {
		t.Errorf("children = %+v", kids)
	}

	kids, err = nav.Children(ctx, "c1")
	if err != nil {
		t.Fatalf("Children of leaf: %v", err)
	}
	if len(kids) != 0 {
		t.Errorf("leaf children = %+v", kids)
	}
}

func TestThread(t *testing.T) {
	nav := NewNavigator(openSeededStore(t))

	// Any node of the thread reaches the whole thread.
	nodes, err := nav.Thread(context.Background(), "c2")
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(nodes) != 4 {
		t.Fatalf("thread size = %d", len(nodes))
	}
	if nodes[0].ID != "c1" || nodes[3].ID != "a1" {
		t.Errorf("thread order = %s ... %s", nodes[0].ID, nodes[3].ID)
	}
}

func TestApex(t *testing.T) {
	nav := NewNavigator(openSeededStore(t))
	ctx := context.Background()

	apex, err := nav.Apex(ctx, "c1")
	if err != nil {
		t.Fatalf("Apex: %v", err)
	}
	if apex == nil || apex.ID != "a1" {
		t.Errorf("apex = %+v", apex)
	}

	// An L1 climbs one step.
	apex, err = nav.Apex(ctx, "s1")
	if err != nil {
		t.Fatalf("Apex from L1: %v", err)
	}
	if apex == nil || apex.ID != "a1" {
		t.Errorf("apex = %+v", apex)
	}

	// Nodes without ancestors have no apex to climb to.
	apex, err = nav.Apex(ctx, "flat")
	if err != nil {
		t.Fatalf("Apex flat: %v", err)
	}
	if apex != nil {
		t.Errorf("flat apex = %+v", apex)
	}

	if _, err := nav.Apex(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing node = %v, want ErrNotFound", err)
	}
}
