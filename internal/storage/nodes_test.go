package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testThread(base time.Time) []ContentNode {
	prov := func(i int) Provenance {
		return Provenance{
			SourceType:      "chat_export",
			AuthorRole:      "user",
			SourceCreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			ThreadTitle:     "deploy review",
		}
	}
	return []ContentNode{
		{
			ID: "c1", ThreadRootID: "doc1", ParentID: "s1", Level: LevelL0,
			Text: "we rolled back the deploy after the cache failed", WordCount: 9,
			Embedding: []float32{1, 0, 0}, Provenance: prov(0),
		},
		{
			ID: "c2", ThreadRootID: "doc1", ParentID: "s1", Level: LevelL0,
			Text: "the migration locked the users table for ten minutes", WordCount: 9,
			Embedding: []float32{0, 1, 0}, Provenance: prov(1),
		},
		{
			ID: "s1", ThreadRootID: "doc1", ParentID: "a1", ChildIDs: []string{"c1", "c2"},
			Level: LevelL1, Text: "deploy rollback and migration lock discussion", WordCount: 6,
			Embedding: []float32{0.7, 0.7, 0}, Provenance: prov(2),
		},
		{
			ID: "a1", ThreadRootID: "doc1", ChildIDs: []string{"s1"},
			Level: LevelApex, Text: "postmortem of a failed deploy", WordCount: 5,
			Embedding: []float32{0.5, 0.5, 0.7}, Provenance: prov(3),
		},
	}
}

func TestInsertThreadAndGetNode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.InsertThread(ctx, testThread(base)); err != nil {
		t.Fatalf("InsertThread: %v", err)
	}

	n, err := s.GetNode(ctx, "s1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if n.Level != LevelL1 {
		t.Errorf("level = %q, want L1", n.Level)
	}
	if len(n.ChildIDs) != 2 || n.ChildIDs[0] != "c1" || n.ChildIDs[1] != "c2" {
		t.Errorf("child ids = %v", n.ChildIDs)
	}
	if n.Provenance.ThreadTitle != "deploy review" {
		t.Errorf("thread title = %q", n.Provenance.ThreadTitle)
	}
	if !n.Provenance.SourceCreatedAt.Equal(base.Add(2 * time.Millisecond)) {
		t.Errorf("source_created_at = %v", n.Provenance.SourceCreatedAt)
	}
	if len(n.Embedding) != 3 {
		t.Errorf("embedding = %v", n.Embedding)
	}

	if _, err := s.GetNode(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNode missing = %v, want ErrNotFound", err)
	}
}

func TestInsertThreadRejectsUnknownLevel(t *testing.T) {
	s := openTestStore(t)

	err := s.InsertThread(context.Background(), []ContentNode{
		{ID: "x", ThreadRootID: "doc1", Level: "L7", Text: "bad"},
	})
	if err == nil {
		t.Fatal("expected error for unknown level")
	}

	// The transaction must not leave partial rows.
	count, err := s.CountNodes(context.Background(), "")
	if err != nil {
		t.Fatalf("CountNodes: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d after failed insert, want 0", count)
	}
}

func TestChildrenPreservesParentOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertThread(ctx, testThread(time.Now().UTC())); err != nil {
		t.Fatalf("InsertThread: %v", err)
	}

	kids, err := s.Children(ctx, "s1")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(kids) != 2 {
		t.Fatalf("got %d children, want 2", len(kids))
	}
	if kids[0].ID != "c1" || kids[1].ID != "c2" {
		t.Errorf("children order = %s, %s", kids[0].ID, kids[1].ID)
	}

	kids, err = s.Children(ctx, "c1")
	if err != nil {
		t.Fatalf("Children of leaf: %v", err)
	}
	if len(kids) != 0 {
		t.Errorf("leaf has %d children", len(kids))
	}
}

func TestThreadChronologicalOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	// Whole-second base exercises mixed sub-second formatting.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.InsertThread(ctx, testThread(base)); err != nil {
		t.Fatalf("InsertThread: %v", err)
	}

	nodes, err := s.Thread(ctx, "doc1")
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(nodes) != 4 {
		t.Fatalf("got %d nodes, want 4", len(nodes))
	}
	want := []string{"c1", "c2", "s1", "a1"}
	for i, n := range nodes {
		if n.ID != want[i] {
			t.Errorf("position %d = %s, want %s", i, n.ID, want[i])
		}
	}
}

func TestVectorSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertThread(ctx, testThread(time.Now().UTC())); err != nil {
		t.Fatalf("InsertThread: %v", err)
	}

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0}, 2, NodeFilter{})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "c1" {
		t.Errorf("top result = %s, want c1", results[0].ID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not ordered: %f < %f", results[0].Score, results[1].Score)
	}

	// Level filter narrows to summaries.
	results, err = s.VectorSearch(ctx, []float32{1, 0, 0}, 10, NodeFilter{Levels: []HierarchyLevel{LevelL1}})
	if err != nil {
		t.Fatalf("VectorSearch with filter: %v", err)
	}
	if len(results) != 1 || results[0].ID != "s1" {
		t.Errorf("filtered results = %v", results)
	}

	// Degenerate inputs return nothing.
	if r, _ := s.VectorSearch(ctx, []float32{0, 0, 0}, 5, NodeFilter{}); r != nil {
		t.Errorf("zero vector returned %v", r)
	}
	if r, _ := s.VectorSearch(ctx, []float32{1, 0, 0}, 0, NodeFilter{}); r != nil {
		t.Errorf("topK 0 returned %v", r)
	}
}

func TestLexicalSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertThread(ctx, testThread(time.Now().UTC())); err != nil {
		t.Fatalf("InsertThread: %v", err)
	}

	results, err := s.LexicalSearch(ctx, "migration locked", 10, NodeFilter{})
	if err != nil {
		t.Fatalf("LexicalSearch: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no lexical results")
	}
	if results[0].ID != "c2" {
		t.Errorf("top result = %s, want c2", results[0].ID)
	}
	if results[0].Score <= 0 {
		t.Errorf("score = %f, want positive", results[0].Score)
	}

	// Punctuation-only queries match nothing rather than erroring.
	results, err = s.LexicalSearch(ctx, "?? !!", 10, NodeFilter{})
	if err != nil {
		t.Fatalf("LexicalSearch punctuation: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("punctuation query returned %d results", len(results))
	}
}

func TestLexicalSearchAuthorRoleFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertThread(ctx, testThread(time.Now().UTC())); err != nil {
		t.Fatalf("InsertThread: %v", err)
	}

	results, err := s.LexicalSearch(ctx, "deploy", 10, NodeFilter{AuthorRole: "assistant"})
	if err != nil {
		t.Fatalf("LexicalSearch: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("assistant filter matched %d results", len(results))
	}
}

func TestFTSMatchQuery(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"deploy rollback", `"deploy" OR "rollback"`},
		{`cache "quoted" term`, `"cache" OR "quoted" OR "term"`},
		{"?!,.", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ftsMatchQuery(tc.in); got != tc.want {
			t.Errorf("ftsMatchQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUpdateEmbedding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertThread(ctx, testThread(time.Now().UTC())); err != nil {
		t.Fatalf("InsertThread: %v", err)
	}

	if err := s.UpdateEmbedding(ctx, "c1", []float32{0, 0, 1}); err != nil {
		t.Fatalf("UpdateEmbedding: %v", err)
	}
	n, err := s.GetNode(ctx, "c1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if n.Embedding[2] != 1 {
		t.Errorf("embedding = %v", n.Embedding)
	}

	if err := s.UpdateEmbedding(ctx, "missing", []float32{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateEmbedding missing = %v, want ErrNotFound", err)
	}
}

func TestDeleteThread(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertThread(ctx, testThread(time.Now().UTC())); err != nil {
		t.Fatalf("InsertThread: %v", err)
	}
	if err := s.DeleteThread(ctx, "doc1"); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}

	count, err := s.CountNodes(ctx, "")
	if err != nil {
		t.Fatalf("CountNodes: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d after delete, want 0", count)
	}

	results, err := s.LexicalSearch(ctx, "deploy", 10, NodeFilter{})
	if err != nil {
		t.Fatalf("LexicalSearch: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("fts still matches %d rows after delete", len(results))
	}
}

func TestCountNodesByLevel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertThread(ctx, testThread(time.Now().UTC())); err != nil {
		t.Fatalf("InsertThread: %v", err)
	}

	cases := []struct {
		level HierarchyLevel
		want  int
	}{
		{LevelL0, 2},
		{LevelL1, 1},
		{LevelApex, 1},
		{"", 4},
	}
	for _, tc := range cases {
		got, err := s.CountNodes(ctx, tc.level)
		if err != nil {
			t.Fatalf("CountNodes(%q): %v", tc.level, err)
		}
		if got != tc.want {
			t.Errorf("CountNodes(%q) = %d, want %d", tc.level, got, tc.want)
		}
	}
}

func TestSortScoredNodesRecencyTieBreak(t *testing.T) {
	older := ScoredNode{Score: 0.5}
	older.ID = "old"
	older.Provenance.SourceCreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := ScoredNode{Score: 0.5}
	newer.ID = "new"
	newer.Provenance.SourceCreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	best := ScoredNode{Score: 0.9}
	best.ID = "best"

	results := []ScoredNode{older, newer, best}
	sortScoredNodes(results)

	if results[0].ID != "best" {
		t.Errorf("first = %s, want best", results[0].ID)
	}
	if results[1].ID != "new" {
		t.Errorf("tie break picked %s, want new", results[1].ID)
	}
}

func TestVectorRoundtrip(t *testing.T) {
	in := []float32{0.1, -2.5, 0, 3.25}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decodeVector: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}

	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
