package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kalambet/recall/internal/pyramid"
	"github.com/kalambet/recall/internal/storage"
)

type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, text string, targetWords int) (string, error) {
	return "a compact summary of the bucket content", nil
}

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(i), 1}
	}
	return vecs, nil
}

func testBuilder() *pyramid.Builder {
	return pyramid.NewBuilder(
		pyramid.NewWordChunker(25),
		pyramid.Config{MinWords: 50, ChunkWords: 25, BucketSize: 2},
		pyramid.WithSummarizer(stubSummarizer{}),
	)
}

func longContent() string {
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "Sentence number %d about leases.\n\n", i)
	}
	return sb.String()
}

func TestRunOnceEmptyQueue(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, testBuilder(), &stubEmbedder{}, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("RunOnce claimed work from an empty queue")
	}
}

func TestRunOnceIndexesDocument(t *testing.T) {
	store := openTestStore(t)
	in := NewIntake(store)
	ctx := context.Background()

	id, err := in.Accept(ctx, Submission{
		Title:      "Lease negotiation",
		Content:    longContent(),
		SourceType: "email",
	})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	w := NewWorker(store, testBuilder(), &stubEmbedder{}, 0)
	done, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce found no job")
	}

	doc, err := store.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != "indexed" {
		t.Errorf("status = %q, want indexed", doc.Status)
	}

	nodes, err := store.Thread(ctx, id)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(nodes) == 0 {
		t.Fatal("no nodes inserted")
	}
	var l0, l1, apex int
	for _, n := range nodes {
		if n.Embedding == nil {
			t.Errorf("node %s has no embedding", n.ID)
		}
		if n.Provenance.ThreadTitle != "Lease negotiation" || n.Provenance.SourceType != "email" {
			t.Errorf("provenance = %+v", n.Provenance)
		}
		switch n.Level {
		case storage.LevelL0:
			l0++
		case storage.LevelL1:
			l1++
		case storage.LevelApex:
			apex++
		}
	}
	if l0 == 0 || l1 == 0 || apex != 1 {
		t.Errorf("node levels: l0=%d l1=%d apex=%d", l0, l1, apex)
	}

	// The job is gone from the queue.
	if job, _ := store.ClaimNextJob([]string{JobTypeIndex}); job != nil {
		t.Errorf("job still claimable: %+v", job)
	}
}

func TestRunOnceEmbedFailureFailsJob(t *testing.T) {
	store := openTestStore(t)
	in := NewIntake(store)
	ctx := context.Background()

	id, err := in.Accept(ctx, Submission{Content: longContent()})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	w := NewWorker(store, testBuilder(), &stubEmbedder{err: errors.New("engine down")}, 0)
	done, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce found no job")
	}

	doc, err := store.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != "failed" {
		t.Errorf("status = %q, want failed", doc.Status)
	}

	// The job went back to pending with its error recorded.
	var status, lastError string
	err = store.DB().QueryRow(`SELECT status, last_error FROM jobs`).Scan(&status, &lastError)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "pending" {
		t.Errorf("job status = %q", status)
	}
	if !strings.Contains(lastError, "engine down") {
		t.Errorf("last error = %q", lastError)
	}

	// No partial thread remains.
	nodes, err := store.Thread(ctx, id)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("partial nodes left: %d", len(nodes))
	}
}

func TestRunOnceRetryReplacesThread(t *testing.T) {
	store := openTestStore(t)
	in := NewIntake(store)
	ctx := context.Background()

	id, err := in.Accept(ctx, Submission{Content: longContent()})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	w := NewWorker(store, testBuilder(), &stubEmbedder{}, 0)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	first, err := store.Thread(ctx, id)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}

	// Re-queue the same document; the rebuild replaces the thread instead
	// of stacking duplicates.
	if err := store.EnqueueJob(storage.Job{
		ID:          "retry",
		Type:        JobTypeIndex,
		PayloadJSON: `{"document_id":"` + id + `"}`,
	}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}

	second, err := store.Thread(ctx, id)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(second) != len(first) {
		t.Errorf("thread size changed: %d then %d", len(first), len(second))
	}
}

func TestRunOnceMissingDocument(t *testing.T) {
	store := openTestStore(t)
	if err := store.EnqueueJob(storage.Job{
		ID:          "j1",
		Type:        JobTypeIndex,
		PayloadJSON: `{"document_id":"ghost"}`,
	}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := NewWorker(store, testBuilder(), &stubEmbedder{}, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce found no job")
	}

	var status string
	if err := store.DB().QueryRow(`SELECT status FROM jobs WHERE id = 'j1'`).Scan(&status); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "pending" {
		t.Errorf("job status = %q, want pending for retry", status)
	}
}
