package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDocumentLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := Document{
		ID:         "d1",
		Title:      "Thesis draft",
		Content:    "chapter one",
		SourceType: "document",
	}
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	got, err := s.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != "queued" {
		t.Errorf("status = %q, want queued", got.Status)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not defaulted")
	}

	if err := s.UpdateDocumentStatus(ctx, "d1", "indexed"); err != nil {
		t.Fatalf("UpdateDocumentStatus: %v", err)
	}
	got, err = s.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != "indexed" {
		t.Errorf("status = %q, want indexed", got.Status)
	}

	docs, err := s.ListDocuments(ctx, 10)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}

	if err := s.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteDocument(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
	if err := s.UpdateDocumentStatus(ctx, "d1", "failed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("status update on missing = %v, want ErrNotFound", err)
	}
}

func TestJobClaimComplete(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "index_document", PayloadJSON: `{"document_id":"d1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	j, err := s.ClaimNextJob([]string{"index_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if j == nil {
		t.Fatal("claimed nil job")
	}
	if j.ID != "j1" || j.Status != "running" {
		t.Errorf("job = %+v", j)
	}

	// Already claimed, nothing left.
	j2, err := s.ClaimNextJob([]string{"index_document"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if j2 != nil {
		t.Errorf("claimed %+v, want nil", j2)
	}

	if err := s.CompleteJob("j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if err := s.CompleteJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob missing = %v, want ErrNotFound", err)
	}
}

func TestJobClaimOrderAndTypes(t *testing.T) {
	s := openTestStore(t)

	past := time.Now().Add(-time.Hour)
	if err := s.EnqueueJob(Job{ID: "late", Type: "index_document"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "early", Type: "index_document", RunAfter: past}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "other", Type: "reindex", RunAfter: past.Add(-time.Hour)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	j, err := s.ClaimNextJob([]string{"index_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if j == nil || j.ID != "early" {
		t.Fatalf("claimed %+v, want early", j)
	}

	// Unknown and empty type lists claim nothing.
	if j, _ := s.ClaimNextJob([]string{"unknown"}); j != nil {
		t.Errorf("claimed %+v for unknown type", j)
	}
	if j, _ := s.ClaimNextJob(nil); j != nil {
		t.Errorf("claimed %+v for empty type list", j)
	}
}

func TestJobFutureRunAfterNotClaimed(t *testing.T) {
	s := openTestStore(t)

	future := time.Now().Add(time.Hour)
	if err := s.EnqueueJob(Job{ID: "j1", Type: "index_document", RunAfter: future}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	j, err := s.ClaimNextJob([]string{"index_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if j != nil {
		t.Errorf("claimed %+v, want nil before run_after", j)
	}
}

func TestFailJobRetriesWithBackoff(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "index_document", MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	j, err := s.ClaimNextJob([]string{"index_document"})
	if err != nil || j == nil {
		t.Fatalf("ClaimNextJob: %v, %+v", err, j)
	}

	// First failure reschedules with backoff in the future.
	if err := s.FailJob("j1", "embed timeout"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	var status, lastError string
	var attempts int
	err = s.DB().QueryRow(`SELECT status, attempts, last_error FROM jobs WHERE id = 'j1'`).
		Scan(&status, &attempts, &lastError)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "pending" || attempts != 1 || lastError != "embed timeout" {
		t.Errorf("after first failure: status=%s attempts=%d err=%q", status, attempts, lastError)
	}
	if j, _ := s.ClaimNextJob([]string{"index_document"}); j != nil {
		t.Errorf("claimed %+v during backoff window", j)
	}

	// Second failure exhausts attempts.
	if err := s.FailJob("j1", "embed timeout again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	err = s.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = 'j1'`).Scan(&status, &attempts)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "failed" || attempts != 2 {
		t.Errorf("after exhaustion: status=%s attempts=%d", status, attempts)
	}

	if err := s.FailJob("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailJob missing = %v, want ErrNotFound", err)
	}
}
