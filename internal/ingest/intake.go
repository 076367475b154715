// Package ingest accepts raw archive content, queues it for indexing, and
// runs the background worker that compresses queued documents into
// pyramids.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/storage"
)

// JobTypeIndex is the job queue type for document indexing.
const JobTypeIndex = "index_document"

// DocumentSaver is the slice of the store the intake path needs.
type DocumentSaver interface {
	SaveDocument(ctx context.Context, d storage.Document) error
	EnqueueJob(job storage.Job) error
}

// Intake accepts documents and queues them for background indexing.
type Intake struct {
	store DocumentSaver
}

// NewIntake creates an Intake over the given store.
func NewIntake(store DocumentSaver) *Intake {
	return &Intake{store: store}
}

// Submission is one document handed to Accept.
type Submission struct {
	Title      string
	Content    string
	SourceType string // "chat", "email", "document", "note"
	AuthorRole string
}

// Accept persists the document and enqueues an indexing job, returning the
// new document id. The document becomes searchable once the worker
// finishes building its pyramid.
func (in *Intake) Accept(ctx context.Context, sub Submission) (string, error) {
	if strings.TrimSpace(sub.Content) == "" {
		return "", fmt.Errorf("document content is empty")
	}
	if sub.SourceType == "" {
		sub.SourceType = "document"
	}

	doc := storage.Document{
		ID:         uuid.New().String(),
		Title:      sub.Title,
		Content:    sub.Content,
		SourceType: sub.SourceType,
		AuthorRole: sub.AuthorRole,
		Status:     "queued",
		CreatedAt:  time.Now().UTC(),
	}
	if err := in.store.SaveDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("saving document: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"document_id": doc.ID})
	if err != nil {
		return "", fmt.Errorf("creating job payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeIndex,
		PayloadJSON: string(payload),
	}
	if err := in.store.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueuing job: %w", err)
	}

	return doc.ID, nil
}

// AcceptFile reads a file from disk, extracts its text, and queues it. PDF
// files go through the PDF extractor; everything else is treated as plain
// text.
func (in *Intake) AcceptFile(ctx context.Context, path, sourceType, authorRole string) (string, error) {
	content, err := ExtractFile(path)
	if err != nil {
		return "", err
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return in.Accept(ctx, Submission{
		Title:      title,
		Content:    content,
		SourceType: sourceType,
		AuthorRole: authorRole,
	})
}
