package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/recall/internal/pyramid"
	"github.com/kalambet/recall/internal/storage"
)

// WorkerStore abstracts the job queue and document operations the worker
// needs.
type WorkerStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, status string) error
	InsertThread(ctx context.Context, nodes []storage.ContentNode) error
	DeleteThread(ctx context.Context, threadRootID string) error
}

// ContentEmbedder generates embeddings for batches of text.
type ContentEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Worker processes index_document jobs from the SQLite job queue: it
// builds the pyramid for each queued document, embeds every node, and
// inserts the finished thread.
type Worker struct {
	store    WorkerStore
	builder  *pyramid.Builder
	embedder ContentEmbedder
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store WorkerStore, builder *pyramid.Builder, embedder ContentEmbedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		builder:  builder,
		embedder: embedder,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single index_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeIndex})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type indexPayload struct {
	DocumentID string `json:"document_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload indexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	res, err := w.builder.Build(ctx, pyramid.Request{
		Content:      doc.Content,
		ThreadRootID: doc.ID,
		Provenance: storage.Provenance{
			SourceType:      doc.SourceType,
			AuthorRole:      doc.AuthorRole,
			SourceCreatedAt: doc.CreatedAt,
			ThreadTitle:     doc.Title,
		},
	})
	if err != nil {
		w.markFailed(ctx, doc.ID)
		return fmt.Errorf("building pyramid: %w", err)
	}

	nodes := res.Nodes()
	texts := make([]string, len(nodes))
	for i, n := range nodes {
		texts[i] = n.Text
	}
	vecs, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		w.markFailed(ctx, doc.ID)
		return fmt.Errorf("embedding nodes: %w", err)
	}
	for i := range nodes {
		nodes[i].Embedding = vecs[i]
	}

	// A retried job may have partially inserted nodes from an earlier
	// attempt; clear the thread before writing.
	if err := w.store.DeleteThread(ctx, doc.ID); err != nil {
		w.markFailed(ctx, doc.ID)
		return fmt.Errorf("clearing thread %s: %w", doc.ID, err)
	}
	if err := w.store.InsertThread(ctx, nodes); err != nil {
		w.markFailed(ctx, doc.ID)
		return fmt.Errorf("inserting thread: %w", err)
	}

	if err := w.store.UpdateDocumentStatus(ctx, doc.ID, "indexed"); err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}

	w.logger.Info("document indexed",
		"document_id", doc.ID,
		"l0", res.Stats.L0Count,
		"l1", res.Stats.L1Count,
		"compression", res.Stats.OverallRatio)
	return nil
}

// markFailed is best-effort; the job queue already records the error.
func (w *Worker) markFailed(ctx context.Context, docID string) {
	if err := w.store.UpdateDocumentStatus(ctx, docID, "failed"); err != nil {
		w.logger.Error("failed to mark document as failed", "document_id", docID, "error", err)
	}
}
