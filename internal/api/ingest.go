package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/recall/internal/ingest"
	"github.com/kalambet/recall/internal/storage"
)

const maxURLFetchSize = 5 << 20 // 5MB

type IngestRequest struct {
	Type       string `json:"type"` // "text", "url", "file"
	Title      string `json:"title"`
	Content    string `json:"content"`
	URL        string `json:"url"`
	SourceType string `json:"source_type"` // "chat", "email", "document", "note"
	AuthorRole string `json:"author_role"`
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}

		var resolvedContent string
		switch {
		case req.Type == "url" && req.URL != "":
			content, err := fetchURL(r.Context(), deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "%v", err)
				return
			}
			resolvedContent = content
			if req.Title == "" {
				req.Title = req.URL
			}

		case req.Type == "file" && req.Content != "":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			resolvedContent = string(decoded)

		default:
			resolvedContent = req.Content
		}

		docID, err := deps.Intake.Accept(r.Context(), ingest.Submission{
			Title:      req.Title,
			Content:    resolvedContent,
			SourceType: req.SourceType,
			AuthorRole: req.AuthorRole,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue document: %v", err)
			return
		}

		writeJSON(w, map[string]string{
			"id":     docID,
			"status": "queued",
		})
	}
}

// batchEntry is the per-file outcome of a directory ingest.
type batchEntry struct {
	Path  string `json:"path"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

func handleIngestDir(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path       string `json:"path"`
			SourceType string `json:"source_type"`
			AuthorRole string `json:"author_role"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}

		results, err := deps.Intake.AcceptDir(r.Context(), req.Path, req.SourceType, req.AuthorRole)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to read directory: %v", err)
			return
		}

		entries := make([]batchEntry, 0, len(results))
		var queued int
		for _, res := range results {
			e := batchEntry{Path: res.Path, ID: res.DocumentID}
			if res.Err != nil {
				e.Error = res.Err.Error()
			} else {
				queued++
			}
			entries = append(entries, e)
		}
		writeJSON(w, map[string]any{
			"queued":  queued,
			"results": entries,
		})
	}
}

// fetchURL downloads a page and strips its markup down to visible text.
func fetchURL(ctx context.Context, client *http.Client, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.New("invalid url: " + err.Error())
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.New("failed to fetch url: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.New("url returned status " + resp.Status)
	}

	body := io.LimitReader(resp.Body, maxURLFetchSize)
	text, err := ingest.ExtractHTML(body)
	if err != nil {
		return "", errors.New("failed to extract page text: " + err.Error())
	}
	return text, nil
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		docs, err := deps.Store.ListDocuments(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		if docs == nil {
			docs = []storage.Document{}
		}
		writeJSON(w, docs)
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		// The document id doubles as the thread root; drop the pyramid first.
		if err := deps.Store.DeleteThread(r.Context(), id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete thread: %v", err)
			return
		}

		err := deps.Store.DeleteDocument(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
