package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/recall/internal/retrieval"
	"github.com/kalambet/recall/internal/storage"
)

// SearchRequest is the JSON body shared by one-shot and in-session search.
type SearchRequest struct {
	Query        string   `json:"query"`
	Limit        int      `json:"limit"`
	Threshold    float32  `json:"threshold"`
	Mode         string   `json:"mode"` // "hybrid", "dense", "sparse"
	Level        string   `json:"level"`
	SourceTypes  []string `json:"source_types"`
	AuthorRole   string   `json:"author_role"`
	ThreadRootID string   `json:"thread_root_id"`
}

func (sr SearchRequest) options() retrieval.Options {
	return retrieval.Options{
		Limit:        sr.Limit,
		Threshold:    sr.Threshold,
		Mode:         retrieval.Mode(sr.Mode),
		Level:        storage.HierarchyLevel(sr.Level),
		SourceTypes:  sr.SourceTypes,
		AuthorRole:   sr.AuthorRole,
		ThreadRootID: sr.ThreadRootID,
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		resp, err := deps.Searcher.Search(r.Context(), req.Query, req.options())
		if err != nil {
			searchError(w, err)
			return
		}
		writeJSON(w, resp)
	}
}

// searchError maps retrieval errors onto HTTP status codes.
func searchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retrieval.ErrValidation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, retrieval.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
	}
}

func handleGetNode(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		node, err := deps.Store.GetNode(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "node not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get node: %v", err)
			return
		}
		writeJSON(w, node)
	}
}

func handleNodeParent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		parent, err := deps.Navigator.ParentContext(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "node not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get parent: %v", err)
			return
		}
		writeJSON(w, parent)
	}
}

func handleNodeChildren(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		children, err := deps.Navigator.Children(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "node not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get children: %v", err)
			return
		}
		if children == nil {
			children = []storage.ContentNode{}
		}
		writeJSON(w, children)
	}
}

func handleNodeThread(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		nodes, err := deps.Navigator.Thread(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "node not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get thread: %v", err)
			return
		}
		writeJSON(w, nodes)
	}
}

func handleNodeApex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		apex, err := deps.Navigator.Apex(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "node not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get apex: %v", err)
			return
		}
		writeJSON(w, apex)
	}
}
