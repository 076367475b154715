// Package api exposes the archive over HTTP and MCP: ingestion, one-shot
// search, session refinement, and pyramid navigation.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/recall/internal/cluster"
	"github.com/kalambet/recall/internal/hierarchy"
	"github.com/kalambet/recall/internal/ingest"
	"github.com/kalambet/recall/internal/refine"
	"github.com/kalambet/recall/internal/retrieval"
	"github.com/kalambet/recall/internal/session"
	"github.com/kalambet/recall/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxIngestBodySize = 10 << 20 // 10MB

// AppDeps holds the wired components the HTTP API serves.
type AppDeps struct {
	Store      *storage.Store
	Searcher   *retrieval.Searcher
	Sessions   *session.Manager
	Refine     *refine.Engine
	Clusters   *cluster.Engine
	Navigator  *hierarchy.Navigator
	Intake     *ingest.Intake
	Token      string
	HTTPClient *http.Client
}

// NewAppHandler builds the full HTTP API router. Everything except the
// health check sits behind bearer auth.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/ingest", handleIngest(deps))
		r.Post("/ingest/dir", handleIngestDir(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))

		r.Post("/search", handleSearch(deps))

		r.Get("/nodes/{id}", handleGetNode(deps))
		r.Get("/nodes/{id}/parent", handleNodeParent(deps))
		r.Get("/nodes/{id}/children", handleNodeChildren(deps))
		r.Get("/nodes/{id}/thread", handleNodeThread(deps))
		r.Get("/nodes/{id}/apex", handleNodeApex(deps))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions", handleListSessions(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))

		r.Post("/sessions/{id}/search", handleSessionSearch(deps))
		r.Post("/sessions/{id}/refine", handleSessionRefine(deps))
		r.Post("/sessions/{id}/anchors", handleSessionAddAnchor(deps))
		r.Post("/sessions/{id}/anchors/apply", handleSessionApplyAnchors(deps))
		r.Post("/sessions/{id}/exclude", handleSessionExclude(deps))
		r.Post("/sessions/{id}/pin", handleSessionPin(deps))
		r.Post("/sessions/{id}/scrub", handleSessionScrub(deps))
		r.Post("/sessions/{id}/clusters", handleSessionClusters(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
