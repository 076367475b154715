package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/recall/internal/cluster"
	"github.com/kalambet/recall/internal/refine"
	"github.com/kalambet/recall/internal/retrieval"
	"github.com/kalambet/recall/internal/session"
)

// sessionView is the JSON shape of a session. Exclusion and pin sets are
// rendered as sorted id lists.
type sessionView struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name,omitempty"`
	Results         []retrieval.SearchResult `json:"results"`
	History         []session.HistoryEntry   `json:"history"`
	PositiveAnchors []session.Anchor         `json:"positive_anchors"`
	NegativeAnchors []session.Anchor         `json:"negative_anchors"`
	Excluded        []string                 `json:"excluded"`
	Pinned          []string                 `json:"pinned"`
	CreatedAt       time.Time                `json:"created_at"`
	LastActive      time.Time                `json:"last_active"`
}

func viewOf(s session.Session) sessionView {
	v := sessionView{
		ID:              s.ID,
		Name:            s.Name,
		Results:         s.Results,
		History:         s.History,
		PositiveAnchors: s.PositiveAnchors,
		NegativeAnchors: s.NegativeAnchors,
		Excluded:        setToSlice(s.Excluded),
		Pinned:          setToSlice(s.Pinned),
		CreatedAt:       s.CreatedAt,
		LastActive:      s.LastActive,
	}
	if v.Results == nil {
		v.Results = []retrieval.SearchResult{}
	}
	if v.History == nil {
		v.History = []session.HistoryEntry{}
	}
	return v
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// sessionError maps session and refinement errors onto HTTP status codes.
func sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, refine.ErrResultNotFound), errors.Is(err, refine.ErrNoEmbedding):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, retrieval.ErrValidation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, retrieval.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	// An absent body is treated as empty options.
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		s := deps.Sessions.Create(req.Name)
		writeJSON(w, viewOf(s))
	}
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := deps.Sessions.List()
		if infos == nil {
			infos = []session.Info{}
		}
		writeJSON(w, infos)
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, viewOf(s))
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.Delete(chi.URLParam(r, "id")); err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleSessionSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		snap, stats, err := deps.Refine.SearchInSession(r.Context(), chi.URLParam(r, "id"), req.Query, req.options())
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"session": viewOf(snap),
			"stats":   stats,
		})
	}
}

func handleSessionRefine(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts refine.RefineOptions
		if !decodeBody(w, r, &opts) {
			return
		}

		snap, stats, err := deps.Refine.RefineResults(r.Context(), chi.URLParam(r, "id"), opts)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"session": viewOf(snap),
			"stats":   stats,
		})
	}
}

func handleSessionAddAnchor(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ResultID string `json:"result_id"`
			Name     string `json:"name"`
			Polarity string `json:"polarity"` // "positive" or "negative"
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ResultID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "result_id is required")
			return
		}

		id := chi.URLParam(r, "id")
		var snap session.Session
		var err error
		switch req.Polarity {
		case "", string(session.Positive):
			snap, err = deps.Refine.AddPositiveAnchor(r.Context(), id, req.ResultID, req.Name)
		case string(session.Negative):
			snap, err = deps.Refine.AddNegativeAnchor(r.Context(), id, req.ResultID, req.Name)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "polarity must be positive or negative")
			return
		}
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, viewOf(snap))
	}
}

func handleSessionApplyAnchors(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts refine.ApplyOptions
		if !decodeBody(w, r, &opts) {
			return
		}

		snap, stats, err := deps.Refine.ApplyAnchors(r.Context(), chi.URLParam(r, "id"), opts)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"session": viewOf(snap),
			"stats":   stats,
		})
	}
}

func handleSessionExclude(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []string `json:"ids"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.IDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ids is required")
			return
		}

		snap, err := deps.Refine.ExcludeResults(r.Context(), chi.URLParam(r, "id"), req.IDs)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, viewOf(snap))
	}
}

func handleSessionPin(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []string `json:"ids"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.IDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ids is required")
			return
		}

		snap, err := deps.Refine.PinResults(r.Context(), chi.URLParam(r, "id"), req.IDs)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, viewOf(snap))
	}
}

func handleSessionScrub(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts refine.ScrubOptions
		if !decodeBody(w, r, &opts) {
			return
		}

		snap, stats, err := deps.Refine.ScrubResults(r.Context(), chi.URLParam(r, "id"), opts)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"session": viewOf(snap),
			"stats":   stats,
		})
	}
}

func handleSessionClusters(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts cluster.Options
		if !decodeBody(w, r, &opts) {
			return
		}

		res, err := deps.Clusters.Discover(r.Context(), chi.URLParam(r, "id"), opts)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, res)
	}
}
