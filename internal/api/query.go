package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tbury/scatter/internal/model"
	"github.com/tbury/scatter/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createQueryRequest is the JSON body for POST /v1/queries.
type createQueryRequest struct {
	Term       string   `json:"term"`
	Branches   []string `json:"branches"`
	DeadlineMS *int     `json:"deadline_ms"`
}

// queryResponse pairs a run record with its collected branch results.
type queryResponse struct {
	Query   *model.QueryRun     `json:"query"`
	Results []model.ResultEntry `json:"results"`
}

// listQueriesResponse wraps the paginated list response.
type listQueriesResponse struct {
	Queries []*model.QueryRun `json:"queries"`
	Total   int               `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

func (s *Server) decodeCreateQuery(w http.ResponseWriter, r *http.Request) (*model.QueryRun, bool) {
	var req createQueryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}

	if req.Term == "" {
		s.writeError(w, http.StatusBadRequest, "term is required")
		return nil, false
	}
	if req.DeadlineMS != nil && *req.DeadlineMS <= 0 {
		s.writeError(w, http.StatusBadRequest, "deadline_ms must be positive")
		return nil, false
	}
	// Branch lists are stored comma-joined, so names must stay comma-free.
	for _, b := range req.Branches {
		if b == "" || strings.Contains(b, ",") {
			s.writeError(w, http.StatusBadRequest, "branch names must be non-empty and may not contain commas")
			return nil, false
		}
	}

	return &model.QueryRun{
		ID:         model.NewID(),
		Status:     model.StatusPending,
		Term:       req.Term,
		Branches:   req.Branches,
		DeadlineMS: req.DeadlineMS,
		CreatedAt:  time.Now().UTC(),
	}, true
}

// handleCreateQuery runs a query synchronously and returns the final record
// with its branch results. The request blocks for at most the query deadline
// plus cleanup time.
func (s *Server) handleCreateQuery(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeCreateQuery(w, r)
	if !ok {
		return
	}

	if err := s.dispatcher.Run(r.Context(), q); err != nil {
		s.logger.Error("run query", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to run query")
		return
	}

	finished, err := s.store.GetQueryRun(r.Context(), q.ID)
	if err != nil {
		s.logger.Error("get finished query", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get query run")
		return
	}
	results, err := s.store.GetResults(r.Context(), q.ID)
	if err != nil {
		s.logger.Error("get query results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get results")
		return
	}
	if results == nil {
		results = []model.ResultEntry{}
	}

	s.writeJSON(w, http.StatusOK, queryResponse{Query: finished, Results: results})
}

// handleAsyncQuery submits a query for asynchronous execution and returns the
// pending record immediately.
func (s *Server) handleAsyncQuery(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeCreateQuery(w, r)
	if !ok {
		return
	}

	if err := s.dispatcher.Submit(r.Context(), q); err != nil {
		s.logger.Error("submit async query", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit query")
		return
	}

	s.writeJSON(w, http.StatusAccepted, q)
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	q, err := s.store.GetQueryRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "query run not found")
		return
	}
	if err != nil {
		s.logger.Error("get query run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get query run")
		return
	}

	s.writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	queries, total, err := s.store.ListQueryRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list query runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list query runs")
		return
	}

	if queries == nil {
		queries = []*model.QueryRun{}
	}

	s.writeJSON(w, http.StatusOK, listQueriesResponse{
		Queries: queries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the run exists so unknown IDs 404 rather than listing empty.
	q, err := s.store.GetQueryRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "query run not found")
		return
	}
	if err != nil {
		s.logger.Error("get query run for results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get query run")
		return
	}

	results, err := s.store.GetResults(r.Context(), id)
	if err != nil {
		s.logger.Error("get results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get results")
		return
	}
	if results == nil {
		results = []model.ResultEntry{}
	}

	s.writeJSON(w, http.StatusOK, queryResponse{Query: q, Results: results})
}

// handleDeleteQuery cancels a query run. An in-flight run has its root token
// cancelled and unwinds to "killed" on its own; a pending run is killed in
// the store directly; a finished run is a conflict.
func (s *Server) handleDeleteQuery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.dispatcher.Kill(id) {
		q, err := s.store.GetQueryRun(r.Context(), id)
		if err != nil {
			s.logger.Error("get killed query", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to retrieve query run")
			return
		}
		s.writeJSON(w, http.StatusAccepted, q)
		return
	}

	q, err := s.store.GetQueryRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "query run not found")
		return
	}
	if err != nil {
		s.logger.Error("get query run for delete", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get query run")
		return
	}

	if model.TerminalStatus(q.Status) {
		s.writeError(w, http.StatusConflict, "query run already finished")
		return
	}
	// A run that is past pending but not registered with the dispatcher is
	// mid-handoff; killing it in the store would race the executor's final
	// record update. Let the client retry.
	if q.Status != model.StatusPending {
		s.writeError(w, http.StatusConflict, "query run is not killable yet, retry")
		return
	}

	if err := s.store.UpdateQueryRunStatus(r.Context(), id, model.StatusKilled); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			s.writeError(w, http.StatusConflict, "query run already finished")
			return
		}
		s.logger.Error("kill query run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to kill query run")
		return
	}

	q, err = s.store.GetQueryRun(r.Context(), id)
	if err != nil {
		s.logger.Error("get killed query", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve query run")
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
