// Package server exposes the task pipeline and its admin surfaces over a
// JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	cachepkg "github.com/codedrill-ai/codedrill/pkg/cache/sqlite"
	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/executor"
	"github.com/codedrill-ai/codedrill/pkg/metrics"
	"github.com/codedrill-ai/codedrill/pkg/models"
	"github.com/codedrill-ai/codedrill/pkg/rag"
	"github.com/codedrill-ai/codedrill/pkg/settings"
)

// Server is the codedrill HTTP API.
type Server struct {
	cfg      *config.Config
	exec     *executor.Executor
	cache    *cachepkg.Cache
	docs     *rag.Service
	calls    *metrics.Logger
	settings *settings.Store
	log      *zap.SugaredLogger
	mux      *http.ServeMux
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, exec *executor.Executor, cache *cachepkg.Cache, docs *rag.Service, calls *metrics.Logger, st *settings.Store, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		cfg:      cfg,
		exec:     exec,
		cache:    cache,
		docs:     docs,
		calls:    calls,
		settings: st,
		log:      log,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/tasks/solve", s.handleSolve)
	s.mux.HandleFunc("/v1/tasks/testcases", s.handleTestCases)
	s.mux.HandleFunc("/v1/tasks/modify", s.handleModify)
	s.mux.HandleFunc("/v1/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("/v1/cache/entries", s.handleCacheEntries)
	s.mux.HandleFunc("/v1/cache/clear", s.handleCacheClear)
	s.mux.HandleFunc("/v1/documents", s.handleDocuments)
	s.mux.HandleFunc("/v1/documents/", s.handleDocumentByID)
	s.mux.HandleFunc("/v1/retrieve", s.handleRetrieve)
	s.mux.HandleFunc("/v1/settings", s.handleSettings)
	s.mux.HandleFunc("/v1/calls", s.handleCalls)
	s.mux.HandleFunc("/v1/calls/stats", s.handleCallStats)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the API server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("codedrill listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// writeTaskResult maps executor outcomes onto HTTP statuses: invalid input
// is the caller's fault, provider failures are upstream faults, everything
// else succeeded even when it came from a degraded cache.
func (s *Server) writeTaskResult(w http.ResponseWriter, result models.TaskResult, err error) {
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !result.Success {
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		ProblemNumber string `json:"problem_number"`
		Prompt        string `json:"prompt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.exec.SolveProblem(r.Context(), req.ProblemNumber, req.Prompt)
	s.writeTaskResult(w, result, err)
}

func (s *Server) handleTestCases(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.exec.GenerateTestCases(r.Context(), req.Code)
	s.writeTaskResult(w, result, err)
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Instructions string `json:"instructions"`
		Code         string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.exec.ModifyCode(r.Context(), req.Instructions, req.Code)
	s.writeTaskResult(w, result, err)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheEntries(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	entries, err := s.cache.Entries(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var (
		removed int64
		err     error
	)
	if r.URL.Query().Get("all") == "true" {
		removed, err = s.cache.ClearAll(r.Context())
	} else {
		removed, err = s.cache.ClearExpired(r.Context())
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := queryInt(r, "limit", 50)
		showAll := r.URL.Query().Get("all") == "true"
		docs, err := s.docs.Documents(r.Context(), limit, showAll)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
	case http.MethodPost:
		var req struct {
			Content string `json:"content"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		id, err := s.docs.AddDocument(r.Context(), req.Content)
		if err != nil {
			if errors.Is(err, rag.ErrEmptyDocument) {
				writeJSONError(w, http.StatusBadRequest, err.Error())
			} else {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"id": id})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, err := strconv.ParseInt(r.URL.Path[len("/v1/documents/"):], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	deleted, err := s.docs.DeleteDocument(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		writeJSONError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Query         string   `json:"query"`
		TopK          int      `json:"top_k"`
		MinSimilarity *float64 `json:"min_similarity"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.Retrieval.TopK
	}
	minSim := s.cfg.Retrieval.MinSimilarity
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}
	docs, err := s.docs.Retrieve(r.Context(), req.Query, topK, minSim)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.Snapshot(r.Context()))
	case http.MethodPut:
		var patch models.SettingsPatch
		if !decodeBody(w, r, &patch) {
			return
		}
		snap, err := s.settings.Apply(r.Context(), patch)
		if err != nil {
			if errors.Is(err, settings.ErrInvalidSetting) {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	opts := models.CallQueryOpts{
		OperationType: r.URL.Query().Get("operation"),
		Model:         r.URL.Query().Get("model"),
		ErrorsOnly:    r.URL.Query().Get("errors") == "true",
		Limit:         queryInt(r, "limit", 100),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		opts.Since = t
	}
	records, err := s.calls.Query(r.Context(), opts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": records, "count": len(records)})
}

func (s *Server) handleCallStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.calls.Stats(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
