package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cachepkg "github.com/codedrill-ai/codedrill/pkg/cache/sqlite"
	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/executor"
	"github.com/codedrill-ai/codedrill/pkg/llm"
	"github.com/codedrill-ai/codedrill/pkg/metrics"
	"github.com/codedrill-ai/codedrill/pkg/models"
	"github.com/codedrill-ai/codedrill/pkg/rag"
	"github.com/codedrill-ai/codedrill/pkg/settings"
)

type stubProvider struct {
	response string
	err      error
}

func (p *stubProvider) Generate(context.Context, string, string) (*llm.Generation, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Generation{Text: p.response, TokensSent: 3, TokensReceived: 2}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

func (stubEmbedder) Dimensions() int { return 26 }

func newTestServer(t *testing.T, provider llm.Provider) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "codedrill.db")

	st := settings.New(nil, cfg.Provider.DefaultModel, nil)

	cache, err := cachepkg.New(cfg.DBPath, time.Hour, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	store, err := rag.NewStore(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	docs := rag.NewService(store, stubEmbedder{}, st, cfg.Retrieval, nil)

	calls, err := metrics.New(cfg.DBPath, config.CallLogConfig{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = calls.Close() })

	exec := executor.New(cache, docs, provider, calls, st, cfg.Retrieval, nil)
	return New(cfg, exec, cache, docs, calls, st, nil)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubProvider{response: "ok"})
	w := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status %d", w.Code)
	}
}

func TestSolveEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubProvider{response: "a solution"})

	w := doJSON(t, srv, http.MethodPost, "/v1/tasks/solve", map[string]string{"problem_number": "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var result models.TaskResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Response != "a solution" {
		t.Errorf("result %+v", result)
	}
}

func TestSolveValidation(t *testing.T) {
	srv := newTestServer(t, &stubProvider{response: "ok"})
	w := doJSON(t, srv, http.MethodPost, "/v1/tasks/solve", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing problem number should be 400, got %d", w.Code)
	}
}

func TestSolveMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &stubProvider{response: "ok"})
	w := doJSON(t, srv, http.MethodGet, "/v1/tasks/solve", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status %d", w.Code)
	}
}

func TestProviderFailureIsBadGateway(t *testing.T) {
	srv := newTestServer(t, &stubProvider{err: errors.New("upstream down")})
	w := doJSON(t, srv, http.MethodPost, "/v1/tasks/solve", map[string]string{"problem_number": "1"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status %d", w.Code)
	}
	var result models.TaskResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Success || result.Error == "" {
		t.Errorf("result %+v", result)
	}
}

func TestTestCasesEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubProvider{response: "```python\nassert True\n```"})
	w := doJSON(t, srv, http.MethodPost, "/v1/tasks/testcases", map[string]string{"code": "def f(): pass"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var result models.TaskResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Response != "assert True" {
		t.Errorf("fence not stripped: %q", result.Response)
	}
}

func TestDocumentsLifecycle(t *testing.T) {
	srv := newTestServer(t, &stubProvider{response: "ok"})

	w := doJSON(t, srv, http.MethodPost, "/v1/documents", map[string]string{"content": "a stored document"})
	if w.Code != http.StatusOK {
		t.Fatalf("add status %d: %s", w.Code, w.Body.String())
	}
	var added struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &added); err != nil {
		t.Fatal(err)
	}
	if added.ID == 0 {
		t.Fatal("missing document id")
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status %d", w.Code)
	}
	var listing struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatal(err)
	}
	if listing.Count != 1 {
		t.Errorf("count %d, want 1", listing.Count)
	}

	w = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/v1/documents/%d", added.ID), nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete status %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/v1/documents/%d", added.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status %d, want 404", w.Code)
	}
}

func TestDocumentsEmptyContent(t *testing.T) {
	srv := newTestServer(t, &stubProvider{response: "ok"})
	w := doJSON(t, srv, http.MethodPost, "/v1/documents", map[string]string{"content": "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", w.Code)
	}
}

func TestDocumentsStoreFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "codedrill.db")

	st := settings.New(nil, cfg.Provider.DefaultModel, nil)
	cache, err := cachepkg.New(cfg.DBPath, time.Hour, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	store, err := rag.NewStore(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	docs := rag.NewService(store, stubEmbedder{}, st, cfg.Retrieval, nil)

	calls, err := metrics.New(cfg.DBPath, config.CallLogConfig{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = calls.Close() })

	provider := &stubProvider{response: "ok"}
	exec := executor.New(cache, docs, provider, calls, st, cfg.Retrieval, nil)
	srv := New(cfg, exec, cache, docs, calls, st, nil)

	// A dead store is the service's fault, not the caller's.
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	w := doJSON(t, srv, http.MethodPost, "/v1/documents", map[string]string{"content": "binary search over a sorted array"})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status %d, want 500", w.Code)
	}
}

func TestRetrieveEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubProvider{response: "ok"})

	doJSON(t, srv, http.MethodPost, "/v1/documents", map[string]string{"content": "search target text"})

	minSim := 0.0
	w := doJSON(t, srv, http.MethodPost, "/v1/retrieve", map[string]any{"query": "search target text", "min_similarity": minSim})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Count != 1 {
		t.Errorf("count %d, want 1", out.Count)
	}

	w = doJSON(t, srv, http.MethodPost, "/v1/retrieve", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing query should be 400, got %d", w.Code)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubProvider{response: "ok"})

	w := doJSON(t, srv, http.MethodGet, "/v1/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var snap models.Settings
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if !snap.CacheEnabled || snap.SemanticCache {
		t.Errorf("unexpected defaults: %+v", snap)
	}

	w = doJSON(t, srv, http.MethodPut, "/v1/settings", map[string]any{"semantic_cache_enabled": true, "semantic_similarity_threshold": 0.9})
	if w.Code != http.StatusOK {
		t.Fatalf("update status %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if !snap.SemanticCache || snap.SimilarityThreshold != 0.9 {
		t.Errorf("update did not stick: %+v", snap)
	}

	w = doJSON(t, srv, http.MethodPut, "/v1/settings", map[string]any{"semantic_similarity_threshold": 1.5})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid threshold should be 400, got %d", w.Code)
	}
}

func TestCacheStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubProvider{response: "a solution"})

	doJSON(t, srv, http.MethodPost, "/v1/tasks/solve", map[string]string{"problem_number": "9"})

	w := doJSON(t, srv, http.MethodGet, "/v1/cache/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var stats models.CacheStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries != 1 {
		t.Errorf("entries %d, want 1", stats.TotalEntries)
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubProvider{response: "a solution"})

	doJSON(t, srv, http.MethodPost, "/v1/tasks/solve", map[string]string{"problem_number": "9"})

	w := doJSON(t, srv, http.MethodPost, "/v1/cache/clear?all=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var out struct {
		Removed int64 `json:"removed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Removed != 1 {
		t.Errorf("removed %d, want 1", out.Removed)
	}
}
