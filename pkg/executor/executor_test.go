package executor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cachesqlite "github.com/codedrill-ai/codedrill/pkg/cache/sqlite"
	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/llm"
	"github.com/codedrill-ai/codedrill/pkg/models"
	"github.com/codedrill-ai/codedrill/pkg/rag"
	"github.com/codedrill-ai/codedrill/pkg/settings"
)

type fakeProvider struct {
	response   string
	err        error
	calls      int
	lastPrompt string
	lastModel  string
}

func (f *fakeProvider) Generate(_ context.Context, model, prompt string) (*llm.Generation, error) {
	f.calls++
	f.lastModel = model
	f.lastPrompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Generation{Text: f.response, TokensSent: 10, TokensReceived: 5}, nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

func (fixedEmbedder) Dimensions() int { return 26 }

func newTestCache(t *testing.T, st *settings.Store) *cachesqlite.Cache {
	t.Helper()
	c, err := cachesqlite.New(filepath.Join(t.TempDir(), "cache.db"), time.Hour, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestExecutor(t *testing.T, provider llm.Provider, retrieval *rag.Service) (*Executor, *cachesqlite.Cache) {
	t.Helper()
	st := settings.New(nil, "gpt-4o-mini", nil)
	cache := newTestCache(t, st)
	cfg := config.RetrievalConfig{TopK: 5, MinSimilarity: 0.0, MaxContext: 2000}
	return New(cache, retrieval, provider, nil, st, cfg, nil), cache
}

func TestExecuteMissingPrompt(t *testing.T) {
	exec, _ := newTestExecutor(t, &fakeProvider{}, nil)
	if _, err := exec.Execute(context.Background(), models.TaskRequest{}); !errors.Is(err, ErrMissingPrompt) {
		t.Errorf("got %v, want ErrMissingPrompt", err)
	}
}

func TestExecuteCallsProviderThenCaches(t *testing.T) {
	provider := &fakeProvider{response: "the answer"}
	exec, _ := newTestExecutor(t, provider, nil)
	ctx := context.Background()

	req := models.TaskRequest{
		Prompt:        "solve something",
		OperationType: models.OpProblemSolve,
		UseCache:      true,
		ModelAware:    true,
	}

	first, err := exec.Execute(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Success || first.FromCache {
		t.Errorf("first run should be a live call: %+v", first)
	}
	if first.Response != "the answer" {
		t.Errorf("response %q", first.Response)
	}
	if first.RequestID == "" {
		t.Error("missing request id")
	}
	if first.TokensSent != 10 || first.TokensReceived != 5 {
		t.Errorf("tokens %d/%d", first.TokensSent, first.TokensReceived)
	}
	if provider.lastModel != "gpt-4o-mini" {
		t.Errorf("default model not applied, got %q", provider.lastModel)
	}

	second, err := exec.Execute(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Success || !second.FromCache {
		t.Errorf("second run should hit the cache: %+v", second)
	}
	if second.Response != "the answer" {
		t.Errorf("cached response %q", second.Response)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
	if second.RequestID == first.RequestID {
		t.Error("request ids should be unique per execution")
	}
}

func TestExecuteCachesRawResponse(t *testing.T) {
	provider := &fakeProvider{response: "```python\nprint(1)\n```"}
	exec, cache := newTestExecutor(t, provider, nil)
	ctx := context.Background()

	req := models.TaskRequest{
		Prompt:        "write code",
		OperationType: models.OpCodeModification,
		PostProcessor: StripCodeFence,
		UseCache:      true,
		ModelAware:    true,
	}

	result, err := exec.Execute(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "print(1)" {
		t.Errorf("post-processed response %q", result.Response)
	}

	// The stored entry keeps the raw text, so a later request with a
	// different post-processor is not stuck with this one's output.
	entry, ok := cache.Get(ctx, cachesqlite.Query{
		Prompt:        "write code",
		OperationType: models.OpCodeModification,
		Model:         "gpt-4o-mini",
		UseCache:      true,
		ModelAware:    true,
	})
	if !ok {
		t.Fatal("expected the entry in the cache")
	}
	if entry.ResponseText != "```python\nprint(1)\n```" {
		t.Errorf("cached %q, want the raw fenced text", entry.ResponseText)
	}

	cached, err := exec.Execute(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !cached.FromCache || cached.Response != "print(1)" {
		t.Errorf("cached run %+v", cached)
	}
}

func TestExecuteSemanticHitReportsCachedPrompt(t *testing.T) {
	st := settings.New(nil, "gpt-4o-mini", nil)
	ctx := context.Background()
	if err := st.SetSemanticCacheEnabled(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := st.SetSimilarityThreshold(ctx, 0.5); err != nil {
		t.Fatal(err)
	}
	provider := &fakeProvider{response: "linked list answer"}
	cache := newTestCache(t, st)
	cfg := config.RetrievalConfig{TopK: 5, MaxContext: 2000}
	exec := New(cache, nil, provider, nil, st, cfg, nil)

	stored := models.TaskRequest{
		Prompt:        "reverse a singly linked list iteratively",
		OperationType: models.OpProblemSolve,
		UseCache:      true,
		ModelAware:    true,
	}
	if _, err := exec.Execute(ctx, stored); err != nil {
		t.Fatal(err)
	}

	similar := stored
	similar.Prompt = "reverse a singly linked list"
	result, err := exec.Execute(ctx, similar)
	if err != nil {
		t.Fatal(err)
	}
	if !result.FromCache || !result.SemanticHit {
		t.Fatalf("expected a semantic hit: %+v", result)
	}
	if result.CachedPrompt != stored.Prompt {
		t.Errorf("cached_prompt %q, want the matched entry's stored prompt %q", result.CachedPrompt, stored.Prompt)
	}
	if result.CurrentPrompt != similar.Prompt {
		t.Errorf("current_prompt %q, want the querying prompt %q", result.CurrentPrompt, similar.Prompt)
	}
	if result.Similarity <= 0 || result.Similarity > 1+1e-9 {
		t.Errorf("similarity %v outside (0,1]", result.Similarity)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
}

func TestExecuteProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("provider down")}
	exec, _ := newTestExecutor(t, provider, nil)

	result, err := exec.Execute(context.Background(), models.TaskRequest{
		Prompt:        "p",
		OperationType: models.OpProblemSolve,
		UseCache:      true,
	})
	if err != nil {
		t.Fatalf("provider failures belong in the result, got error %v", err)
	}
	if result.Success {
		t.Error("result should not be successful")
	}
	if result.Error == "" || !strings.Contains(result.Error, "provider down") {
		t.Errorf("error %q", result.Error)
	}
	if result.RequestID == "" {
		t.Error("failed results still carry a request id")
	}
}

func TestExecuteWithBrokenCache(t *testing.T) {
	provider := &fakeProvider{response: "live answer"}
	exec, cache := newTestExecutor(t, provider, nil)

	// An unavailable cache degrades to a miss on read and a dropped write;
	// the task itself still runs.
	if err := cache.Close(); err != nil {
		t.Fatal(err)
	}

	result, err := exec.Execute(context.Background(), models.TaskRequest{
		Prompt:        "p",
		OperationType: models.OpProblemSolve,
		UseCache:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.FromCache {
		t.Errorf("expected a live success: %+v", result)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times", provider.calls)
	}
}

func TestExecuteAugmentsWithRetrievedContext(t *testing.T) {
	st := settings.New(nil, "gpt-4o-mini", nil)
	store, err := rag.NewStore(filepath.Join(t.TempDir(), "rag.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	cfg := config.RetrievalConfig{ChunkSize: 512, ChunkOverlap: 64, TopK: 5, MinSimilarity: 0.0, MaxContext: 2000}
	retrieval := rag.NewService(store, fixedEmbedder{}, st, cfg, nil)

	if _, err := retrieval.AddDocument(context.Background(), "binary search halves the interval each step"); err != nil {
		t.Fatal(err)
	}

	provider := &fakeProvider{response: "ok"}
	cache := newTestCache(t, st)
	exec := New(cache, retrieval, provider, nil, st, cfg, nil)

	result, err := exec.Execute(context.Background(), models.TaskRequest{
		Prompt:        "explain binary search",
		OperationType: models.OpProblemSolve,
		UseCache:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.RetrievedDocs == 0 {
		t.Error("expected retrieved documents in the result")
	}
	if !strings.Contains(provider.lastPrompt, "## RELEVANT CONTEXT:") {
		t.Error("prompt was not augmented with retrieved context")
	}
	if !strings.Contains(provider.lastPrompt, "binary search halves the interval") {
		t.Error("retrieved document text missing from the prompt")
	}
	if !strings.HasPrefix(provider.lastPrompt, "explain binary search") {
		t.Error("original prompt should lead the augmented prompt")
	}
}

func TestExecuteRetrievalDisabled(t *testing.T) {
	st := settings.New(nil, "gpt-4o-mini", nil)
	store, err := rag.NewStore(filepath.Join(t.TempDir(), "rag.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	cfg := config.RetrievalConfig{TopK: 5, MaxContext: 2000}
	retrieval := rag.NewService(store, fixedEmbedder{}, st, cfg, nil)
	if _, err := retrieval.AddDocument(context.Background(), "some stored context"); err != nil {
		t.Fatal(err)
	}
	if err := retrieval.SetEnabled(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	provider := &fakeProvider{response: "ok"}
	cache := newTestCache(t, st)
	exec := New(cache, retrieval, provider, nil, st, cfg, nil)

	result, err := exec.Execute(context.Background(), models.TaskRequest{
		Prompt:        "a question",
		OperationType: models.OpProblemSolve,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.RetrievedDocs != 0 {
		t.Error("disabled retrieval should not augment")
	}
	if provider.lastPrompt != "a question" {
		t.Errorf("prompt was modified: %q", provider.lastPrompt)
	}
}

func TestTaskFrontValidation(t *testing.T) {
	exec, _ := newTestExecutor(t, &fakeProvider{}, nil)
	ctx := context.Background()

	if _, err := exec.SolveProblem(ctx, "", ""); !errors.Is(err, ErrMissingProblem) {
		t.Errorf("got %v, want ErrMissingProblem", err)
	}
	if _, err := exec.GenerateTestCases(ctx, ""); !errors.Is(err, ErrMissingCode) {
		t.Errorf("got %v, want ErrMissingCode", err)
	}
	if _, err := exec.ModifyCode(ctx, "", "code"); !errors.Is(err, ErrMissingInstructions) {
		t.Errorf("got %v, want ErrMissingInstructions", err)
	}
	if _, err := exec.ModifyCode(ctx, "do it", ""); !errors.Is(err, ErrMissingCode) {
		t.Errorf("got %v, want ErrMissingCode", err)
	}
}

func TestSolveProblem(t *testing.T) {
	provider := &fakeProvider{response: "solution text"}
	exec, _ := newTestExecutor(t, provider, nil)

	result, err := exec.SolveProblem(context.Background(), "217", "prefer a one-pass approach")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Response != "solution text" {
		t.Errorf("result %+v", result)
	}
	if !strings.Contains(provider.lastPrompt, "#217") {
		t.Error("prompt should name the problem number")
	}
	if !strings.Contains(provider.lastPrompt, "prefer a one-pass approach") {
		t.Error("extra instructions missing from the prompt")
	}
}

func TestGenerateTestCasesStripsFence(t *testing.T) {
	provider := &fakeProvider{response: "```python\nassert f(1) == 2\n```"}
	exec, _ := newTestExecutor(t, provider, nil)

	result, err := exec.GenerateTestCases(context.Background(), "def f(x): return x + 1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "assert f(1) == 2" {
		t.Errorf("response %q", result.Response)
	}
	if !strings.Contains(provider.lastPrompt, "def f(x): return x + 1") {
		t.Error("code missing from the prompt")
	}
}
