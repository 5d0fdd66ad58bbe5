// Package executor runs LLM tasks through the full pipeline: retrieval
// augmentation, cache lookup, provider call on miss, write-through, and
// call logging. Cache and retrieval failures degrade the pipeline instead
// of failing the task; only provider errors and bad input surface.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cachesqlite "github.com/codedrill-ai/codedrill/pkg/cache/sqlite"
	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/llm"
	"github.com/codedrill-ai/codedrill/pkg/metrics"
	"github.com/codedrill-ai/codedrill/pkg/models"
	"github.com/codedrill-ai/codedrill/pkg/rag"
	"github.com/codedrill-ai/codedrill/pkg/settings"
)

// Input validation errors. These are caller mistakes, reported before any
// pipeline work happens.
var (
	ErrMissingPrompt       = errors.New("prompt is required")
	ErrMissingProblem      = errors.New("problem number is required")
	ErrMissingCode         = errors.New("code is required")
	ErrMissingInstructions = errors.New("instructions are required")
)

// Executor orchestrates one task end to end. Any of cache, retrieval, and
// calls may be nil: a nil component is skipped, not an error.
type Executor struct {
	cache     *cachesqlite.Cache
	retrieval *rag.Service
	provider  llm.Provider
	calls     *metrics.Logger
	settings  *settings.Store
	cfg       config.RetrievalConfig
	log       *zap.SugaredLogger
}

func New(cache *cachesqlite.Cache, retrieval *rag.Service, provider llm.Provider, calls *metrics.Logger, st *settings.Store, cfg config.RetrievalConfig, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{
		cache:     cache,
		retrieval: retrieval,
		provider:  provider,
		calls:     calls,
		settings:  st,
		cfg:       cfg,
		log:       log,
	}
}

// Execute runs one task. A non-nil error is returned only for invalid
// input; provider failures come back inside the result with Success false
// so callers always get the request ID and timing.
func (e *Executor) Execute(ctx context.Context, req models.TaskRequest) (models.TaskResult, error) {
	if req.Prompt == "" {
		return models.TaskResult{}, ErrMissingPrompt
	}

	result := models.TaskResult{RequestID: uuid.NewString()}

	model := req.Model
	if model == "" {
		model = e.settings.CurrentModel(ctx)
	}

	prompt := e.augment(ctx, req.Prompt, &result)

	q := cachesqlite.Query{
		Prompt:        prompt,
		OperationType: req.OperationType,
		Model:         model,
		UseCache:      req.UseCache,
		ModelAware:    req.ModelAware,
		Metadata:      req.Metadata,
	}

	if e.cache != nil {
		if entry, ok := e.cache.Get(ctx, q); ok {
			result.Success = true
			result.FromCache = true
			result.SemanticHit = entry.SemanticHit
			result.Similarity = entry.Similarity
			// The matched entry's stored prompt and the prompt that found
			// it are both surfaced so callers can diff them.
			if entry.SemanticHit {
				result.CachedPrompt = entry.Prompt
				result.CurrentPrompt = entry.CurrentPrompt
			}
			result.Response = postProcess(req, entry.ResponseText)
			return result, nil
		}
	}

	start := time.Now()
	gen, err := e.provider.Generate(ctx, model, prompt)
	result.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Error = err.Error()
		e.recordCall(result.RequestID, req, model, prompt, "", 0, 0, result.LatencyMs, err.Error())
		return result, nil
	}

	result.Success = true
	result.TokensSent = gen.TokensSent
	result.TokensReceived = gen.TokensReceived

	// The raw response goes to the cache and the call log; post-processing
	// is applied per request on the way out.
	if e.cache != nil {
		e.cache.Set(ctx, q, gen.Text)
	}
	e.recordCall(result.RequestID, req, model, prompt, gen.Text, gen.TokensSent, gen.TokensReceived, result.LatencyMs, "")

	result.Response = postProcess(req, gen.Text)
	return result, nil
}

// augment prepends retrieved context to the prompt when retrieval is on and
// finds anything relevant. Retrieval failures leave the prompt untouched.
func (e *Executor) augment(ctx context.Context, prompt string, result *models.TaskResult) string {
	if e.retrieval == nil || !e.retrieval.IsEnabled(ctx) {
		return prompt
	}
	docs, err := e.retrieval.Retrieve(ctx, prompt, e.cfg.TopK, e.cfg.MinSimilarity)
	if err != nil {
		e.log.Warnw("retrieval failed, continuing without context", "error", err)
		return prompt
	}
	if len(docs) == 0 {
		return prompt
	}
	result.RetrievedDocs = len(docs)
	return prompt + "\n\n" + rag.FormatContext(docs, e.cfg.MaxContext)
}

// recordCall logs the call in the background so logging latency and
// failures never affect the task.
func (e *Executor) recordCall(requestID string, req models.TaskRequest, model, prompt, response string, sent, received int, latencyMs int64, callErr string) {
	if e.calls == nil {
		return
	}
	rec := models.CallRecord{
		RequestID:      requestID,
		OperationType:  req.OperationType,
		Model:          model,
		Prompt:         prompt,
		Response:       response,
		TokensSent:     sent,
		TokensReceived: received,
		LatencyMs:      latencyMs,
		Error:          callErr,
		Metadata:       req.Metadata,
	}
	go func() {
		if err := e.calls.Record(context.Background(), rec); err != nil {
			e.log.Warnw("call log write failed", "request_id", requestID, "error", err)
		}
	}()
}

func postProcess(req models.TaskRequest, text string) string {
	if req.PostProcessor == nil {
		return text
	}
	return req.PostProcessor(text)
}

// SolveProblem runs the LeetCode solve task for a problem number, with an
// optional extra instruction appended to the standard prompt.
func (e *Executor) SolveProblem(ctx context.Context, problemNumber, extra string) (models.TaskResult, error) {
	if problemNumber == "" {
		return models.TaskResult{}, ErrMissingProblem
	}
	return e.Execute(ctx, models.TaskRequest{
		Prompt:        solvePrompt(problemNumber, extra),
		OperationType: models.OpProblemSolve,
		Metadata:      models.Metadata{"problem_number": problemNumber},
		UseCache:      e.settings.CacheEnabled(ctx),
		ModelAware:    e.settings.ModelAwareCache(ctx),
	})
}

// GenerateTestCases asks for test cases covering the given code and strips
// the wrapping code fence from the answer.
func (e *Executor) GenerateTestCases(ctx context.Context, code string) (models.TaskResult, error) {
	if code == "" {
		return models.TaskResult{}, ErrMissingCode
	}
	return e.Execute(ctx, models.TaskRequest{
		Prompt:        testCasePrompt(code),
		OperationType: models.OpTestCaseGeneration,
		PostProcessor: StripCodeFence,
		UseCache:      e.settings.CacheEnabled(ctx),
		ModelAware:    e.settings.ModelAwareCache(ctx),
	})
}

// ModifyCode rewrites code per the instructions and strips the wrapping code
// fence from the answer.
func (e *Executor) ModifyCode(ctx context.Context, instructions, code string) (models.TaskResult, error) {
	if instructions == "" {
		return models.TaskResult{}, ErrMissingInstructions
	}
	if code == "" {
		return models.TaskResult{}, ErrMissingCode
	}
	return e.Execute(ctx, models.TaskRequest{
		Prompt:        modifyPrompt(instructions, code),
		OperationType: models.OpCodeModification,
		PostProcessor: StripCodeFence,
		UseCache:      e.settings.CacheEnabled(ctx),
		ModelAware:    e.settings.ModelAwareCache(ctx),
	})
}
