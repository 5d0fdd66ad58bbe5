// Package settings holds the runtime-mutable configuration shared by every
// process: cache toggles, the current model, the semantic similarity
// threshold, the retrieval toggle, and the document ID sequence. State lives
// in Redis so concurrent workers observe the same values; reads fall back to
// the last-known-good value (then the default) when Redis is unreachable.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/models"
)

// ErrInvalidSetting marks rejected setting values, as opposed to store
// failures.
var ErrInvalidSetting = errors.New("invalid setting")

const (
	keyCacheEnabled        = "cache_enabled"
	keyModelAwareCache     = "model_aware_cache"
	keySemanticCache       = "semantic_cache_enabled"
	keySimilarityThreshold = "semantic_similarity_threshold"
	keyCurrentModel        = "current_model"
	keyRetrievalEnabled    = "rag_enabled"
	keyDocumentIDCounter   = "rag_doc_id_counter"
)

// Store reads and writes shared runtime settings.
type Store struct {
	rdb      *redis.Client
	log      *zap.SugaredLogger
	defaults models.Settings

	mu       sync.RWMutex
	lastGood map[string]string

	// localID backs NextDocumentID when Redis is unavailable. IDs issued this
	// way are process-local; uniqueness across workers is only guaranteed
	// while the shared counter is reachable.
	localID atomic.Int64
}

// Connect builds a Redis client from configuration. The returned client is
// lazy; connection failures surface on first use and are handled by the
// Store's fallback path.
func Connect(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// New creates a Store. rdb may be nil, in which case every read returns the
// default (or last locally written value) and the document ID sequence is
// process-local.
func New(rdb *redis.Client, defaultModel string, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		rdb: rdb,
		log: log,
		defaults: models.Settings{
			CacheEnabled:        true,
			ModelAwareCache:     true,
			SemanticCache:       false,
			SimilarityThreshold: 0.95,
			CurrentModel:        defaultModel,
			RetrievalEnabled:    true,
		},
		lastGood: make(map[string]string),
	}
}

func (s *Store) remember(key, value string) {
	s.mu.Lock()
	s.lastGood[key] = value
	s.mu.Unlock()
}

func (s *Store) recall(key string) (string, bool) {
	s.mu.RLock()
	v, ok := s.lastGood[key]
	s.mu.RUnlock()
	return v, ok
}

// get reads a raw value, falling back to last-known-good on backend failure.
// The boolean reports whether any value (live or remembered) was found.
func (s *Store) get(ctx context.Context, key string) (string, bool) {
	if s.rdb != nil {
		v, err := s.rdb.Get(ctx, key).Result()
		switch {
		case err == nil:
			s.remember(key, v)
			return v, true
		case errors.Is(err, redis.Nil):
			return "", false
		default:
			s.log.Warnw("settings read failed, using last known value", "key", key, "error", err)
		}
	}
	return s.recall(key)
}

// set writes a value. The local copy is always updated so subsequent reads in
// this process see the new value even when the backend write fails.
func (s *Store) set(ctx context.Context, key, value string) error {
	s.remember(key, value)
	if s.rdb == nil {
		return nil
	}
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("settings write %s: %w", key, err)
	}
	return nil
}

func (s *Store) getBool(ctx context.Context, key string, def bool) bool {
	v, ok := s.get(ctx, key)
	if !ok {
		return def
	}
	return v == "1"
}

func (s *Store) setBool(ctx context.Context, key string, value bool) error {
	v := "0"
	if value {
		v = "1"
	}
	return s.set(ctx, key, v)
}

// CacheEnabled reports whether the prompt cache is on.
func (s *Store) CacheEnabled(ctx context.Context) bool {
	return s.getBool(ctx, keyCacheEnabled, s.defaults.CacheEnabled)
}

// SetCacheEnabled turns the prompt cache on or off for every worker.
func (s *Store) SetCacheEnabled(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, keyCacheEnabled, enabled)
}

// ModelAwareCache reports whether the target model participates in cache keys.
func (s *Store) ModelAwareCache(ctx context.Context) bool {
	return s.getBool(ctx, keyModelAwareCache, s.defaults.ModelAwareCache)
}

// SetModelAwareCache toggles model-aware cache keying.
func (s *Store) SetModelAwareCache(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, keyModelAwareCache, enabled)
}

// SemanticCacheEnabled reports whether similarity-based cache fallback is on.
func (s *Store) SemanticCacheEnabled(ctx context.Context) bool {
	return s.getBool(ctx, keySemanticCache, s.defaults.SemanticCache)
}

// SetSemanticCacheEnabled toggles similarity-based cache fallback.
func (s *Store) SetSemanticCacheEnabled(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, keySemanticCache, enabled)
}

// SimilarityThreshold returns the minimum cosine similarity for a semantic
// cache hit.
func (s *Store) SimilarityThreshold(ctx context.Context) float64 {
	v, ok := s.get(ctx, keySimilarityThreshold)
	if !ok {
		return s.defaults.SimilarityThreshold
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return s.defaults.SimilarityThreshold
	}
	return f
}

// SetSimilarityThreshold updates the semantic match threshold.
func (s *Store) SetSimilarityThreshold(ctx context.Context, threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: similarity threshold %v out of range [0,1]", ErrInvalidSetting, threshold)
	}
	return s.set(ctx, keySimilarityThreshold, strconv.FormatFloat(threshold, 'f', -1, 64))
}

// CurrentModel returns the generative model used for new tasks.
func (s *Store) CurrentModel(ctx context.Context) string {
	v, ok := s.get(ctx, keyCurrentModel)
	if !ok || v == "" {
		return s.defaults.CurrentModel
	}
	return v
}

// SetCurrentModel updates the generative model used for new tasks.
func (s *Store) SetCurrentModel(ctx context.Context, model string) error {
	if model == "" {
		return fmt.Errorf("%w: model must not be empty", ErrInvalidSetting)
	}
	return s.set(ctx, keyCurrentModel, model)
}

// RetrievalEnabled reports whether prompts are augmented with retrieved
// context.
func (s *Store) RetrievalEnabled(ctx context.Context) bool {
	return s.getBool(ctx, keyRetrievalEnabled, s.defaults.RetrievalEnabled)
}

// SetRetrievalEnabled toggles retrieval augmentation.
func (s *Store) SetRetrievalEnabled(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, keyRetrievalEnabled, enabled)
}

// NextDocumentID issues the next document ID from the shared counter. The
// counter never hands out the same value twice while Redis is reachable;
// without it a process-local sequence keeps ingestion working in degraded
// mode.
func (s *Store) NextDocumentID(ctx context.Context) int64 {
	if s.rdb != nil {
		id, err := s.rdb.Incr(ctx, keyDocumentIDCounter).Result()
		if err == nil {
			return id
		}
		s.log.Warnw("document id counter unavailable, using local sequence", "error", err)
	}
	return s.localID.Add(1)
}

// Snapshot returns the current value of every setting.
func (s *Store) Snapshot(ctx context.Context) models.Settings {
	return models.Settings{
		CacheEnabled:        s.CacheEnabled(ctx),
		ModelAwareCache:     s.ModelAwareCache(ctx),
		SemanticCache:       s.SemanticCacheEnabled(ctx),
		SimilarityThreshold: s.SimilarityThreshold(ctx),
		CurrentModel:        s.CurrentModel(ctx),
		RetrievalEnabled:    s.RetrievalEnabled(ctx),
	}
}

// Apply writes every non-nil field of the patch and returns the resulting
// snapshot.
func (s *Store) Apply(ctx context.Context, patch models.SettingsPatch) (models.Settings, error) {
	if patch.CacheEnabled != nil {
		if err := s.SetCacheEnabled(ctx, *patch.CacheEnabled); err != nil {
			return models.Settings{}, err
		}
	}
	if patch.ModelAwareCache != nil {
		if err := s.SetModelAwareCache(ctx, *patch.ModelAwareCache); err != nil {
			return models.Settings{}, err
		}
	}
	if patch.SemanticCache != nil {
		if err := s.SetSemanticCacheEnabled(ctx, *patch.SemanticCache); err != nil {
			return models.Settings{}, err
		}
	}
	if patch.SimilarityThreshold != nil {
		if err := s.SetSimilarityThreshold(ctx, *patch.SimilarityThreshold); err != nil {
			return models.Settings{}, err
		}
	}
	if patch.CurrentModel != nil {
		if err := s.SetCurrentModel(ctx, *patch.CurrentModel); err != nil {
			return models.Settings{}, err
		}
	}
	if patch.RetrievalEnabled != nil {
		if err := s.SetRetrievalEnabled(ctx, *patch.RetrievalEnabled); err != nil {
			return models.Settings{}, err
		}
	}
	return s.Snapshot(ctx), nil
}
