// Package sqlite implements the durable prompt cache. Lookups try an exact
// fingerprint match first and fall back to TF-IDF similarity over the
// non-expired pool when semantic caching is enabled. Store failures never
// surface to callers: a broken cache degrades to misses and dropped writes,
// forcing live LLM calls instead of errors.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/codedrill-ai/codedrill/pkg/cache"
	"github.com/codedrill-ai/codedrill/pkg/models"
	"github.com/codedrill-ai/codedrill/pkg/semantic"
)

// Settings supplies the runtime knobs the cache consults on each lookup.
type Settings interface {
	SemanticCacheEnabled(ctx context.Context) bool
	SimilarityThreshold(ctx context.Context) float64
}

// Cache is the two-tier prompt cache backed by SQLite.
type Cache struct {
	db       *sql.DB
	ttl      time.Duration
	settings Settings
	log      *zap.SugaredLogger
}

// Query identifies one cache operation. The same identity is used for Get
// and Set so write-through always lands on the key the lookup missed.
type Query struct {
	Prompt        string
	OperationType string
	Model         string
	UseCache      bool
	ModelAware    bool
	Metadata      models.Metadata
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS prompt_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key_hash TEXT UNIQUE NOT NULL,
	prompt TEXT NOT NULL,
	operation_type TEXT NOT NULL,
	model TEXT,
	response_text TEXT NOT NULL,
	metadata TEXT,
	created_at DATETIME NOT NULL,
	accessed_at DATETIME NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_cache_hash ON prompt_cache(key_hash);
CREATE INDEX IF NOT EXISTS idx_cache_op_created ON prompt_cache(operation_type, created_at);
`

// New opens (or creates) the cache database. settings may be nil, which
// disables the semantic tier.
func New(dbPath string, ttl time.Duration, settings Settings, log *zap.SugaredLogger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return &Cache{db: db, ttl: ttl, settings: settings, log: log}, nil
}

// Get returns the cached entry for q, or (nil, false) on a miss. An exact
// fingerprint hit bumps the entry's access stats atomically; otherwise the
// semantic tier is consulted. Store errors are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, q Query) (*models.CacheEntry, bool) {
	if !q.UseCache {
		return nil, false
	}

	hash := cache.Fingerprint(q.OperationType, q.Model, q.Prompt, q.ModelAware)
	cutoff := time.Now().UTC().Add(-c.ttl)

	entry, err := c.lookupExact(ctx, hash, cutoff)
	if err != nil {
		c.log.Warnw("cache lookup failed, treating as miss", "error", err)
		return nil, false
	}
	if entry != nil {
		return entry, true
	}

	if c.settings == nil || !c.settings.SemanticCacheEnabled(ctx) {
		return nil, false
	}
	entry, err = c.lookupSimilar(ctx, q, cutoff)
	if err != nil {
		c.log.Warnw("semantic cache lookup failed, treating as miss", "error", err)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	return entry, true
}

// lookupExact finds a non-expired entry by fingerprint and bumps its access
// stats in the same transaction.
func (c *Cache) lookupExact(ctx context.Context, hash string, cutoff time.Time) (*models.CacheEntry, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cache tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, key_hash, prompt, operation_type, model, response_text, metadata,
		        created_at, accessed_at, access_count
		 FROM prompt_cache WHERE key_hash = ? AND created_at > ?`,
		hash, cutoff,
	)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE prompt_cache SET accessed_at = ?, access_count = access_count + 1 WHERE key_hash = ?`,
		now, hash,
	); err != nil {
		return nil, fmt.Errorf("bump cache access: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cache access: %w", err)
	}

	entry.AccessedAt = now
	entry.AccessCount++
	return entry, nil
}

// lookupSimilar loads the candidate pool for q's operation type (and model,
// when model-aware), filters it by metadata equality, and asks the matcher
// for the closest prompt above the runtime threshold.
func (c *Cache) lookupSimilar(ctx context.Context, q Query, cutoff time.Time) (*models.CacheEntry, error) {
	query := `SELECT id, key_hash, prompt, operation_type, model, response_text, metadata,
	                 created_at, accessed_at, access_count
	          FROM prompt_cache WHERE operation_type = ? AND created_at > ?`
	args := []any{q.OperationType, cutoff}
	if q.ModelAware && q.Model != "" {
		query += ` AND model = ?`
		args = append(args, q.Model)
	}
	query += ` ORDER BY id`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidate pool: %w", err)
	}
	defer rows.Close()

	var pool []*models.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if entry.Metadata.Matches(q.Metadata) {
			pool = append(pool, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, nil
	}

	prompts := make([]string, len(pool))
	for i, e := range pool {
		prompts[i] = e.Prompt
	}

	match, ok := semantic.FindSimilar(q.Prompt, prompts, c.settings.SimilarityThreshold(ctx))
	if !ok {
		return nil, nil
	}

	best := pool[match.Index]
	now := time.Now().UTC()
	if _, err := c.db.ExecContext(ctx,
		`UPDATE prompt_cache SET accessed_at = ?, access_count = access_count + 1 WHERE key_hash = ?`,
		now, best.KeyHash,
	); err != nil {
		return nil, fmt.Errorf("bump cache access: %w", err)
	}
	best.AccessedAt = now
	best.AccessCount++
	best.SemanticHit = true
	best.Similarity = match.Score
	best.CurrentPrompt = q.Prompt
	return best, nil
}

// Set stores a response under q's fingerprint, replacing any entry with the
// same key and resetting its freshness window. Failures are logged, never
// returned: a broken cache must not fail the caller.
func (c *Cache) Set(ctx context.Context, q Query, responseText string) {
	if !q.UseCache {
		return
	}

	hash := cache.Fingerprint(q.OperationType, q.Model, q.Prompt, q.ModelAware)
	var metadataJSON any
	if len(q.Metadata) > 0 {
		b, err := json.Marshal(q.Metadata)
		if err != nil {
			c.log.Warnw("cache set: marshal metadata failed", "error", err)
			return
		}
		metadataJSON = string(b)
	}

	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO prompt_cache
		 (key_hash, prompt, operation_type, model, response_text, metadata, created_at, accessed_at, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		hash, q.Prompt, q.OperationType, nullable(q.Model), responseText, metadataJSON, now, now,
	)
	if err != nil {
		c.log.Warnw("cache set failed, dropping entry", "error", err)
	}
}

// ClearExpired removes entries older than the TTL window and returns the
// number removed.
func (c *Cache) ClearExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-c.ttl)
	res, err := c.db.ExecContext(ctx, `DELETE FROM prompt_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clear expired: %w", err)
	}
	return res.RowsAffected()
}

// ClearAll removes every entry and returns the number removed.
func (c *Cache) ClearAll(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM prompt_cache`)
	if err != nil {
		return 0, fmt.Errorf("clear all: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns aggregate counts and the per-operation breakdown.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	stats := models.CacheStats{
		OperationBreakdown: make(map[string]int64),
		TTLHours:           c.ttl.Hours(),
	}

	var avg sql.NullFloat64
	var accesses sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(access_count), AVG(access_count) FROM prompt_cache`,
	).Scan(&stats.TotalEntries, &accesses, &avg)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	stats.TotalAccesses = accesses.Int64
	stats.AvgAccessesPerItem = avg.Float64

	rows, err := c.db.QueryContext(ctx,
		`SELECT operation_type, COUNT(*) FROM prompt_cache GROUP BY operation_type`,
	)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var op string
		var count int64
		if err := rows.Scan(&op, &count); err != nil {
			return models.CacheStats{}, fmt.Errorf("scan breakdown: %w", err)
		}
		stats.OperationBreakdown[op] = count
	}
	return stats, rows.Err()
}

// Entries returns a recency-ordered listing with truncated previews.
func (c *Cache) Entries(ctx context.Context, limit int) ([]models.CacheEntrySummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, key_hash, operation_type, model,
		        substr(prompt, 1, 100), substr(response_text, 1, 100),
		        created_at, accessed_at, access_count
		 FROM prompt_cache ORDER BY accessed_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []models.CacheEntrySummary
	for rows.Next() {
		var e models.CacheEntrySummary
		var model sql.NullString
		if err := rows.Scan(&e.ID, &e.KeyHash, &e.OperationType, &model,
			&e.PromptPreview, &e.ResponsePreview, &e.CreatedAt, &e.AccessedAt, &e.AccessCount); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		e.Model = model.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.CacheEntry, error) {
	var e models.CacheEntry
	var model, metadata sql.NullString
	if err := row.Scan(&e.ID, &e.KeyHash, &e.Prompt, &e.OperationType, &model,
		&e.ResponseText, &metadata, &e.CreatedAt, &e.AccessedAt, &e.AccessCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan cache entry: %w", err)
	}
	e.Model = model.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode cache metadata: %w", err)
		}
	}
	return &e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
