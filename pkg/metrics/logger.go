// Package metrics records every LLM call — hits are not recorded here, only
// live provider calls and their failures — in a dedicated SQLite database.
// Recording is fire-and-forget from the caller's perspective: a broken call
// log never affects the main flow.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/models"
)

// Logger writes and queries LLM call records.
type Logger struct {
	db   *sql.DB
	cfg  config.CallLogConfig
	done chan struct{}
	wg   sync.WaitGroup
}

const createCallsTable = `
CREATE TABLE IF NOT EXISTS llm_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT,
	operation_type TEXT NOT NULL,
	model TEXT,
	prompt TEXT,
	response TEXT,
	tokens_sent INTEGER NOT NULL DEFAULT 0,
	tokens_received INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	metadata TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_op ON llm_calls(operation_type);
CREATE INDEX IF NOT EXISTS idx_calls_created ON llm_calls(created_at);
`

// New opens the call-log database and starts the retention loop.
func New(dbPath string, cfg config.CallLogConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open call log db: %w", err)
	}
	if _, err := db.Exec(createCallsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate call log db: %w", err)
	}

	l := &Logger{db: db, cfg: cfg, done: make(chan struct{})}
	if cfg.RetentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}
	return l, nil
}

// Record inserts a call record, truncating oversized bodies.
func (l *Logger) Record(ctx context.Context, rec models.CallRecord) error {
	if l == nil || l.db == nil {
		return nil
	}

	prompt := rec.Prompt
	response := rec.Response
	if l.cfg.MaxBodySize > 0 {
		if len(prompt) > l.cfg.MaxBodySize {
			prompt = prompt[:l.cfg.MaxBodySize]
		}
		if len(response) > l.cfg.MaxBodySize {
			response = response[:l.cfg.MaxBodySize]
		}
	}

	var metadataJSON any
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal call metadata: %w", err)
		}
		metadataJSON = string(b)
	}

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO llm_calls
		 (request_id, operation_type, model, prompt, response, tokens_sent, tokens_received,
		  latency_ms, error, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.OperationType, rec.Model, prompt, response,
		rec.TokensSent, rec.TokensReceived, rec.LatencyMs, rec.Error, metadataJSON, created,
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// Query returns call records matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.CallQueryOpts) ([]models.CallRecord, error) {
	q := `SELECT id, request_id, operation_type, model, prompt, response,
	             tokens_sent, tokens_received, latency_ms, error, metadata, created_at
	      FROM llm_calls WHERE 1=1`
	var args []any

	if opts.OperationType != "" {
		q += ` AND operation_type = ?`
		args = append(args, opts.OperationType)
	}
	if opts.Model != "" {
		q += ` AND model = ?`
		args = append(args, opts.Model)
	}
	if !opts.Since.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, opts.Since)
	}
	if opts.ErrorsOnly {
		q += ` AND error IS NOT NULL AND error != ''`
	}
	q += ` ORDER BY created_at DESC`

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += ` LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var r models.CallRecord
		var requestID, model, prompt, response, callErr, metadata sql.NullString
		if err := rows.Scan(&r.ID, &requestID, &r.OperationType, &model, &prompt, &response,
			&r.TokensSent, &r.TokensReceived, &r.LatencyMs, &callErr, &metadata, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		r.RequestID = requestID.String
		r.Model = model.String
		r.Prompt = prompt.String
		r.Response = response.String
		r.Error = callErr.String
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &r.Metadata)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats returns aggregate counts grouped by operation type and day.
func (l *Logger) Stats(ctx context.Context) ([]models.CallStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT operation_type, date(created_at) AS day, COUNT(*),
		        SUM(CASE WHEN error IS NOT NULL AND error != '' THEN 1 ELSE 0 END),
		        AVG(latency_ms), SUM(tokens_sent + tokens_received)
		 FROM llm_calls GROUP BY operation_type, day ORDER BY day DESC, operation_type`)
	if err != nil {
		return nil, fmt.Errorf("call stats: %w", err)
	}
	defer rows.Close()

	var stats []models.CallStat
	for rows.Next() {
		var s models.CallStat
		var day sql.NullString
		var avg sql.NullFloat64
		var tokens sql.NullInt64
		if err := rows.Scan(&s.OperationType, &day, &s.Count, &s.Errors, &avg, &tokens); err != nil {
			return nil, fmt.Errorf("scan call stat: %w", err)
		}
		s.Day = day.String
		s.AvgLatencyMs = avg.Float64
		s.TotalTokens = tokens.Int64
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes records older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx, `DELETE FROM llm_calls WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("call log cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}
