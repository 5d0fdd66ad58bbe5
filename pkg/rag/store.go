// Package rag implements the document-retrieval store: chunked documents
// with embeddings persisted in SQLite and searched brute-force by cosine
// similarity.
package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codedrill-ai/codedrill/pkg/models"
)

// Store persists document records. IDs are assigned by the caller from the
// shared sequence, not by the database.
type Store struct {
	db *sql.DB
}

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL,
	parent_id INTEGER,
	embedding BLOB NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash, chunk_index);
CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents(parent_id);
`

// NewStore opens (or creates) the document database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open document db: %w", err)
	}
	if _, err := db.Exec(createDocumentsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate document db: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert stores a set of records in one transaction, so a parent and its
// chunks appear atomically.
func (s *Store) Insert(ctx context.Context, recs ...models.DocumentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (id, content, content_hash, chunk_index, chunk_count, parent_id, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		var parent any
		if rec.ParentID != 0 {
			parent = rec.ParentID
		}
		created := rec.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.Content, rec.ContentHash, rec.ChunkIndex, rec.ChunkCount,
			parent, encodeVector(rec.Embedding), created,
		); err != nil {
			return fmt.Errorf("insert document %d: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// FindByHash returns the parent or standalone record with the given content
// hash, or nil if none exists. Chunk rows never match.
func (s *Store) FindByHash(ctx context.Context, contentHash string) (*models.DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, content_hash, chunk_index, chunk_count, parent_id, embedding, created_at
		 FROM documents WHERE content_hash = ? AND chunk_index <= 0 LIMIT 1`,
		contentHash,
	)
	rec, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// Delete removes the record and every record parented to it. It reports
// whether the primary record existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	primary, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE parent_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete chunks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return primary > 0, nil
}

// Documents lists stored records ordered by id. With showAll false only
// parents and standalone documents are returned; with true, chunk rows too.
func (s *Store) Documents(ctx context.Context, limit int, showAll bool) ([]models.DocumentRecord, error) {
	query := `SELECT id, content, content_hash, chunk_index, chunk_count, parent_id, embedding, created_at
	          FROM documents`
	if !showAll {
		query += ` WHERE chunk_index <= 0 AND parent_id IS NULL`
	}
	query += ` ORDER BY id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.DocumentRecord
	for rows.Next() {
		rec, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *rec)
	}
	return docs, rows.Err()
}

// Count returns the number of stored records, chunks included.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// SearchNearest scans every retrievable record (chunk_index >= 0, so
// synthetic parents are excluded) and returns the topK nearest by cosine
// similarity, descending.
func (s *Store) SearchNearest(ctx context.Context, query []float32, topK int) ([]models.RetrievedDocument, error) {
	if topK <= 0 {
		topK = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, content_hash, chunk_index, chunk_count, parent_id, embedding, created_at
		 FROM documents WHERE chunk_index >= 0`)
	if err != nil {
		return nil, fmt.Errorf("scan retrievable documents: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievedDocument
	for rows.Next() {
		rec, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, models.RetrievedDocument{
			ID:         rec.ID,
			Content:    rec.Content,
			Similarity: cosineSimilarity(query, rec.Embedding),
			ChunkIndex: rec.ChunkIndex,
			ChunkCount: rec.ChunkCount,
			ParentID:   rec.ParentID,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.DocumentRecord, error) {
	var rec models.DocumentRecord
	var parent sql.NullInt64
	var blob []byte
	if err := row.Scan(&rec.ID, &rec.Content, &rec.ContentHash, &rec.ChunkIndex,
		&rec.ChunkCount, &parent, &blob, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	rec.ParentID = parent.Int64
	rec.Embedding = decodeVector(blob)
	return &rec, nil
}

// encodeVector packs an embedding as little-endian float32 bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// cosineSimilarity returns the cosine of the angle between two embeddings,
// or 0 when either has no magnitude (such as a zero-vector fallback).
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
