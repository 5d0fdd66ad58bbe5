package models

import "time"

// ParentChunkIndex marks a synthetic parent record holding a chunked
// document's full original text. Parents are kept for deduplication and
// listings but never returned by retrieval.
const ParentChunkIndex = -1

// DocumentRecord is one row in the document store: a standalone document, a
// synthetic parent, or a retrievable chunk.
type DocumentRecord struct {
	ID          int64     `json:"id"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	ChunkIndex  int       `json:"chunk_index"`
	ChunkCount  int       `json:"chunk_count"`
	ParentID    int64     `json:"parent_id,omitempty"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsParent reports whether the record is a synthetic parent.
func (d DocumentRecord) IsParent() bool {
	return d.ChunkIndex == ParentChunkIndex
}

// RetrievedDocument is one ranked retrieval result.
type RetrievedDocument struct {
	ID         int64   `json:"id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity_score"`
	ChunkIndex int     `json:"chunk_index"`
	ChunkCount int     `json:"chunk_count"`
	ParentID   int64   `json:"parent_id,omitempty"`
}
