package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codedrill-ai/codedrill/pkg/chunk"
	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/embed"
	"github.com/codedrill-ai/codedrill/pkg/models"
)

// ErrEmptyDocument rejects ingestion of blank content. It is the one
// AddDocument failure that is the caller's fault.
var ErrEmptyDocument = errors.New("document content must not be empty")

// Settings supplies the retrieval toggle and the shared ID sequence.
type Settings interface {
	RetrievalEnabled(ctx context.Context) bool
	SetRetrievalEnabled(ctx context.Context, enabled bool) error
	NextDocumentID(ctx context.Context) int64
}

// Service orchestrates chunking, embedding, and the document store.
type Service struct {
	store    *Store
	embedder embed.Embedder
	settings Settings
	log      *zap.SugaredLogger

	chunkSize    int
	chunkOverlap int
}

// NewService wires a retrieval service.
func NewService(store *Store, embedder embed.Embedder, settings Settings, cfg config.RetrievalConfig, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	size := cfg.ChunkSize
	if size <= 0 {
		size = chunk.DefaultSize
	}
	overlap := cfg.ChunkOverlap
	if overlap < 0 {
		overlap = chunk.DefaultOverlap
	}
	return &Service{
		store:        store,
		embedder:     embedder,
		settings:     settings,
		log:          log,
		chunkSize:    size,
		chunkOverlap: overlap,
	}
}

// HashContent fingerprints the original, unchunked input for deduplication.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// embedOrZero asks the embedder for a vector. Provider failures degrade to
// an all-zero vector so indexing keeps working; the record can be re-added
// later once the provider recovers.
func (s *Service) embedOrZero(ctx context.Context, text string) []float32 {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.Warnw("embedding failed, substituting zero vector", "error", err)
		return embed.ZeroVector(s.embedder.Dimensions())
	}
	return vec
}

// AddDocument stores content, chunking it when it exceeds the chunk size.
// Re-submitting identical content is idempotent and returns the existing id.
// The dedup check is read-then-insert, so two racing submissions of the same
// new content can both land; readers simply see two equivalent records.
func (s *Service) AddDocument(ctx context.Context, content string) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, ErrEmptyDocument
	}

	contentHash := HashContent(content)
	if existing, err := s.store.FindByHash(ctx, contentHash); err != nil {
		return 0, fmt.Errorf("dedup lookup: %w", err)
	} else if existing != nil {
		s.log.Infow("document already stored, skipping duplicate",
			"id", existing.ID, "content_hash", contentHash[:8])
		return existing.ID, nil
	}

	now := time.Now().UTC()
	chunks := chunk.Split(content, s.chunkSize, s.chunkOverlap)

	if len(chunks) <= 1 {
		id := s.settings.NextDocumentID(ctx)
		rec := models.DocumentRecord{
			ID:          id,
			Content:     content,
			ContentHash: contentHash,
			ChunkIndex:  0,
			ChunkCount:  1,
			Embedding:   s.embedOrZero(ctx, content),
			CreatedAt:   now,
		}
		if err := s.store.Insert(ctx, rec); err != nil {
			return 0, fmt.Errorf("add document: %w", err)
		}
		return id, nil
	}

	parentID := s.settings.NextDocumentID(ctx)
	recs := make([]models.DocumentRecord, 0, len(chunks)+1)
	recs = append(recs, models.DocumentRecord{
		ID:          parentID,
		Content:     content,
		ContentHash: contentHash,
		ChunkIndex:  models.ParentChunkIndex,
		ChunkCount:  len(chunks),
		Embedding:   s.embedOrZero(ctx, content),
		CreatedAt:   now,
	})
	for i, c := range chunks {
		recs = append(recs, models.DocumentRecord{
			ID:         s.settings.NextDocumentID(ctx),
			Content:    c,
			ChunkIndex: i,
			ChunkCount: len(chunks),
			ParentID:   parentID,
			Embedding:  s.embedOrZero(ctx, c),
			CreatedAt:  now,
		})
	}

	if err := s.store.Insert(ctx, recs...); err != nil {
		return 0, fmt.Errorf("add document: %w", err)
	}
	s.log.Infow("document added", "id", parentID, "chunks", len(chunks))
	return parentID, nil
}

// DeleteDocument removes a record and its chunks. It reports whether the
// primary record existed.
func (s *Service) DeleteDocument(ctx context.Context, id int64) (bool, error) {
	return s.store.Delete(ctx, id)
}

// Documents lists stored documents; showAll includes chunk rows.
func (s *Service) Documents(ctx context.Context, limit int, showAll bool) ([]models.DocumentRecord, error) {
	return s.store.Documents(ctx, limit, showAll)
}

// Retrieve embeds the query and returns the topK nearest retrievable chunks
// at or above minSimilarity, descending. An empty index yields an empty
// result, not an error.
func (s *Service) Retrieve(ctx context.Context, query string, topK int, minSimilarity float64) ([]models.RetrievedDocument, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	queryVec := s.embedOrZero(ctx, query)
	nearest, err := s.store.SearchNearest(ctx, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	results := nearest[:0]
	for _, doc := range nearest {
		if doc.Similarity >= minSimilarity {
			results = append(results, doc)
		}
	}
	return results, nil
}

// FormatContext renders retrieved documents as a numbered context block. It
// stops before maxLength is exceeded; a document that would overflow the
// budget is dropped whole rather than truncated mid-text.
func FormatContext(documents []models.RetrievedDocument, maxLength int) string {
	if len(documents) == 0 {
		return ""
	}

	var b strings.Builder
	const header = "## RELEVANT CONTEXT:\n"
	b.WriteString(header)

	for i, doc := range documents {
		snippet := fmt.Sprintf("\n[%d]\n%s\n", i+1, doc.Content)
		if b.Len()+len(snippet) > maxLength {
			break
		}
		b.WriteString(snippet)
	}
	return b.String()
}

// IsEnabled reports whether retrieval augmentation is on. Backend read
// failures fall back to enabled inside the settings store.
func (s *Service) IsEnabled(ctx context.Context) bool {
	return s.settings.RetrievalEnabled(ctx)
}

// SetEnabled toggles retrieval augmentation process-wide.
func (s *Service) SetEnabled(ctx context.Context, enabled bool) error {
	return s.settings.SetRetrievalEnabled(ctx, enabled)
}
