// Package vectorstore adapts the chunk indexes to the retrieval pipeline:
// ANN search over the configured vector backend, lexical search over the
// Postgres full-text index, and full-page assembly by URL.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/appledex/appledex/pkg/types"
)

// Common errors returned by the store.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidQuery = errors.New("invalid query: must provide query text or embedding")
)

// SemanticIndex is the ANN side of the store. Implementations live in the
// qdrant and pinecone subpackages.
type SemanticIndex interface {
	// SemanticSearch returns up to k chunks nearest to vec, most similar
	// first. The result may be shorter than k.
	SemanticSearch(ctx context.Context, vec []float32, k int) ([]types.Chunk, error)

	// Close releases any resources held by the index.
	Close() error
}

// Store combines a semantic index with the lexical index and page table
// that live in Postgres.
type Store struct {
	semantic SemanticIndex
	db       *gorm.DB
}

// New builds a Store over the given backends.
func New(semantic SemanticIndex, db *gorm.DB) (*Store, error) {
	if semantic == nil {
		return nil, errors.New("semantic index is required")
	}
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	return &Store{semantic: semantic, db: db}, nil
}

// chunkRow mirrors the doc_chunks table.
type chunkRow struct {
	ID          string `gorm:"column:id;primaryKey"`
	URL         string `gorm:"column:url"`
	Title       string `gorm:"column:title"`
	Content     string `gorm:"column:content"`
	ChunkIndex  int    `gorm:"column:chunk_index"`
	TotalChunks int    `gorm:"column:total_chunks"`
}

func (chunkRow) TableName() string { return "doc_chunks" }

// pageRow mirrors the pages table of fully assembled documents.
type pageRow struct {
	ID      string `gorm:"column:id;primaryKey"`
	URL     string `gorm:"column:url"`
	Title   string `gorm:"column:title"`
	Content string `gorm:"column:content"`
}

func (pageRow) TableName() string { return "pages" }

// SemanticSearch delegates to the ANN backend.
func (s *Store) SemanticSearch(ctx context.Context, vec []float32, k int) ([]types.Chunk, error) {
	if len(vec) == 0 {
		return nil, ErrInvalidQuery
	}
	return s.semantic.SemanticSearch(ctx, vec, k)
}

// KeywordSearch ranks chunks against the tokenized query using the
// Postgres 'simple' text-search configuration: case folding, split on
// non-alphanumerics, no stemming and no stop list.
func (s *Store) KeywordSearch(ctx context.Context, query string, k int) ([]types.Chunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}
	if k <= 0 {
		k = 10
	}

	var rows []chunkRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT id, url, title, content, chunk_index, total_chunks
		FROM doc_chunks
		WHERE to_tsvector('simple', content) @@ plainto_tsquery('simple', ?)
		ORDER BY ts_rank(to_tsvector('simple', content), plainto_tsquery('simple', ?)) DESC
		LIMIT ?`, query, query, k).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	chunks := make([]types.Chunk, len(rows))
	for i, r := range rows {
		chunks[i] = types.Chunk{
			ID:          r.ID,
			URL:         r.URL,
			Title:       r.Title,
			Content:     r.Content,
			ChunkIndex:  r.ChunkIndex,
			TotalChunks: r.TotalChunks,
		}
	}
	return chunks, nil
}

// GetPageByURL returns the fully assembled page for url, or nil when the
// URL is unknown to the corpus.
func (s *Store) GetPageByURL(ctx context.Context, url string) (*types.Document, error) {
	var row pageRow
	err := s.db.WithContext(ctx).Where("url = ?", url).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("page lookup failed: %w", err)
	}
	return &types.Document{
		ID:      row.ID,
		URL:     row.URL,
		Title:   row.Title,
		Content: row.Content,
	}, nil
}

// Close releases the semantic backend. The database handle is shared and
// closed by its owner.
func (s *Store) Close() error {
	return s.semantic.Close()
}
