// Package search implements the hybrid retrieval pipeline: concurrent
// semantic and keyword branches, semantic-priority merging, title
// coalescing, and external reranking. Each stage degrades independently
// so that a provider outage narrows results instead of failing requests.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/appledex/appledex/pkg/provider"
	"github.com/appledex/appledex/pkg/types"
)

// ErrInvalidQuery rejects empty or oversized queries.
var ErrInvalidQuery = errors.New("invalid query")

// maxQueryLen bounds accepted query text.
const maxQueryLen = 10000

// maxAdditionalURLs caps the related-documentation list.
const maxAdditionalURLs = 10

// poolFactor sizes each retrieval branch relative to the requested
// result count.
const poolFactor = 4

// Embedder turns query text into a normalized vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker reorders candidate documents against the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]provider.RankedDoc, error)
}

// Retriever is the chunk-index surface the engine searches over.
type Retriever interface {
	SemanticSearch(ctx context.Context, vec []float32, k int) ([]types.Chunk, error)
	KeywordSearch(ctx context.Context, query string, k int) ([]types.Chunk, error)
}

// Engine runs the hybrid search pipeline.
type Engine struct {
	embedder Embedder
	reranker Reranker
	store    Retriever
	tracer   trace.Tracer
}

// NewEngine builds a search engine over the given backends.
func NewEngine(embedder Embedder, reranker Reranker, store Retriever) *Engine {
	return &Engine{
		embedder: embedder,
		reranker: reranker,
		store:    store,
		tracer:   otel.Tracer("github.com/appledex/appledex/pkg/search"),
	}
}

// Search retrieves, merges, and reranks documentation for the query.
// resultCount is expected in [1, 10] from the caller and is clamped to
// [1, 20] here regardless. Branch and reranker failures degrade; the
// only hard error is an invalid query.
func (e *Engine) Search(ctx context.Context, query string, resultCount int) (types.SearchOutput, error) {
	ctx, span := e.tracer.Start(ctx, "search.hybrid")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" || len(query) > maxQueryLen {
		return types.SearchOutput{}, fmt.Errorf("%w: query must be 1 to %d characters", ErrInvalidQuery, maxQueryLen)
	}
	if resultCount < 1 {
		resultCount = 1
	}
	if resultCount > 20 {
		resultCount = 20
	}

	poolSize := poolFactor * resultCount
	span.SetAttributes(
		attribute.Int("search.result_count", resultCount),
		attribute.Int("search.pool_size", poolSize),
	)

	semantic, keyword := e.fanOut(ctx, query, poolSize)
	span.SetAttributes(
		attribute.Int("search.semantic_candidates", len(semantic)),
		attribute.Int("search.keyword_candidates", len(keyword)),
	)

	merged := mergeCandidates(semantic, keyword)
	groups := coalesceByTitle(merged)
	if len(groups) == 0 {
		return types.SearchOutput{Results: []types.RankedResult{}, AdditionalURLs: []types.AdditionalURL{}}, nil
	}

	results := e.rerankGroups(ctx, query, groups, resultCount)

	return types.SearchOutput{
		Results:        results,
		AdditionalURLs: additionalURLs(groups, results, maxAdditionalURLs),
	}, nil
}

// fanOut runs the semantic and keyword branches concurrently. A failed
// branch contributes an empty candidate list.
func (e *Engine) fanOut(ctx context.Context, query string, poolSize int) (semantic, keyword []types.Chunk) {
	// Plain group: branch errors degrade locally and must not cancel
	// the sibling branch.
	var g errgroup.Group

	g.Go(func() error {
		_, span := e.tracer.Start(ctx, "search.semantic")
		defer span.End()

		vec, err := e.embedder.Embed(ctx, query)
		if err != nil {
			slog.Warn("semantic branch degraded: embedding failed",
				slog.String("error", err.Error()))
			return nil
		}
		chunks, err := e.store.SemanticSearch(ctx, vec, poolSize)
		if err != nil {
			slog.Warn("semantic branch degraded: vector search failed",
				slog.String("error", err.Error()))
			return nil
		}
		semantic = chunks
		return nil
	})

	g.Go(func() error {
		_, span := e.tracer.Start(ctx, "search.keyword")
		defer span.End()

		chunks, err := e.store.KeywordSearch(ctx, query, poolSize)
		if err != nil {
			slog.Warn("keyword branch degraded: lexical search failed",
				slog.String("error", err.Error()))
			return nil
		}
		keyword = chunks
		return nil
	})

	_ = g.Wait()
	return semantic, keyword
}

// rerankGroups orders the coalesced groups with the external reranker,
// falling back to merged order on failure.
func (e *Engine) rerankGroups(ctx context.Context, query string, groups []types.MergedGroup, resultCount int) []types.RankedResult {
	ctx, span := e.tracer.Start(ctx, "search.rerank")
	defer span.End()

	topK := resultCount
	if len(groups) < topK {
		topK = len(groups)
	}

	documents := make([]string, len(groups))
	for i, g := range groups {
		documents[i] = g.Content
	}

	ranked, err := e.reranker.Rerank(ctx, query, documents, topK)
	if err != nil {
		slog.Warn("rerank degraded: using merged order",
			slog.String("error", err.Error()))
		results := make([]types.RankedResult, topK)
		for i := 0; i < topK; i++ {
			results[i] = types.RankedResult{MergedGroup: groups[i], OriginalIndex: i}
		}
		return results
	}

	results := make([]types.RankedResult, 0, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(groups) {
			continue
		}
		results = append(results, types.RankedResult{
			MergedGroup:   groups[r.Index],
			OriginalIndex: r.Index,
		})
	}
	return results
}
