package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/appledex/appledex/pkg/provider"
	"github.com/appledex/appledex/pkg/types"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

type fakeRetriever struct {
	semantic []types.Chunk
	semErr   error
	keyword  []types.Chunk
	kwErr    error

	semanticK int
	keywordK  int
}

func (f *fakeRetriever) SemanticSearch(ctx context.Context, vec []float32, k int) ([]types.Chunk, error) {
	f.semanticK = k
	return f.semantic, f.semErr
}

func (f *fakeRetriever) KeywordSearch(ctx context.Context, query string, k int) ([]types.Chunk, error) {
	f.keywordK = k
	return f.keyword, f.kwErr
}

type fakeReranker struct {
	ranked  []provider.RankedDoc
	err     error
	gotDocs []string
	gotTopK int
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]provider.RankedDoc, error) {
	f.gotDocs = documents
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	if f.ranked != nil {
		return f.ranked, nil
	}
	// Identity ordering by default.
	out := make([]provider.RankedDoc, 0, topK)
	for i := 0; i < topK && i < len(documents); i++ {
		out = append(out, provider.RankedDoc{Index: i, Score: 1 - float64(i)/10})
	}
	return out, nil
}

func newTestEngine(r *fakeRetriever, rr *fakeReranker) *Engine {
	return NewEngine(&fakeEmbedder{vec: []float32{1, 0}}, rr, r)
}

func TestEngine_InvalidQuery(t *testing.T) {
	e := newTestEngine(&fakeRetriever{}, &fakeReranker{})

	for _, q := range []string{"", "   ", strings.Repeat("x", maxQueryLen+1)} {
		_, err := e.Search(context.Background(), q, 4)
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("Search(%d chars): expected ErrInvalidQuery, got %v", len(q), err)
		}
	}
}

func TestEngine_PoolSizeIsFourTimesResultCount(t *testing.T) {
	r := &fakeRetriever{}
	e := newTestEngine(r, &fakeReranker{})

	if _, err := e.Search(context.Background(), "SwiftUI navigation", 4); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if r.semanticK != 16 || r.keywordK != 16 {
		t.Errorf("expected pool 16 per branch, got %d / %d", r.semanticK, r.keywordK)
	}
}

func TestEngine_ResultCountClamp(t *testing.T) {
	r := &fakeRetriever{}
	e := newTestEngine(r, &fakeReranker{})

	if _, err := e.Search(context.Background(), "x", 99); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if r.semanticK != 80 {
		t.Errorf("expected defensive cap at 20 (pool 80), got %d", r.semanticK)
	}

	if _, err := e.Search(context.Background(), "x", -1); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if r.semanticK != 4 {
		t.Errorf("expected floor at 1 (pool 4), got %d", r.semanticK)
	}
}

func TestEngine_HappyPath(t *testing.T) {
	r := &fakeRetriever{
		semantic: []types.Chunk{
			chunk("s1", "u1", "Alpha", "alpha body", 0, 1),
			chunk("s2", "u2", "Beta", "beta body", 0, 1),
		},
		keyword: []types.Chunk{
			chunk("k1", "u3", "Gamma", "gamma body", 0, 1),
			chunk("s1", "u1", "Alpha", "alpha body", 0, 1), // overlap
		},
	}
	rr := &fakeReranker{ranked: []provider.RankedDoc{
		{Index: 2, Score: 0.9},
		{Index: 0, Score: 0.5},
	}}
	e := newTestEngine(r, rr)

	out, err := e.Search(context.Background(), "SwiftUI navigation", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(out.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out.Results))
	}
	if out.Results[0].Title != "Gamma" || out.Results[1].Title != "Alpha" {
		t.Errorf("unexpected ordering: %s, %s", out.Results[0].Title, out.Results[1].Title)
	}
	if out.Results[0].OriginalIndex != 2 || out.Results[1].OriginalIndex != 0 {
		t.Errorf("unexpected original indices: %d, %d",
			out.Results[0].OriginalIndex, out.Results[1].OriginalIndex)
	}

	// Beta did not make the cut and becomes an additional url.
	if len(out.AdditionalURLs) != 1 || out.AdditionalURLs[0].URL != "u2" {
		t.Errorf("unexpected additional urls: %+v", out.AdditionalURLs)
	}

	if rr.gotTopK != 2 {
		t.Errorf("expected rerank topK 2, got %d", rr.gotTopK)
	}
	if len(rr.gotDocs) != 3 {
		t.Errorf("expected 3 coalesced documents sent to reranker, got %d", len(rr.gotDocs))
	}
}

func TestEngine_SemanticFailureFallsBackToKeyword(t *testing.T) {
	r := &fakeRetriever{
		semErr: errors.New("vector store down"),
		keyword: []types.Chunk{
			chunk("k1", "u1", "Alpha", "a", 0, 1),
			chunk("k2", "u2", "Beta", "b", 0, 1),
		},
	}
	e := newTestEngine(r, &fakeReranker{})

	out, err := e.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected keyword-only results, got %d", len(out.Results))
	}
	if out.Results[0].Title != "Alpha" {
		t.Errorf("unexpected first result: %s", out.Results[0].Title)
	}
}

func TestEngine_EmbedFailureFallsBackToKeyword(t *testing.T) {
	r := &fakeRetriever{
		keyword: []types.Chunk{chunk("k1", "u1", "Alpha", "a", 0, 1)},
	}
	e := NewEngine(&fakeEmbedder{err: provider.ErrProvider}, &fakeReranker{}, r)

	out, err := e.Search(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if len(out.Results) != 1 {
		t.Errorf("expected 1 keyword result, got %d", len(out.Results))
	}
	if r.semanticK != 0 {
		t.Error("semantic search should not run when embedding fails")
	}
}

func TestEngine_BothBranchesFailReturnsEmptySuccess(t *testing.T) {
	r := &fakeRetriever{
		semErr: errors.New("down"),
		kwErr:  errors.New("down"),
	}
	e := newTestEngine(r, &fakeReranker{})

	out, err := e.Search(context.Background(), "query", 4)
	if err != nil {
		t.Fatalf("expected empty success, got %v", err)
	}
	if len(out.Results) != 0 || len(out.AdditionalURLs) != 0 {
		t.Errorf("expected empty output, got %+v", out)
	}
}

func TestEngine_RerankFailureUsesMergedOrder(t *testing.T) {
	r := &fakeRetriever{
		semantic: []types.Chunk{
			chunk("s1", "u1", "Alpha", "a", 0, 1),
			chunk("s2", "u2", "Beta", "b", 0, 1),
			chunk("s3", "u3", "Gamma", "c", 0, 1),
		},
	}
	e := newTestEngine(r, &fakeReranker{err: provider.ErrProvider})

	out, err := e.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(out.Results))
	}
	if out.Results[0].Title != "Alpha" || out.Results[1].Title != "Beta" {
		t.Errorf("expected merged order, got %s, %s", out.Results[0].Title, out.Results[1].Title)
	}
	if len(out.AdditionalURLs) != 1 || out.AdditionalURLs[0].URL != "u3" {
		t.Errorf("unexpected additional urls: %+v", out.AdditionalURLs)
	}
}

func TestEngine_ResultLengthNeverExceedsResultCount(t *testing.T) {
	var semantic []types.Chunk
	for i := 0; i < 40; i++ {
		title := "T" + strings.Repeat("x", i%7)
		semantic = append(semantic, chunk(
			"s"+strings.Repeat("i", i+1), "u", title, "body", i, 40))
	}
	r := &fakeRetriever{semantic: semantic}
	e := newTestEngine(r, &fakeReranker{})

	for _, count := range []int{1, 3, 7, 10} {
		out, err := e.Search(context.Background(), "q", count)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(out.Results) > count {
			t.Errorf("result_count=%d produced %d results", count, len(out.Results))
		}
	}
}
