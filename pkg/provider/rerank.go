package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

const (
	defaultRerankBaseURL = "https://api.cohere.com/v1"
	defaultRerankModel   = "rerank-english-v3.0"
)

// RerankConfig holds reranker client configuration.
type RerankConfig struct {
	// BaseURL is the API base URL (default: https://api.cohere.com/v1)
	BaseURL string

	// Model is the rerank model identifier
	Model string
}

// RankedDoc is one reranker verdict: the index into the input document
// slice and its relevance score.
type RankedDoc struct {
	Index int
	Score float64
}

// Reranker re-orders a candidate set against a query via the external
// rerank provider, under the same key failover policy as the embedder.
type Reranker struct {
	cfg        RerankConfig
	pool       *KeyPool
	httpClient *http.Client
}

// NewReranker creates a rerank client over the given key pool.
func NewReranker(cfg RerankConfig, pool *KeyPool) *Reranker {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRerankBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultRerankModel
	}
	return &Reranker{
		cfg:        cfg,
		pool:       pool,
		httpClient: &http.Client{Timeout: attemptTimeout + time.Second},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores documents against query and returns min(topK, len(documents))
// entries ordered by descending score, ties broken by ascending index.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RankedDoc, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}

	reqJSON, err := json.Marshal(rerankRequest{
		Model:     r.cfg.Model,
		Query:     query,
		Documents: documents,
		TopN:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var ranked []RankedDoc
	err = doWithFailover(ctx, r.pool, func(ctx context.Context, key string) error {
		resp, err := r.doRequest(ctx, key, reqJSON)
		if err != nil {
			return err
		}
		ranked = ranked[:0]
		for _, res := range resp.Results {
			if res.Index < 0 || res.Index >= len(documents) {
				continue
			}
			ranked = append(ranked, RankedDoc{Index: res.Index, Score: res.RelevanceScore})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Index < ranked[j].Index
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// ModelName returns the configured model identifier.
func (r *Reranker) ModelName() string {
	return r.cfg.Model
}

func (r *Reranker) doRequest(ctx context.Context, key string, body []byte) (*rerankResponse, error) {
	url := r.cfg.BaseURL + "/rerank"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{status: resp.StatusCode, body: string(respBody)}
	}

	var rr rerankResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &rr, nil
}
