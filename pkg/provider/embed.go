package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultEmbedBaseURL = "https://api.openai.com/v1"
	defaultEmbedModel   = "text-embedding-3-small"
)

// EmbedConfig holds embedding client configuration.
type EmbedConfig struct {
	// BaseURL is the API base URL (default: https://api.openai.com/v1)
	BaseURL string

	// Model is the embedding model identifier, passed through verbatim
	Model string
}

// Embedder converts query text into an L2-normalized vector via the
// external embedding provider.
type Embedder struct {
	cfg        EmbedConfig
	pool       *KeyPool
	httpClient *http.Client
}

// NewEmbedder creates an embedding client over the given key pool.
func NewEmbedder(cfg EmbedConfig, pool *KeyPool) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEmbedBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultEmbedModel
	}
	return &Embedder{
		cfg:  cfg,
		pool: pool,
		// Per-attempt deadlines come from the failover loop.
		httpClient: &http.Client{Timeout: attemptTimeout + time.Second},
	}
}

// embedRequest is the provider request body.
type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// embedResponse is the provider response body.
type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed converts text into a unit-norm vector. Input must be non-empty
// after trimming.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	reqJSON, err := json.Marshal(embedRequest{Input: []string{text}, Model: e.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var vector []float32
	err = doWithFailover(ctx, e.pool, func(ctx context.Context, key string) error {
		resp, err := e.doRequest(ctx, key, reqJSON)
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("%w: no embedding returned", ErrProvider)
		}
		vector = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}

	Normalize(vector)
	return vector, nil
}

// ModelName returns the configured model identifier.
func (e *Embedder) ModelName() string {
	return e.cfg.Model
}

func (e *Embedder) doRequest(ctx context.Context, key string, body []byte) (*embedResponse, error) {
	url := e.cfg.BaseURL + "/embeddings"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := e.httpClient.Do(req)
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

	var embResp embedResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &embResp, nil
}

// Normalize scales v to unit Euclidean norm in place. A zero vector is
// left untouched.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
