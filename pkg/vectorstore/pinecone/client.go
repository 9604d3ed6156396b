// Package pinecone implements the semantic index over a Pinecone index.
package pinecone

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/v3/pinecone"

	"github.com/appledex/appledex/pkg/types"
)

// Config holds Pinecone connection settings.
type Config struct {
	// APIKey for authentication (required)
	APIKey string

	// IndexName is the Pinecone index to query
	IndexName string

	// IndexHost is the direct host URL (optional, resolved from IndexName)
	IndexHost string

	// Namespace scopes queries (optional)
	Namespace string
}

// Client queries a Pinecone index of L2-normalized chunk vectors.
type Client struct {
	cfg     Config
	pc      *pinecone.Client
	idxConn *pinecone.IndexConnection
}

// NewClient connects to Pinecone and resolves the index host.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.IndexName == "" && cfg.IndexHost == "" {
		return nil, fmt.Errorf("index name or host is required")
	}

	pc, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	host := cfg.IndexHost
	if host == "" {
		idx, err := pc.DescribeIndex(ctx, cfg.IndexName)
		if err != nil {
			return nil, fmt.Errorf("failed to describe index %q: %w", cfg.IndexName, err)
		}
		host = idx.Host
	}

	idxConn, err := pc.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index: %w", err)
	}

	return &Client{cfg: cfg, pc: pc, idxConn: idxConn}, nil
}

// SemanticSearch returns the k nearest chunks by dot product on the
// normalized vectors, closest first.
func (c *Client) SemanticSearch(ctx context.Context, vec []float32, k int) ([]types.Chunk, error) {
	if k <= 0 {
		k = 10
	}

	resp, err := c.idxConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vec,
		TopK:            uint32(k),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	chunks := make([]types.Chunk, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		chunk := types.Chunk{ID: match.Vector.Id, TotalChunks: 1}
		if match.Vector.Metadata != nil {
			applyMetadata(&chunk, match.Vector.Metadata.AsMap())
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Close releases the index connection.
func (c *Client) Close() error {
	if c.idxConn != nil {
		return c.idxConn.Close()
	}
	return nil
}

// applyMetadata maps vector metadata onto the chunk fields.
func applyMetadata(chunk *types.Chunk, meta map[string]interface{}) {
	if s, ok := meta["url"].(string); ok {
		chunk.URL = s
	}
	if s, ok := meta["title"].(string); ok {
		chunk.Title = s
	}
	if s, ok := meta["content"].(string); ok {
		chunk.Content = s
	} else if s, ok := meta["text"].(string); ok {
		chunk.Content = s
	}
	// Pinecone numeric metadata arrives as float64.
	if f, ok := meta["chunk_index"].(float64); ok {
		chunk.ChunkIndex = int(f)
	}
	if f, ok := meta["total_chunks"].(float64); ok && f > 0 {
		chunk.TotalChunks = int(f)
	}
}
