// Package qdrant implements the semantic index over a Qdrant collection.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/appledex/appledex/pkg/types"
)

// Config holds Qdrant connection settings.
type Config struct {
	// Host is the Qdrant endpoint host
	Host string

	// Collection is the collection holding the documentation chunks
	Collection string

	// APIKey for authenticated deployments (optional)
	APIKey string

	// UseTLS enables TLS for the connection
	UseTLS bool

	// GRPCPort is the gRPC port (default: 6334)
	GRPCPort int
}

// Client queries a Qdrant collection of L2-normalized chunk vectors.
type Client struct {
	cfg    Config
	conn   *grpc.ClientConn
	points pb.PointsClient
}

// NewClient connects to Qdrant.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if cfg.GRPCPort <= 0 {
		cfg.GRPCPort = 6334
	}

	var opts []grpc.DialOption
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.GRPCPort)
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", addr, err)
	}

	return &Client{
		cfg:    cfg,
		conn:   conn,
		points: pb.NewPointsClient(conn),
	}, nil
}

// SemanticSearch returns the k nearest chunks by cosine distance,
// closest first.
func (c *Client) SemanticSearch(ctx context.Context, vec []float32, k int) ([]types.Chunk, error) {
	if k <= 0 {
		k = 10
	}
	if c.cfg.APIKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", c.cfg.APIKey)
	}

	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: c.cfg.Collection,
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	chunks := make([]types.Chunk, 0, len(resp.Result))
	for _, point := range resp.Result {
		chunk := types.Chunk{TotalChunks: 1}

		if point.Id != nil {
			switch id := point.Id.PointIdOptions.(type) {
			case *pb.PointId_Num:
				chunk.ID = fmt.Sprintf("%d", id.Num)
			case *pb.PointId_Uuid:
				chunk.ID = id.Uuid
			}
		}

		applyPayload(&chunk, point.Payload)
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// applyPayload maps the point payload onto the chunk fields.
func applyPayload(chunk *types.Chunk, payload map[string]*pb.Value) {
	if payload == nil {
		return
	}
	if v := payload["url"]; v != nil {
		chunk.URL = v.GetStringValue()
	}
	if v := payload["title"]; v != nil {
		chunk.Title = v.GetStringValue()
	}
	if v := payload["content"]; v != nil {
		chunk.Content = v.GetStringValue()
	} else if v := payload["text"]; v != nil {
		chunk.Content = v.GetStringValue()
	}
	if v := payload["chunk_index"]; v != nil {
		chunk.ChunkIndex = int(v.GetIntegerValue())
	}
	if v := payload["total_chunks"]; v != nil {
		if n := int(v.GetIntegerValue()); n > 0 {
			chunk.TotalChunks = n
		}
	}
}
