// Package telemetry provides OpenTelemetry distributed tracing for
// appledex. It instruments the retrieval pipeline with spans for each
// stage, supports W3C Trace Context propagation, and exports to OTLP
// or stdout.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/appledex/appledex"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	// 1.0 = sample everything, 0.1 = sample 10%.
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "appledex",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes appledex-specific helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		// Return a no-op provider
		return &Provider{
			tracer: trace.NewNoopTracerProvider().Tracer(tracerName),
		}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return &Provider{
			tracer: trace.NewNoopTracerProvider().Tracer(tracerName),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global provider and propagator
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the appledex tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// --- Span helpers for pipeline stages ---

// StartRequest creates a root span for an incoming MCP tool call.
func (p *Provider) StartRequest(ctx context.Context, tool string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "appledex.request",
		trace.WithAttributes(attribute.String("appledex.tool", tool)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartEmbedding creates a span for query embedding generation.
func (p *Provider) StartEmbedding(ctx context.Context, queryLen int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "appledex.embedding",
		trace.WithAttributes(attribute.Int("appledex.embedding.query_len", queryLen)),
	)
}

// StartRetrieval creates a span for one retrieval branch.
func (p *Provider) StartRetrieval(ctx context.Context, branch string, poolSize int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "appledex.retrieval",
		trace.WithAttributes(
			attribute.String("appledex.retrieval.branch", branch),
			attribute.Int("appledex.retrieval.pool_size", poolSize),
		),
	)
}

// StartMerge creates a span for candidate merging and title coalescing.
func (p *Provider) StartMerge(ctx context.Context, candidateCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "appledex.merge",
		trace.WithAttributes(attribute.Int("appledex.merge.candidate_count", candidateCount)),
	)
}

// StartRerank creates a span for external reranking.
func (p *Provider) StartRerank(ctx context.Context, groupCount, resultCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "appledex.rerank",
		trace.WithAttributes(
			attribute.Int("appledex.rerank.group_count", groupCount),
			attribute.Int("appledex.rerank.result_count", resultCount),
		),
	)
}

// StartFetch creates a span for a page fetch by URL.
func (p *Provider) StartFetch(ctx context.Context, url string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "appledex.fetch",
		trace.WithAttributes(attribute.String("appledex.fetch.url", url)),
	)
}

// StartCacheLookup creates a span for a cache lookup.
func (p *Provider) StartCacheLookup(ctx context.Context, key string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "appledex.cache.lookup",
		trace.WithAttributes(attribute.String("appledex.cache.key", key)),
	)
}

// RecordResult adds result attributes to a span.
func RecordResult(span trace.Span, candidateCount, resultCount int, latency time.Duration) {
	span.SetAttributes(
		attribute.Int("appledex.result.candidate_count", candidateCount),
		attribute.Int("appledex.result.result_count", resultCount),
		attribute.Int64("appledex.result.latency_ms", latency.Milliseconds()),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
