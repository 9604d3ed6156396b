// Package dispatch implements the MCP tool surface: the search and
// fetch tools, request governance (rate limiting before any work), and
// post-hoc usage accounting.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appledex/appledex/pkg/governance"
	"github.com/appledex/appledex/pkg/metrics"
	"github.com/appledex/appledex/pkg/search"
	"github.com/appledex/appledex/pkg/types"
)

// defaultResultCount applies when the caller omits result_count or
// passes something that is not a number.
const defaultResultCount = 4

// maxResultCount is the caller-facing cap on result_count.
const maxResultCount = 10

// usageTimeout bounds the fire-and-forget usage-log append.
const usageTimeout = 5 * time.Second

type ctxKey int

const identityCtxKey ctxKey = iota

// WithIdentity attaches a resolved identity to the request context.
func WithIdentity(ctx context.Context, id types.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

// IdentityFromContext returns the resolved identity, or an anonymous
// identity for an unknown caller when none was attached.
func IdentityFromContext(ctx context.Context) types.Identity {
	if id, ok := ctx.Value(identityCtxKey).(types.Identity); ok {
		return id
	}
	return types.Identity{Kind: types.IdentityAnon, UserID: "anon_unknown", Plan: types.PlanHobby}
}

type clientIPKey struct{}

// WithClientIP attaches the resolved client address to the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return "unknown"
}

// SearchEngine runs the hybrid retrieval pipeline.
type SearchEngine interface {
	Search(ctx context.Context, query string, resultCount int) (types.SearchOutput, error)
}

// PageStore assembles full documents by URL.
type PageStore interface {
	GetPageByURL(ctx context.Context, url string) (*types.Document, error)
}

// UsageSink records usage events. Append errors stay inside the sink.
type UsageSink interface {
	AppendEvent(ctx context.Context, ev types.UsageEvent)
}

// RateLimiter gates tool invocations.
type RateLimiter interface {
	Check(ctx context.Context, id types.Identity) governance.Decision
}

// Config holds dispatcher settings.
type Config struct {
	// SubscriptionURL is shown to anonymous callers.
	SubscriptionURL string

	// UpgradeURL is shown to authenticated callers that hit a limit.
	UpgradeURL string
}

// Dispatcher wires the tools to the engine, store, and governance.
type Dispatcher struct {
	engine  SearchEngine
	pages   PageStore
	usage   UsageSink
	limiter RateLimiter
	metrics *metrics.Metrics
	cfg     Config
}

// NewDispatcher builds a dispatcher. metrics may be nil.
func NewDispatcher(engine SearchEngine, pages PageStore, usage UsageSink, limiter RateLimiter, m *metrics.Metrics, cfg Config) *Dispatcher {
	return &Dispatcher{
		engine:  engine,
		pages:   pages,
		usage:   usage,
		limiter: limiter,
		metrics: m,
		cfg:     cfg,
	}
}

// SearchTool describes the search tool.
func SearchTool() mcp.Tool {
	return mcp.NewTool("search",
		mcp.WithDescription(`Search the indexed Apple developer documentation.

Runs semantic and keyword retrieval in parallel, merges the candidates,
and reranks them against the query. Results include source URLs that can
be passed to the fetch tool for the full page.`),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The search query text"),
		),
		mcp.WithNumber("result_count",
			mcp.Description("Number of results to return, 1 to 10 (default: 4)"),
		),
	)
}

// FetchTool describes the fetch tool.
func FetchTool() mcp.Tool {
	return mcp.NewTool("fetch",
		mcp.WithDescription(`Fetch the full text of an indexed documentation page by URL.

Use the Source urls returned by the search tool.`),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The page URL to fetch"),
		),
	)
}

// HandleSearch implements the search tool.
func (d *Dispatcher) HandleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	id := IdentityFromContext(ctx)

	query := request.GetString("query", "")
	cleaned := CleanQuery(query)
	if cleaned != query {
		slog.Info("stripped temporal tokens from query",
			slog.String("original", query),
			slog.String("cleaned", cleaned))
	}
	if cleaned == "" {
		// No event is logged for malformed input.
		d.recordTool("search", "invalid_params")
		return toolError(invalidParams("query must not be empty")), nil
	}

	resultCount := d.resultCount(request)

	if denied, result := d.enforceLimit(ctx, id, types.EventSearch, cleaned, start); denied {
		d.recordTool("search", "rate_limited")
		return result, nil
	}

	out, err := d.engine.Search(ctx, cleaned, resultCount)
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			d.recordTool("search", "invalid_params")
			return toolError(invalidParams("%v", err)), nil
		}
		slog.Error("search pipeline failed", slog.String("error", err.Error()))
		d.emitUsage(ctx, id, types.EventSearch, cleaned, 0, start, 500, "INTERNAL_ERROR")
		d.recordTool("search", "error")
		return toolError(internalError("search failed")), nil
	}

	d.emitUsage(ctx, id, types.EventSearch, cleaned, len(out.Results), start, 200, "")
	d.recordTool("search", "ok")
	if d.metrics != nil {
		d.metrics.RecordSearchResults(len(out.Results))
	}

	text := renderSearch(out, id.IsAnonymous(), d.cfg.SubscriptionURL)
	return mcp.NewToolResultText(text), nil
}

// HandleFetch implements the fetch tool.
func (d *Dispatcher) HandleFetch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	id := IdentityFromContext(ctx)

	normalized, err := NormalizeURL(request.GetString("url", ""))
	if err != nil {
		d.recordTool("fetch", "invalid_params")
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return toolError(rpcErr), nil
		}
		return toolError(invalidParams("%v", err)), nil
	}

	if denied, result := d.enforceLimit(ctx, id, types.EventFetch, normalized, start); denied {
		d.recordTool("fetch", "rate_limited")
		return result, nil
	}

	doc, err := d.pages.GetPageByURL(ctx, normalized)
	if err != nil {
		slog.Error("page lookup failed",
			slog.String("url", normalized),
			slog.String("error", err.Error()))
		d.emitUsage(ctx, id, types.EventFetch, normalized, 0, start, 500, "INTERNAL_ERROR")
		d.recordTool("fetch", "error")
		return toolError(internalError("fetch failed")), nil
	}
	if doc == nil {
		d.emitUsage(ctx, id, types.EventFetch, normalized, 0, start, 404, "NOT_FOUND")
		d.recordTool("fetch", "not_found")
		return toolError(invalidParams("no indexed page for url %s", normalized)), nil
	}

	d.emitUsage(ctx, id, types.EventFetch, normalized, 1, start, 200, "")
	d.recordTool("fetch", "ok")

	text := renderFetch(doc, id.IsAnonymous(), d.cfg.SubscriptionURL)
	return mcp.NewToolResultText(text), nil
}

// resultCount extracts and clamps the result_count argument. Anything
// that is not a JSON number resets to the default.
func (d *Dispatcher) resultCount(request mcp.CallToolRequest) int {
	args := request.GetArguments()
	raw, ok := args["result_count"]
	if !ok {
		return defaultResultCount
	}
	f, ok := raw.(float64)
	if !ok {
		return defaultResultCount
	}
	n := int(f)
	if n < 1 {
		return 1
	}
	if n > maxResultCount {
		return maxResultCount
	}
	return n
}

// enforceLimit runs the rate-limit check. A denial logs a usage event
// with status 429 and returns the rendered denial result.
func (d *Dispatcher) enforceLimit(ctx context.Context, id types.Identity, kind types.EventKind, payload string, start time.Time) (bool, *mcp.CallToolResult) {
	decision := d.limiter.Check(ctx, id)
	if decision.Allowed {
		return false, nil
	}

	if d.metrics != nil {
		d.metrics.RateLimitDenials.WithLabelValues(decision.LimitType).Inc()
	}
	d.emitUsage(ctx, id, kind, payload, 0, start, 429, "RATE_LIMIT_EXCEEDED")

	msg := denialMessage(decision, id.IsAnonymous(), d.cfg.SubscriptionURL, d.cfg.UpgradeURL)
	return true, toolError(rateLimited(msg))
}

// emitUsage appends a usage event in the background. The goroutine
// carries its own timeout so it can outlive the request.
func (d *Dispatcher) emitUsage(ctx context.Context, id types.Identity, kind types.EventKind, payload string, resultCount int, start time.Time, statusCode int, errorCode string) {
	ev := types.UsageEvent{
		Kind:           kind,
		UserID:         id.UserID,
		IP:             clientIPFromContext(ctx),
		TokenPrefix:    id.TokenPrefix,
		Payload:        payload,
		ResultCount:    resultCount,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		StatusCode:     statusCode,
		ErrorCode:      errorCode,
		CreatedAt:      time.Now(),
	}
	go func() {
		uctx, cancel := context.WithTimeout(context.Background(), usageTimeout)
		defer cancel()
		d.usage.AppendEvent(uctx, ev)
	}()
}

// recordTool updates the tool-call counter when metrics are wired.
func (d *Dispatcher) recordTool(tool, outcome string) {
	if d.metrics != nil {
		d.metrics.RecordToolCall(tool, outcome)
	}
}

// toolError renders a structured failure as a tool-result error with
// the stable numeric code attached to the result metadata.
func toolError(err *RPCError) *mcp.CallToolResult {
	result := mcp.NewToolResultError(err.Message)
	result.Meta = &mcp.Meta{AdditionalFields: map[string]any{"code": err.Code}}
	return result
}
