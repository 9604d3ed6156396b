package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/appledex/appledex/pkg/cache"
	"github.com/appledex/appledex/pkg/config"
	"github.com/appledex/appledex/pkg/dispatch"
	"github.com/appledex/appledex/pkg/governance"
	"github.com/appledex/appledex/pkg/identity"
	"github.com/appledex/appledex/pkg/metrics"
	"github.com/appledex/appledex/pkg/provider"
	"github.com/appledex/appledex/pkg/search"
	"github.com/appledex/appledex/pkg/telemetry"
	"github.com/appledex/appledex/pkg/vectorstore"
	pcindex "github.com/appledex/appledex/pkg/vectorstore/pinecone"
	qdindex "github.com/appledex/appledex/pkg/vectorstore/qdrant"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the appledex MCP server",
	Long: `Starts the appledex MCP server over streamable HTTP.

The server exposes two MCP tools:
  search - Hybrid retrieval over the indexed documentation
  fetch  - Full page text by URL

Example:
  appledex serve --port 8080

Endpoints:
  POST /mcp      - MCP streamable HTTP endpoint
  GET  /health   - Health check
  GET  /metrics  - Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "HTTP server port (overrides config)")
	serveCmd.Flags().String("host", "", "HTTP server host (overrides config)")

	_ = viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("serve.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:    cfg.Telemetry.Tracing.Enabled,
		Exporter:   cfg.Telemetry.Tracing.Exporter,
		Endpoint:   cfg.Telemetry.Tracing.Endpoint,
		SampleRate: cfg.Telemetry.Tracing.SampleRate,
		Insecure:   cfg.Telemetry.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()

	// Relational storage
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("postgres DSN required (postgres.dsn or DATABASE_URL)")
	}
	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}

	store, err := identity.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create identity store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Provider key pool: config keys first, stored keys appended.
	keys := cfg.Provider.APIKeys
	if stored, err := store.LoadKeys(ctx); err != nil {
		slog.Warn("failed to load stored provider keys", slog.String("error", err.Error()))
	} else {
		keys = append(keys, stored...)
	}
	if len(keys) == 0 {
		return fmt.Errorf("no provider API keys configured (provider.api_keys or provider_keys table)")
	}
	pool := provider.NewKeyPool(keys, store)

	embedder := provider.NewEmbedder(provider.EmbedConfig{
		BaseURL: cfg.Provider.EmbedBaseURL,
		Model:   cfg.Provider.EmbedModel,
	}, pool)
	reranker := provider.NewReranker(provider.RerankConfig{
		BaseURL: cfg.Provider.RerankBaseURL,
		Model:   cfg.Provider.RerankModel,
	}, pool)

	// Semantic index backend
	var semantic vectorstore.SemanticIndex
	switch cfg.Vector.Backend {
	case "qdrant", "":
		semantic, err = qdindex.NewClient(ctx, qdindex.Config{
			Host:       cfg.Vector.Qdrant.Host,
			GRPCPort:   cfg.Vector.Qdrant.GRPCPort,
			Collection: cfg.Vector.Qdrant.Collection,
			APIKey:     cfg.Vector.Qdrant.APIKey,
			UseTLS:     cfg.Vector.Qdrant.UseTLS,
		})
	case "pinecone":
		semantic, err = pcindex.NewClient(ctx, pcindex.Config{
			APIKey:    cfg.Vector.Pinecone.APIKey,
			IndexName: cfg.Vector.Pinecone.IndexName,
			IndexHost: cfg.Vector.Pinecone.IndexHost,
			Namespace: cfg.Vector.Pinecone.Namespace,
		})
	default:
		return fmt.Errorf("unsupported vector backend: %s (use 'qdrant' or 'pinecone')", cfg.Vector.Backend)
	}
	if err != nil {
		return fmt.Errorf("failed to create semantic index: %w", err)
	}

	vstore, err := vectorstore.New(semantic, db)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vstore.Close() }()

	// Identity cache: Redis when configured, in-process otherwise.
	var idCache cache.Cache
	if cfg.Redis.URL != "" {
		rcfg := cache.DefaultRedisConfig()
		rcfg.URL = cfg.Redis.URL
		rcfg.Password = cfg.Redis.Password
		rcfg.DB = cfg.Redis.DB
		rc, err := cache.NewRedisCache(rcfg)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() { _ = rc.Close() }()
		idCache = rc
	} else {
		mc := cache.NewMemoryCache(cache.DefaultConfig())
		defer func() { _ = mc.Close() }()
		idCache = mc
	}

	resolver := identity.NewResolver(store, idCache)

	// Governance
	loc, err := cfg.Governance.Location()
	if err != nil {
		return fmt.Errorf("invalid governance timezone: %w", err)
	}
	limiter := governance.NewRateLimiter(store, governance.LimitConfig{
		WeekStart: cfg.Governance.WeekStartDay(),
		Location:  loc,
	})
	detector := governance.NewThreatDetector(governance.ThreatConfig{
		MaxRequestsPerMinute: cfg.Governance.MaxRequestsPerMinute,
		WebhookURL:           cfg.Governance.WebhookURL,
	})
	detector.StartSweeper(ctx)

	m := metrics.New()

	engine := search.NewEngine(embedder, reranker, vstore)
	dispatcher := dispatch.NewDispatcher(engine, vstore, store, limiter, m, dispatch.Config{
		SubscriptionURL: cfg.Governance.SubscriptionURL,
		UpgradeURL:      cfg.Governance.UpgradeURL,
	})

	// MCP server
	s := mcpserver.NewMCPServer(
		"appledex",
		"0.1.0",
		mcpserver.WithToolCapabilities(false),
	)
	s.AddTool(dispatch.SearchTool(), dispatcher.HandleSearch)
	s.AddTool(dispatch.FetchTool(), dispatcher.HandleFetch)

	// Identity is resolved once per HTTP request and travels in the
	// request context through to the tool handlers.
	mcpHandler := mcpserver.NewStreamableHTTPServer(s,
		mcpserver.WithStateful(true),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			id := resolver.Resolve(ctx, r)
			ctx = dispatch.WithIdentity(ctx, id)
			return dispatch.WithClientIP(ctx, identity.ClientIP(r))
		}),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","server":"appledex-mcp"}`))
	})
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/mcp", m.Middleware("/mcp", threatMiddleware(detector, m, mcpHandler)))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")

		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(sctx); err != nil {
			slog.Error("server shutdown error", slog.String("error", err.Error()))
		}
		close(done)
	}()

	slog.Info("appledex server starting",
		slog.String("addr", addr),
		slog.String("backend", cfg.Vector.Backend),
		slog.Int("provider_keys", len(keys)))

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	slog.Info("server stopped")
	return nil
}

// threatMiddleware screens every MCP request before it reaches the
// protocol handler. Blocked callers get a bare 429.
func threatMiddleware(d *governance.ThreatDetector, m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := identity.ClientIP(r)
		verdict := d.Check(ip, r.Method, r.URL.String(), r.UserAgent())
		if verdict.Blocked {
			slog.Warn("request blocked",
				slog.String("ip", ip),
				slog.String("reason", verdict.Reason),
				slog.Int("score", verdict.Score))
			m.ThreatBlocks.WithLabelValues(verdict.Kind).Inc()
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
