package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/gearbox-ai/gearbox/internal/auth"
	"github.com/gearbox-ai/gearbox/internal/config"
	"github.com/gearbox-ai/gearbox/internal/engine"
	"github.com/gearbox-ai/gearbox/internal/llm"
	"github.com/gearbox-ai/gearbox/internal/mcp"
	"github.com/gearbox-ai/gearbox/internal/ratelimit"
	"github.com/gearbox-ai/gearbox/internal/server"
	"github.com/gearbox-ai/gearbox/internal/storage"
	"github.com/gearbox-ai/gearbox/internal/strategy"
	"github.com/gearbox-ai/gearbox/internal/telemetry"
	"github.com/gearbox-ai/gearbox/internal/tool"
	"github.com/gearbox-ai/gearbox/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("GEARBOX_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("gearbox starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	// Register connection pool OTEL metrics (after telemetry.Init).
	db.RegisterPoolMetrics()

	// Run embedded migrations. RunMigrations tracks applied files in
	// schema_migrations and skips duplicates, so errors here indicate
	// real failures (not "already exists").
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		slog.Warn("migrations failed", "error", err)
	}

	// Verify critical tables exist after migration. If the pgvector
	// extension failed to create, migrations fail and the server would
	// start with no tables. Catch this early.
	if err := db.VerifySchema(ctx); err != nil {
		return err
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Create the LLM provider (completion + embeddings).
	completer, embedder := newLLMProvider(cfg, logger)

	// Create the outbound messenger.
	var messenger tool.Messenger
	if cfg.SMTPHost != "" {
		messenger = &tool.SMTPMessenger{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}
		logger.Info("messenger: smtp", "host", cfg.SMTPHost)
	} else {
		messenger = &tool.LogMessenger{Logger: logger}
		logger.Info("messenger: log only (no GEARBOX_SMTP_HOST)")
	}

	// Register the built-in tools.
	tools := tool.NewRegistry()
	tool.RegisterShopTools(tools, db, messenger)

	// Register planner strategies.
	strategies := strategy.NewRegistry()
	strategies.Register(&strategy.Simple{Tools: tools})
	strategies.Register(&strategy.OpenAI{Tools: tools, Completer: completer, MaxSteps: cfg.MaxStrategySteps})
	strategies.Register(&strategy.Fleet{Tools: tools})
	strategies.Register(&strategy.Approvals{Tools: tools})

	// Create the run coordinator.
	coordinator := engine.New(db, strategies, logger)

	// Create MCP server.
	mcpSrv := mcp.New(db, embedder, logger, version)

	// Create SSE broker (requires LISTEN/NOTIFY connection).
	var broker *server.Broker
	if db.NotifyConn() != nil {
		broker = server.NewBroker(db, logger)
		go broker.Start(ctx)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	// Create rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemory(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer limiter.Close()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.Noop{}
		logger.Info("rate limiting: disabled")
	}

	// Create and start HTTP server (MCP mounted at /mcp).
	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Coordinator:         coordinator,
		Embedder:            embedder,
		Broker:              broker,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		DefaultStrategy:     cfg.DefaultStrategy,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Seed the initial admin actor.
	if err := srv.Handlers().SeedAdmin(ctx, cfg.AdminAPIKey); err != nil {
		slog.Warn("admin seed failed", "error", err)
	}

	// Serve until the context is cancelled or the listener fails. The
	// shutdown goroutine drains in-flight requests; runs already executing
	// finish against the detached execution context and record their
	// terminal event before the pool closes on defer.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("gearbox shutting down")
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()
		return srv.Shutdown(httpCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("gearbox stopped")
	return nil
}

// newLLMProvider creates the completion and embedding clients based on
// configuration. Provider selection: "openai", "noop", or "auto" (default,
// OpenAI when a key is present, else noop). Noop keeps the simple, fleet,
// and approvals strategies fully functional; only the openai strategy and
// semantic search degrade.
func newLLMProvider(cfg config.Config, logger *slog.Logger) (llm.Completer, llm.Embedder) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when GEARBOX_LLM_PROVIDER=openai")
			return llm.NoopCompleter{}, llm.NewNoopEmbedder(cfg.EmbeddingDimensions)
		}
		logger.Info("llm provider: openai",
			"completion_model", cfg.CompletionModel,
			"embedding_model", cfg.EmbeddingModel,
			"dimensions", cfg.EmbeddingDimensions)
		client := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.CompletionModel, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		return client, client

	case "noop":
		logger.Info("llm provider: noop (openai strategy and semantic search disabled)")
		return llm.NoopCompleter{}, llm.NewNoopEmbedder(cfg.EmbeddingDimensions)

	default: // "auto"
		if cfg.OpenAIAPIKey != "" {
			logger.Info("llm provider: openai (auto-detected)",
				"completion_model", cfg.CompletionModel,
				"embedding_model", cfg.EmbeddingModel,
				"dimensions", cfg.EmbeddingDimensions)
			client := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.CompletionModel, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
			return client, client
		}
		logger.Warn("no OPENAI_API_KEY, using noop llm provider")
		return llm.NoopCompleter{}, llm.NewNoopEmbedder(cfg.EmbeddingDimensions)
	}
}
