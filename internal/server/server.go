package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/gearbox-ai/gearbox/internal/auth"
	"github.com/gearbox-ai/gearbox/internal/engine"
	"github.com/gearbox-ai/gearbox/internal/llm"
	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/ratelimit"
	"github.com/gearbox-ai/gearbox/internal/storage"
)

// Server is the Gearbox HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional (nil-safe): Embedder, Broker, Limiter, MCPServer.
type ServerConfig struct {
	DB          *storage.DB
	JWTMgr      *auth.JWTManager
	Coordinator *engine.Coordinator
	Logger      *slog.Logger

	Embedder  llm.Embedder
	Broker    *Broker
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	DefaultStrategy     string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Coordinator:         cfg.Coordinator,
		Embedder:            cfg.Embedder,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		DefaultStrategy:     cfg.DefaultStrategy,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	actorRL := func(next http.Handler) http.Handler {
		return rateLimitMiddleware(limiter, actorKeyFunc, next)
	}
	ipRL := func(next http.Handler) http.Handler {
		return rateLimitMiddleware(limiter, ipKeyFunc, next)
	}

	mux := http.NewServeMux()

	// Token issuance (no auth, rate limited by IP).
	mux.Handle("POST /auth/token", ipRL(http.HandlerFunc(h.HandleAuthToken)))

	// Actor management (admin only).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/actors", adminOnly(http.HandlerFunc(h.HandleCreateActor)))

	// Run execution (agent+, rate limited per actor).
	writeRole := requireRole(model.RoleAgent)
	mux.Handle("POST /v1/runs", actorRL(writeRole(http.HandlerFunc(h.HandleStartRun))))

	// Run inspection (reader+).
	readRole := requireRole(model.RoleReader)
	mux.Handle("GET /v1/runs", actorRL(readRole(http.HandlerFunc(h.HandleListRuns))))
	mux.Handle("GET /v1/runs/{run_id}", actorRL(readRole(http.HandlerFunc(h.HandleGetRun))))
	mux.Handle("GET /v1/runs/{run_id}/events", actorRL(readRole(http.HandlerFunc(h.HandleListEvents))))
	mux.Handle("POST /v1/runs/similar", actorRL(readRole(http.HandlerFunc(h.HandleSimilarRuns))))

	// Live tail (reader+, no rate limit for the long-lived connection).
	mux.Handle("GET /v1/subscribe", readRole(http.HandlerFunc(h.HandleSubscribe)))

	// MCP StreamableHTTP transport (reader+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
