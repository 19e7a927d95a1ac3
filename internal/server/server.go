// Package server exposes the entity API, the event WebSocket and the metrics
// endpoint over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/server/handler"
	"github.com/alanyoungcy/swapengine/internal/server/middleware"
	"github.com/alanyoungcy/swapengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // comma separated; empty disables authentication
	// RateLimiter is optional; nil disables per-client limiting.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Entity  *handler.EntityHandler
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Health and metrics
// stay outside auth and rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	api := http.NewServeMux()
	api.HandleFunc("POST /api/entities", handlers.Entity.Create)
	api.HandleFunc("GET /api/swaps/{id}", handlers.Entity.GetSwap)
	api.HandleFunc("GET /api/users/{userId}/swaps", handlers.Entity.ListUserSwaps)
	api.HandleFunc("PUT /api/users/{userId}/contact", handlers.Entity.PutContact)
	api.HandleFunc("GET /api/dca/{id}", handlers.Entity.GetDCA)
	api.HandleFunc("POST /api/dca/{id}/resume", handlers.Entity.ResumeDCA)
	api.HandleFunc("GET /api/limit-orders/{id}", handlers.Entity.GetLimitOrder)
	api.HandleFunc("GET /api/alerts/{id}", handlers.Entity.GetAlert)
	api.HandleFunc("POST /api/{kind}/{id}/cancel", handlers.Entity.Cancel)
	if wsHub != nil {
		api.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var protected http.Handler = api
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		protected = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow)(protected)
	}
	protected = middleware.Auth(cfg.APIKey)(protected)

	root := http.NewServeMux()
	root.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		root.Handle("GET /metrics", handlers.Metrics)
	}
	root.Handle("/", protected)

	var h http.Handler = root
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return ctx.Err()
}

// Name identifies the server among the orchestrator's runners.
func (s *Server) Name() string { return "http" }
