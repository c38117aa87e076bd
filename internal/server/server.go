// Package server exposes health, Prometheus metrics, the submission journal
// and the audit log over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/convbot/internal/server/handler"
	"github.com/alanyoungcy/convbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr string
	// APIKey protects /api routes. Empty disables authentication.
	APIKey string
}

// Handlers groups the route handlers. Submissions and Audit may be nil.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Submissions *handler.SubmissionHandler
	Audit       *handler.AuditHandler
}

// Server is the operator HTTP endpoint.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New registers the routes. /health and /metrics are never authenticated.
func New(cfg Config, h Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", h.Status.GetStatus)
	if h.Submissions != nil {
		api.HandleFunc("GET /api/submissions", h.Submissions.List)
	}
	if h.Audit != nil {
		api.HandleFunc("GET /api/audit", h.Audit.List)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/api/", middleware.Auth(cfg.APIKey)(api))

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      middleware.Logging(logger)(mux),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
