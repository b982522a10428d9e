package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/taku247/omg-tool/internal/aggregator"
	"github.com/taku247/omg-tool/internal/eventstream"
	"github.com/taku247/omg-tool/internal/execution"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/pkg/healthprobe"
	"go.uber.org/zap"
)

// Server provides HTTP endpoints for metrics, health checks, the status API
// and the dashboard event stream.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config holds server configuration. Aggregator, Gate, Coordinator and Hub
// are optional; their routes are only mounted when the component is present.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker
	Aggregator    *aggregator.Manager
	Gate          *risk.Gate
	Coordinator   *execution.Coordinator
	Hub           *eventstream.Hub
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Routes
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	if cfg.Aggregator != nil {
		sh := NewStateHandler(cfg.Aggregator, cfg.Logger)
		r.Get("/api/instruments", sh.HandleInstruments)
		r.Get("/api/state", sh.HandleState)
	}
	if cfg.Gate != nil {
		rh := NewRiskHandler(cfg.Gate, cfg.Logger)
		r.Get("/api/risk", rh.HandleRisk)
	}
	if cfg.Coordinator != nil {
		ph := NewPositionsHandler(cfg.Coordinator, cfg.Logger)
		r.Get("/api/positions", ph.HandlePositions)
	}
	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.ServeWS)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server: server,
		logger: cfg.Logger,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
// This is a blocking call that returns when the server stops or encounters an error.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}
