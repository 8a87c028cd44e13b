// Package server exposes the read-only HTTP and WebSocket API over the
// running engine: health, status, opportunities, positions, instruments,
// the audit trail, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/updownhft/updownbot/internal/domain"
	"github.com/updownhft/updownbot/internal/server/handler"
	"github.com/updownhft/updownbot/internal/server/middleware"
	"github.com/updownhft/updownbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// RateLimit requests per client IP per RateWindow; zero disables.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers the server registers. Nil entries
// leave their routes unregistered, so storeless modes still serve the rest.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Opportunities *handler.OpportunityHandler
	Positions     *handler.PositionHandler
	Instruments   *handler.InstrumentHandler
	Audit         *handler.AuditHandler
	Archive       *handler.ArchiveHandler
}

// Server is the headless HTTP and WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. limiter
// may be nil when no distributed rate limiter is configured.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Liveness, readiness, and metrics skip authentication.
	if handlers.Health != nil {
		mux.HandleFunc("GET /healthz", handlers.Health.Healthz)
		mux.HandleFunc("GET /readyz", handlers.Health.Readyz)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	api := http.NewServeMux()
	if handlers.Status != nil {
		api.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}
	if handlers.Opportunities != nil {
		api.HandleFunc("GET /api/opportunities", handlers.Opportunities.ListRecent)
	}
	if handlers.Positions != nil {
		api.HandleFunc("GET /api/positions", handlers.Positions.ListOpen)
		api.HandleFunc("GET /api/positions/history", handlers.Positions.ListHistory)
		api.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	}
	if handlers.Instruments != nil {
		api.HandleFunc("GET /api/instruments", handlers.Instruments.ListActive)
		api.HandleFunc("GET /api/instruments/{id}", handlers.Instruments.GetInstrument)
	}
	if handlers.Audit != nil {
		api.HandleFunc("GET /api/audit", handlers.Audit.List)
	}
	if handlers.Archive != nil {
		api.HandleFunc("GET /api/archive", handlers.Archive.List)
		api.HandleFunc("GET /api/archive/{kind}/{name}", handlers.Archive.Download)
	}
	if hub != nil {
		api.HandleFunc("GET /ws", hub.HandleWS)
	}

	var protected http.Handler = api
	protected = middleware.Auth(cfg.APIKey)(protected)
	if limiter != nil && cfg.RateLimit > 0 {
		protected = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(protected)
	}
	mux.Handle("/api/", protected)
	mux.Handle("/ws", protected)

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start listens until the server errors or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
