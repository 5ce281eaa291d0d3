package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"newsdigest/internal/config"
	"newsdigest/internal/logger"
	"newsdigest/internal/metrics"
	"newsdigest/internal/ratelimit"
	"newsdigest/internal/scheduler"
	"newsdigest/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Scheduler is the part of the digest scheduler the API drives
type Scheduler interface {
	StartSchedule(ctx context.Context, hours int) error
	StopSchedule(ctx context.Context)
	ManualTrigger(ctx context.Context) scheduler.TriggerResult
	Status() scheduler.Status
}

// UsageReporter exposes rate-limit usage for the dashboard
type UsageReporter interface {
	Snapshot() []ratelimit.Usage
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	repo       store.Repository
	scheduler  Scheduler
	config     config.Server
	throttle   *ipThrottle
	limits     UsageReporter
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRateLimits adds the limiter's usage to the stats endpoint
func WithRateLimits(u UsageReporter) Option {
	return func(s *Server) { s.limits = u }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a new HTTP server instance
func New(repo store.Repository, sched Scheduler, cfg config.Server, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		repo:      repo,
		scheduler: sched,
		config:    cfg,
		now:       time.Now,
		log:       logger.Get(),
	}
	for _, o := range opts {
		o(s)
	}
	if cfg.TriggerPerHour > 0 {
		s.throttle = newIPThrottle(cfg.TriggerPerHour, s.now)
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/dashboard/stats", s.handleStats)

		r.Route("/digests", func(r chi.Router) {
			r.Get("/", s.handleListDigests)
			r.Get("/{id}", s.handleGetDigest)
		})
		r.With(s.throttleTrigger).Post("/digest/trigger", s.handleTrigger)

		r.Get("/logs", s.handleListSystemLogs)
		r.Get("/email-logs", s.handleListEmailLogs)

		r.Route("/schedule", func(r chi.Router) {
			r.Get("/", s.handleGetSchedule)
			r.Post("/toggle", s.handleToggleSchedule)
			r.Post("/interval", s.handleSetInterval)
		})

		r.Get("/recipients", s.handleGetRecipients)
		r.Post("/recipients", s.handleSetRecipients)

		r.Get("/settings", s.handleListSettings)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		"addr", s.httpServer.Addr,
		"read_timeout", s.config.ReadTimeout,
		"write_timeout", s.config.WriteTimeout,
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
