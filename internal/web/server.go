// Package web provides the HTTP API for parsing, validating and submitting
// order files to Cin7.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/JonMunkholm/cin7sync/internal/cin7"
	"github.com/JonMunkholm/cin7sync/internal/config"
	"github.com/JonMunkholm/cin7sync/internal/jobs"
	"github.com/JonMunkholm/cin7sync/internal/store"
	"github.com/JonMunkholm/cin7sync/internal/submit"
	"github.com/JonMunkholm/cin7sync/internal/validate"
	mw "github.com/JonMunkholm/cin7sync/internal/web/middleware"
)

// JobService is the slice of *jobs.Service the handlers use.
type JobService interface {
	Start(ctx context.Context, req jobs.Request) (jobs.Progress, error)
	Progress(id uuid.UUID) (jobs.Progress, error)
	Subscribe(id uuid.UUID) (<-chan jobs.Progress, error)
	Validate(ctx context.Context, req jobs.ValidateRequest) (validate.BatchResult, error)
	Retry(ctx context.Context, resultID uuid.UUID) (*submit.OrderResult, error)
	Upload(ctx context.Context, id uuid.UUID) (store.Upload, error)
	Results(ctx context.Context, uploadID uuid.UUID, status string) ([]store.Result, error)
	Ping(ctx context.Context) (cin7.Response, error)
	LimiterStatus() jobs.LimiterStatus
}

// Server is the HTTP server for the order import API.
type Server struct {
	jobs    JobService
	cfg     *config.Config
	metrics http.Handler
	logger  *slog.Logger
	router  *chi.Mux
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new Server instance.
func NewServer(svc JobService, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		jobs:   svc,
		cfg:    cfg,
		logger: slog.Default(),
		router: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.WithLogger(s.logger))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
	s.router.Use(mw.RateLimit(s.cfg.Server.RateLimit))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))

		// File handling
		r.Post("/parse", s.handleParse)
		r.Post("/validate", s.handleValidate)

		// Submission jobs
		r.Post("/submit", s.handleSubmit)
		r.Get("/jobs/{jobID}", s.handleJobProgress)
		r.Get("/jobs/{jobID}/events", s.handleJobEvents)

		// Stored results
		r.Get("/uploads/{uploadID}", s.handleUpload)
		r.Get("/uploads/{uploadID}/results", s.handleResults)
		r.Post("/results/{resultID}/retry", s.handleRetry)

		// Connectivity
		r.Get("/ping", s.handlePing)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}

	s.logger.Info("starting server", "addr", sc.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status string             `json:"status"`
	Time   time.Time          `json:"time"`
	Jobs   jobs.LimiterStatus `json:"jobs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, healthResponse{
		Status: "ok",
		Time:   time.Now().UTC(),
		Jobs:   s.jobs.LimiterStatus(),
	})
}
