package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/forkpool/internal/metrics"
	"github.com/mattjoyce/forkpool/internal/pool"
)

// StatusSource reports the state of the running pool.
type StatusSource interface {
	Status() pool.Status
}

// Config holds API server configuration
type Config struct {
	Listen string
}

// Server serves run status while a pool is up.
type Server struct {
	config    Config
	pool      StatusSource
	journal   *sql.DB
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. journal may be nil when runs are not persisted.
func New(config Config, pool StatusSource, journal *sql.DB, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		pool:      pool,
		journal:   journal,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{runID}", s.handleGetRun)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
