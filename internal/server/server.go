// Package server assembles the HTTP API: router, middleware stack, and
// listener lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/extrecon/extrecon/internal/errors"
	"github.com/extrecon/extrecon/internal/observability"
	"github.com/extrecon/extrecon/internal/server/handlers"
	"github.com/extrecon/extrecon/internal/server/middleware"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server owns the router and HTTP listener.
type Server struct {
	host   string
	port   int
	router chi.Router
	http   *http.Server

	api       *handlers.API
	apiKey    string
	rateLimit middleware.RateLimitConfig

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// Option customizes server construction.
type Option func(*Server)

// WithAPI mounts the /api/v1 surface.
func WithAPI(api *handlers.API) Option {
	return func(s *Server) { s.api = api }
}

// WithAPIKey enables API-key auth on the /api/v1 surface.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithRateLimit enables per-client throttling on the /api/v1 surface.
func WithRateLimit(cfg middleware.RateLimitConfig) Option {
	return func(s *Server) { s.rateLimit = cfg }
}

// WithTimeouts overrides the listener timeouts.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
		s.idleTimeout = idle
	}
}

// New builds a server bound to host:port. Health and version routes are
// always mounted; the API surface needs WithAPI.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the assembled router, primarily for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured listen port.
func (s *Server) Port() int { return s.port }

// Addr returns the listen address.
func (s *Server) Addr() string { return fmt.Sprintf("%s:%d", s.host, s.port) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.Write(w, http.StatusNotFound, apperrors.HTTPErrorDetail{
			Code:    apperrors.CodeNotFound,
			Message: fmt.Sprintf("no route for %s %s", req.Method, req.URL.Path),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.Write(w, http.StatusMethodNotAllowed, apperrors.HTTPErrorDetail{
			Code:    apperrors.CodeMethodNotAllowed,
			Message: fmt.Sprintf("method %s not allowed for %s", req.Method, req.URL.Path),
		})
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.api != nil {
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.APIKey(s.apiKey))
			r.Use(middleware.RateLimit(s.rateLimit))

			r.Get("/extensions/{store}/{id}", s.api.LookupExtension)
			r.Get("/extensions/{store}/{id}/history", s.api.ExtensionHistory)
			r.Get("/lookup/{id}", s.api.LookupAllStores)
			r.Get("/search", s.api.SearchExtensions)

			r.Post("/jobs", s.api.SubmitJob)
			r.Get("/jobs/{id}", s.api.GetJob)
			r.Get("/jobs/{id}/events", s.api.StreamJobEvents)
			r.Delete("/jobs/{id}", s.api.CancelJob)

			r.Get("/blocklist", s.api.BlocklistStatus)
			r.Post("/blocklist/refresh", s.api.RefreshBlocklist)
			r.Get("/blocklist/{id}", s.api.CheckBlocklist)

			r.Get("/stats", s.api.Stats)
			r.Post("/cache/cleanup", s.api.CleanupCache)
		})
	}

	return r
}

// Start runs the listener until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.CLILogger.Info("http server listening", zap.String("addr", s.Addr()))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
