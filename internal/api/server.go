package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/uplink/internal/auth"
	"github.com/mattjoyce/uplink/internal/events"
	"github.com/mattjoyce/uplink/internal/host"
	"github.com/mattjoyce/uplink/internal/protocol"
	"github.com/mattjoyce/uplink/internal/signals"
	"github.com/mattjoyce/uplink/internal/task"
)

// Dispatcher launches upload jobs. Satisfied by *dispatch.Gateway.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind string, params protocol.Parameters) (string, error)
}

// JobStore reads launch status. Satisfied by *host.Mailbox.
type JobStore interface {
	Get(ctx context.Context, jobID string) (*host.JobRecord, error)
	Depth(ctx context.Context, target string) (int, error)
}

// KindRegistry lists the registered job kinds. Satisfied by *task.Registry.
type KindRegistry interface {
	task.Lookup
	Names() []string
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Namespace is the worker target cancel signals are addressed to.
	Namespace string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	dispatcher Dispatcher
	jobs       JobStore
	kinds      KindRegistry
	sender     signals.Sender
	addressor  *signals.Addressor
	events     *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance
func New(config Config, dispatcher Dispatcher, jobs JobStore, kinds KindRegistry, sender signals.Sender, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		jobs:       jobs,
		kinds:      kinds,
		sender:     sender,
		addressor:  signals.NewAddressor(config.Namespace),
		events:     hub,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
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

// Handler returns the routed handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	authn := auth.NewAuthenticator(s.config.APIKey, s.config.Tokens, s.writeError)
	r.Group(func(r chi.Router) {
		r.With(authn.Require(auth.ScopeUploadsRW)).Post("/uploads/{kind}", s.handleDispatch)
		r.With(authn.Require(auth.ScopeUploadsRW)).Post("/uploads/{jobID}/cancel", s.handleCancel)
		r.With(authn.Require(auth.ScopeUploadsRO)).Get("/uploads/{jobID}", s.handleGetJob)
		r.With(authn.Require(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
