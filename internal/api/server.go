// Package api is switchyard's authenticated HTTP surface: manual dispatch,
// the completion callback, sweeps, the system pause and the SSE event
// stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/switchyard/internal/auth"
	"github.com/mattjoyce/switchyard/internal/completion"
	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/records"
	"github.com/mattjoyce/switchyard/internal/router"
	"github.com/mattjoyce/switchyard/internal/scheduler"
)

// Router starts dispatches without waiting for them.
type Router interface {
	Route(ctx context.Context, ticketID string, trig router.Trigger) (*router.Pending, error)
}

// Completer applies completion callbacks.
type Completer interface {
	Deliver(ctx context.Context, ticketID string, p completion.Payload) (completion.Applied, error)
}

// Sweeper runs one scheduler sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context) scheduler.SweepReport
}

// Store is the slice of the record store the API reads and writes directly.
type Store interface {
	Ticket(ctx context.Context, id string) (domain.Ticket, error)
	PauseState(ctx context.Context) (records.PauseState, error)
	Pause(ctx context.Context, reason string, until *time.Time) error
	Resume(ctx context.Context) error
}

// SessionLister finds a ticket's session directories.
type SessionLister interface {
	List(ticketKey string) ([]string, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	Tokens []config.APIToken
}

func ConfigFrom(cfg config.APIConfig) Config {
	return Config{Listen: cfg.Listen, Tokens: cfg.Tokens}
}

// Deps are the server's collaborators. Sweeper and Sessions may be nil,
// which disables their endpoints.
type Deps struct {
	Store     Store
	Router    Router
	Completer Completer
	Sweeper   Sweeper
	Sessions  SessionLister
	Events    *events.Hub
}

// Server represents the HTTP API server.
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// jobCtx outlives individual requests; dispatches started through the
	// API run under it.
	jobCtx context.Context
}

func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Events == nil {
		deps.Events = events.NewHub(256)
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
		jobCtx:    context.Background(),
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.jobCtx = ctx
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
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

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeRead)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeRead)).Get("/api/v1/openapi.json", s.handleOpenAPI)

		r.Route("/api/v1/tickets/{ticketID}", func(r chi.Router) {
			r.With(s.requireScopes(auth.ScopeDispatch)).Post("/dispatch", s.handleDispatch)
			r.With(s.requireScopes(auth.ScopeComplete)).Post("/complete", s.handleComplete)
			r.With(s.requireScopes(auth.ScopeRead)).Get("/sessions", s.handleSessions)
		})

		r.With(s.requireScopes(auth.ScopeAdmin)).Post("/api/v1/sweep", s.handleSweep)
		r.With(s.requireScopes(auth.ScopeRead)).Get("/api/v1/system", s.handleSystem)
		r.With(s.requireScopes(auth.ScopeAdmin)).Post("/api/v1/system/pause", s.handlePause)
		r.With(s.requireScopes(auth.ScopeAdmin)).Post("/api/v1/system/resume", s.handleResume)
	})

	return r
}

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
