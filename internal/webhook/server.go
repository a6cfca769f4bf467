package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/switchyard/internal/cooldown"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/router"
)

var mentionPattern = regexp.MustCompile(`(?:^|[^\w@.])@([A-Za-z0-9][A-Za-z0-9_.-]*)`)

// mentions returns the distinct @names in body, first spelling wins.
func mentions(body string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(body, -1) {
		name := strings.TrimRight(m[1], ".-")
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

// Server represents the webhook HTTP server.
type Server struct {
	config Config
	router Router
	logger *slog.Logger
	server *http.Server

	// endpoints maps URL paths to their configurations
	endpoints map[string]*EndpointConfig

	jobCtx context.Context
}

func New(config Config, r Router, logger *slog.Logger) *Server {
	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		if ep.Name == "" {
			ep.Name = ep.Path
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    config,
		router:    r,
		logger:    logger.With("component", "webhook"),
		endpoints: endpoints,
		jobCtx:    context.Background(),
	}
}

// Start serves until ctx is cancelled. Dispatches started by webhooks run
// under ctx.
func (s *Server) Start(ctx context.Context) error {
	s.jobCtx = ctx
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}
	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := verify(body, r.Header.Get(endpoint.SignatureHeader), endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature rejected", "endpoint", endpoint.Name, "header", endpoint.SignatureHeader)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	var ev CommentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ev.TicketID = strings.TrimSpace(ev.TicketID)
	if ev.TicketID == "" {
		s.respondError(w, http.StatusBadRequest, "ticketId is required")
		return
	}

	resp := TriggerResponse{TicketID: ev.TicketID, Triggers: []RoutedTrigger{}}
	if strings.EqualFold(ev.Author, router.AckAuthor) {
		s.respondJSON(w, http.StatusOK, resp)
		return
	}

	triggers := s.triggers(ev, endpoint)
	if len(triggers) == 0 {
		s.respondJSON(w, http.StatusOK, resp)
		return
	}

	logger := s.logger.With("endpoint", endpoint.Name, "ticket_id", ev.TicketID)
	for _, trig := range triggers {
		rt := RoutedTrigger{Mention: trig.Mention, Kind: string(trig.Kind)}
		pending, err := s.router.Route(s.jobCtx, ev.TicketID, trig)
		if errors.Is(err, domain.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "ticket not found")
			return
		}
		if err != nil {
			logger.Error("webhook trigger not routed", "mention", trig.Mention, "error", err)
			rt.Error = err.Error()
			resp.Triggers = append(resp.Triggers, rt)
			continue
		}
		out := pending.Planned()
		rt.Skipped = string(out.Skipped)
		for _, t := range out.Launched() {
			rt.Personas = append(rt.Personas, t.Persona.ID)
		}
		resp.Triggers = append(resp.Triggers, rt)
	}
	logger.Info("webhook comment routed", "triggers", len(resp.Triggers))
	s.respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) triggers(ev CommentEvent, ep *EndpointConfig) []router.Trigger {
	kind := cooldown.Mention
	if ev.Urgent {
		kind = cooldown.Urgent
	}
	base := router.Trigger{Kind: kind, Message: ev.Body, Source: "webhook:" + ep.Name}

	names := mentions(ev.Body)
	if len(names) == 0 {
		if ev.Urgent {
			return []router.Trigger{base}
		}
		return nil
	}
	out := make([]router.Trigger, 0, len(names))
	for _, name := range names {
		if strings.EqualFold(name, ev.Author) {
			continue
		}
		trig := base
		trig.Mention = name
		out = append(out, trig)
	}
	return out
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
