package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/switchyard/internal/auth"
	"github.com/mattjoyce/switchyard/internal/completion"
	"github.com/mattjoyce/switchyard/internal/cooldown"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/records"
	"github.com/mattjoyce/switchyard/internal/router"
)

const maxBodyBytes = 4 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	pause, err := s.deps.Store.PauseState(r.Context())
	if err != nil {
		s.logger.Error("failed to read pause state", "error", err)
		resp.Status = "degraded"
	}
	resp.Paused = pause.Paused
	respondJSON(w, http.StatusOK, resp)
}

// handleDispatch handles POST /api/v1/tickets/{ticketID}/dispatch.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")

	var req DispatchRequest
	if !s.decodeBody(w, r, &req, false) {
		return
	}

	trig, err := triggerFrom(req)
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	trig.Source = "api:" + principal.Name

	// Jobs outlive the request.
	pending, err := s.deps.Router.Route(s.jobCtx, ticketID, trig)
	if err != nil {
		s.writeError(w, err)
		return
	}

	planned := pending.Planned()
	if !req.Wait || len(planned.Launched()) == 0 {
		status := http.StatusAccepted
		if len(planned.Launched()) == 0 {
			status = http.StatusOK
		}
		respondJSON(w, status, newDispatchResponse(planned, len(planned.Launched()) == 0))
		return
	}

	done := make(chan router.Outcome, 1)
	go func() { done <- pending.Wait() }()
	select {
	case out := <-done:
		respondJSON(w, http.StatusOK, newDispatchResponse(out, true))
	case <-r.Context().Done():
		s.logger.Info("client left before dispatch finished", "ticket_id", ticketID)
	}
}

func triggerFrom(req DispatchRequest) (router.Trigger, error) {
	trig := router.Trigger{
		PersonaID:   strings.TrimSpace(req.PersonaID),
		Mention:     strings.TrimPrefix(strings.TrimSpace(req.Mention), "@"),
		Broadcast:   req.Broadcast,
		Message:     req.Message,
		SuppressAck: req.SuppressAck,
		Kind:        cooldown.Auto,
	}
	// Addressing someone by name asks for a reply, not a phase artifact.
	if trig.PersonaID != "" || trig.Mention != "" {
		trig.Kind = cooldown.Mention
	}
	if req.Kind != "" {
		kind, err := cooldown.ParseKind(req.Kind)
		if err != nil {
			return router.Trigger{}, err
		}
		trig.Kind = kind
	}
	if req.Role != "" {
		role, err := domain.ParseRole(req.Role)
		if err != nil {
			return router.Trigger{}, err
		}
		trig.Role = role
	}
	return trig, nil
}

// handleComplete handles POST /api/v1/tickets/{ticketID}/complete.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")

	var p completion.Payload
	if !s.decodeBody(w, r, &p, true) {
		return
	}
	if strings.TrimSpace(p.PersonaID) == "" {
		s.writeMessage(w, http.StatusBadRequest, "personaId is required")
		return
	}
	if !p.Conversational && p.DocumentType == "" {
		s.writeMessage(w, http.StatusBadRequest, "documentType is required unless conversational")
		return
	}

	applied, err := s.deps.Completer.Deliver(r.Context(), ticketID, p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, applied)
}

// handleSweep handles POST /api/v1/sweep. It blocks for the whole sweep.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeper == nil {
		s.writeMessage(w, http.StatusServiceUnavailable, "scheduler not running in this process")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Sweeper.Sweep(s.jobCtx))
}

// handleSystem handles GET /api/v1/system.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	pause, err := s.deps.Store.PauseState(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.systemResponse(pause))
}

// handlePause handles POST /api/v1/system/pause.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if !s.decodeBody(w, r, &req, false) {
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "paused by operator"
	}

	var until *time.Time
	if req.For != "" {
		d, err := time.ParseDuration(req.For)
		if err != nil || d <= 0 {
			s.writeMessage(w, http.StatusBadRequest, "for must be a positive duration")
			return
		}
		t := time.Now().Add(d).UTC()
		until = &t
	}

	if err := s.deps.Store.Pause(r.Context(), reason, until); err != nil {
		s.writeError(w, err)
		return
	}
	s.deps.Events.Publish(events.SystemPaused, map[string]any{"reason": reason, "source": "api"})
	s.logger.Warn("system paused via API", "reason", reason)
	s.handleSystem(w, r)
}

// handleResume handles POST /api/v1/system/resume.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Resume(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.deps.Events.Publish(events.SystemResumed, map[string]any{"source": "api"})
	s.logger.Info("system resumed via API")
	s.handleSystem(w, r)
}

// handleSessions handles GET /api/v1/tickets/{ticketID}/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		s.writeMessage(w, http.StatusServiceUnavailable, "sessions not available")
		return
	}
	ticket, err := s.deps.Store.Ticket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	dirs, err := s.deps.Sessions.List(ticket.Key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if dirs == nil {
		dirs = []string{}
	}
	respondJSON(w, http.StatusOK, SessionsResponse{TicketID: ticket.ID, TicketKey: ticket.Key, Sessions: dirs})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

func (s *Server) systemResponse(p records.PauseState) SystemResponse {
	resp := SystemResponse{
		Paused:        p.Paused,
		Reason:        p.Reason,
		Until:         p.Until,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if !p.Since.IsZero() {
		since := p.Since
		resp.Since = &since
	}
	return resp
}

// decodeBody reads a JSON body into v. An empty body is accepted unless
// required is set.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any, required bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && !required {
			return true
		}
		s.writeMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps a store or dispatch error onto a status code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "error", err, "kind", kind)
	}
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func (s *Server) writeMessage(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func statusFor(err error) (int, domain.Kind) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ""
	case errors.Is(err, records.ErrResearchComplete):
		return http.StatusConflict, ""
	}
	kind, ok := domain.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, ""
	}
	switch kind {
	case domain.KindRegressionRejected:
		return http.StatusConflict, kind
	case domain.KindContextLimitExceeded:
		return http.StatusUnprocessableEntity, kind
	case domain.KindCredentialOrQuotaExhausted, domain.KindWorkspaceUnavailable:
		return http.StatusServiceUnavailable, kind
	case domain.KindProcessTimeout:
		return http.StatusGatewayTimeout, kind
	default:
		return http.StatusBadGateway, kind
	}
}
