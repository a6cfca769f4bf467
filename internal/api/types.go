package api

import (
	"time"

	"github.com/mattjoyce/switchyard/internal/completion"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/router"
)

// DispatchRequest is the JSON body for POST /api/v1/tickets/{id}/dispatch.
// Every field is optional; an empty body routes by phase with the auto
// cooldown window. Kind defaults to mention when a persona is named.
type DispatchRequest struct {
	PersonaID   string `json:"personaId,omitempty"`
	Mention     string `json:"mention,omitempty"`
	Role        string `json:"role,omitempty"`
	Broadcast   bool   `json:"broadcast,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Message     string `json:"message,omitempty"`
	SuppressAck bool   `json:"suppressAck,omitempty"`
	// Wait holds the response until every launched job has finished.
	Wait bool `json:"wait,omitempty"`
}

type TargetResponse struct {
	PersonaID    string              `json:"personaId"`
	PersonaName  string              `json:"personaName"`
	DocumentType domain.DocType      `json:"documentType,omitempty"`
	Skipped      string              `json:"skipped,omitempty"`
	SessionDir   string              `json:"sessionDir,omitempty"`
	Outcome      string              `json:"outcome,omitempty"`
	Applied      *completion.Applied `json:"applied,omitempty"`
	Error        string              `json:"error,omitempty"`
	Kind         domain.Kind         `json:"kind,omitempty"`
}

// DispatchResponse mirrors router.Outcome.
type DispatchResponse struct {
	TicketID string           `json:"ticketId"`
	Phase    domain.Phase     `json:"phase"`
	Skipped  string           `json:"skipped,omitempty"`
	Detail   string           `json:"detail,omitempty"`
	Finished bool             `json:"finished"`
	Targets  []TargetResponse `json:"targets"`
}

func newDispatchResponse(out router.Outcome, finished bool) DispatchResponse {
	resp := DispatchResponse{
		TicketID: out.TicketID,
		Phase:    out.Phase,
		Skipped:  string(out.Skipped),
		Detail:   out.Detail,
		Finished: finished,
		Targets:  make([]TargetResponse, 0, len(out.Targets)),
	}
	for _, t := range out.Targets {
		tr := TargetResponse{
			PersonaID:    t.Persona.ID,
			PersonaName:  t.Persona.Name,
			DocumentType: t.DocumentType,
			Skipped:      string(t.Skipped),
			SessionDir:   t.SessionDir,
			Outcome:      t.Outcome,
		}
		if finished && t.Skipped == "" && t.Err == nil {
			applied := t.Applied
			tr.Applied = &applied
		}
		if t.Err != nil {
			tr.Error = t.Err.Error()
			tr.Kind, _ = domain.KindOf(t.Err)
		}
		resp.Targets = append(resp.Targets, tr)
	}
	return resp
}

// PauseRequest is the JSON body for POST /api/v1/system/pause.
type PauseRequest struct {
	Reason string `json:"reason"`
	// For is an optional Go duration after which the pause lapses.
	For string `json:"for,omitempty"`
}

// SystemResponse is returned by GET /api/v1/system and the pause endpoints.
type SystemResponse struct {
	Paused        bool       `json:"paused"`
	Reason        string     `json:"reason,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	Until         *time.Time `json:"until,omitempty"`
	UptimeSeconds int64      `json:"uptimeSeconds"`
}

type SessionsResponse struct {
	TicketID  string   `json:"ticketId"`
	TicketKey string   `json:"ticketKey"`
	Sessions  []string `json:"sessions"`
}

// ErrorResponse is returned on errors. Kind is set for classified failures.
type ErrorResponse struct {
	Error string      `json:"error"`
	Kind  domain.Kind `json:"kind,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Paused        bool   `json:"paused"`
}
