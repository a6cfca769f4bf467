package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/records"
)

// Applied reports what a payload turned into.
type Applied struct {
	DocumentID string         `json:"documentId,omitempty"`
	Type       domain.DocType `json:"documentType,omitempty"`
	Version    int            `json:"version,omitempty"`
	CommentID  string         `json:"commentId,omitempty"`
	Paused     bool           `json:"paused,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// Applier writes completion payloads to the record store.
type Applier struct {
	store    records.Store
	events   events.Publisher
	patterns []string
	pauseTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewApplier(store records.Store, pub events.Publisher, patterns []string, pauseTTL time.Duration) *Applier {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Applier{
		store:    store,
		events:   pub,
		patterns: patterns,
		pauseTTL: pauseTTL,
		now:      time.Now,
		logger:   log.WithComponent("completion"),
	}
}

// Apply classifies and stores one payload. Intercepted payloads pause the
// system and return a CredentialOrQuotaExhausted error.
func (a *Applier) Apply(ctx context.Context, ticketID string, p Payload) (Applied, error) {
	logger := a.logger.With("ticket_id", ticketID, "persona_id", p.PersonaID, "session_dir", p.SessionDir)

	if v := Classify(p, a.patterns); v.Intercept {
		if err := a.Escalate(ctx, v.Reason); err != nil {
			return Applied{}, err
		}
		a.audit(ctx, ticketID, p.PersonaID, "completion.intercepted", v.Reason)
		return Applied{Paused: true, Reason: v.Reason},
			domain.NewError(domain.KindCredentialOrQuotaExhausted, "completion.apply", errors.New(v.Reason))
	}

	persona, err := a.store.Persona(ctx, p.PersonaID)
	if err != nil {
		return Applied{}, fmt.Errorf("completion persona: %w", err)
	}

	var applied Applied
	switch {
	case p.Conversational || p.DocumentType == "":
		applied, err = a.comment(ctx, ticketID, persona.ID, p.Content)
	case p.DocumentType == domain.DocResearch:
		var doc domain.Document
		doc, err = a.store.AppendResearch(ctx, ticketID, persona.ID, persona.Name, p.Content)
		if errors.Is(err, records.ErrResearchComplete) {
			logger.Info("research cycle complete, posting as comment")
			applied, err = a.comment(ctx, ticketID, persona.ID, p.Content)
			break
		}
		applied = Applied{DocumentID: doc.ID, Type: doc.Type, Version: doc.Version}
	case p.DocumentType.Valid():
		var doc domain.Document
		doc, err = a.store.UpsertDocument(ctx, ticketID, p.DocumentType, persona.ID, p.Content)
		applied = Applied{DocumentID: doc.ID, Type: doc.Type, Version: doc.Version}
	default:
		return Applied{}, fmt.Errorf("unknown document type %q", p.DocumentType)
	}
	if err != nil {
		if errors.Is(err, domain.ErrRegressionRejected) {
			a.audit(ctx, ticketID, persona.ID, "completion.rejected", err.Error())
		}
		logger.Warn("completion not applied", "error", err)
		return Applied{}, err
	}

	detail := fmt.Sprintf("outcome=%s", p.Outcome)
	if applied.DocumentID != "" {
		detail = fmt.Sprintf("%s %s v%d", detail, applied.Type, applied.Version)
	}
	a.audit(ctx, ticketID, persona.ID, "completion.applied", detail)
	logger.Info("completion applied", "document_type", applied.Type, "version", applied.Version, "comment_id", applied.CommentID)
	return applied, nil
}

func (a *Applier) comment(ctx context.Context, ticketID, personaID, body string) (Applied, error) {
	c, err := a.store.AddComment(ctx, ticketID, personaID, body)
	if err != nil {
		return Applied{}, err
	}
	return Applied{CommentID: c.ID}, nil
}

// Escalate sets the system pause flag and announces it.
func (a *Applier) Escalate(ctx context.Context, reason string) error {
	var until *time.Time
	if a.pauseTTL > 0 {
		u := a.now().Add(a.pauseTTL).UTC()
		until = &u
	}
	if err := a.store.Pause(ctx, reason, until); err != nil {
		return fmt.Errorf("pause dispatching: %w", err)
	}
	a.events.Publish(events.SystemPaused, map[string]any{"reason": reason, "until": until})
	a.logger.Error("dispatching paused", "reason", reason)
	return nil
}

func (a *Applier) audit(ctx context.Context, ticketID, personaID, action, detail string) {
	if err := a.store.AppendAudit(ctx, domain.AuditEntry{
		TicketID:  ticketID,
		PersonaID: personaID,
		Action:    action,
		Detail:    detail,
	}); err != nil {
		a.logger.Warn("audit entry not written", "action", action, "error", err)
	}
}
