package router

import (
	"context"

	"github.com/mattjoyce/switchyard/internal/completion"
	"github.com/mattjoyce/switchyard/internal/cooldown"
	"github.com/mattjoyce/switchyard/internal/dispatch"
	"github.com/mattjoyce/switchyard/internal/domain"
)

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/mattjoyce/switchyard/internal/router Executor

// Executor runs one dispatch job to completion.
type Executor interface {
	Run(ctx context.Context, job dispatch.Job) (dispatch.Result, error)
}

// Trigger says who asked for a dispatch and whom it should reach. Target
// precedence is PersonaID, then Mention, then Role, then the role derived
// from the ticket's phase.
type Trigger struct {
	PersonaID string
	// Mention is a persona name, matched in the ticket's project first and
	// then among all personas.
	Mention   string
	Role      domain.Role
	Broadcast bool
	Kind      cooldown.Kind
	// Message is the text that prompted the dispatch, quoted in the brief.
	Message     string
	SuppressAck bool
	// Source names the caller in audit entries.
	Source string
}

// SkipReason explains a deliberate no-op.
type SkipReason string

const (
	SkipHumanOwned SkipReason = "human_owned"
	SkipCooldown   SkipReason = "cooldown"
	SkipPaused     SkipReason = "paused"
	SkipNoPersona  SkipReason = "no_persona"
)

// Target is one persona a dispatch was routed to.
type Target struct {
	Persona      domain.Persona
	DocumentType domain.DocType
	Skipped      SkipReason
	SessionDir   string
	Outcome      string
	Applied      completion.Applied
	Err          error
}

// Outcome is the result of routing one trigger. Skipped is set when nothing
// was launched at all.
type Outcome struct {
	TicketID string
	Phase    domain.Phase
	Skipped  SkipReason
	Detail   string
	Targets  []Target
}

// Launched reports the targets that were actually dispatched.
func (o Outcome) Launched() []Target {
	var out []Target
	for _, t := range o.Targets {
		if t.Skipped == "" {
			out = append(out, t)
		}
	}
	return out
}

// Err returns the first dispatch error, if any.
func (o Outcome) Err() error {
	for _, t := range o.Targets {
		if t.Err != nil {
			return t.Err
		}
	}
	return nil
}
