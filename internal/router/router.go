// Package router decides which persona a trigger reaches, assembles the
// brief, records the dispatch side effects and hands jobs to the executor.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/cooldown"
	"github.com/mattjoyce/switchyard/internal/dispatch"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/records"
)

// AckAuthor is the author id of acknowledgement comments.
const AckAuthor = "switchyard"

type Options struct {
	ExcerptChars   int
	RecentComments int
	Acknowledge    bool
}

func OptionsFromConfig(cfg config.RouterConfig) Options {
	return Options{
		ExcerptChars:   cfg.ExcerptChars,
		RecentComments: cfg.RecentComments,
		Acknowledge:    cfg.Acknowledge,
	}
}

type Router struct {
	store     records.Store
	cooldowns cooldown.Tracker
	executor  Executor
	events    events.Publisher
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
}

func New(store records.Store, cooldowns cooldown.Tracker, executor Executor, pub events.Publisher, opts Options) *Router {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Router{
		store:     store,
		cooldowns: cooldowns,
		executor:  executor,
		events:    pub,
		opts:      opts,
		now:       time.Now,
		logger:    log.WithComponent("router"),
	}
}

// Pending is a routed trigger whose jobs are running.
type Pending struct {
	planned Outcome
	final   Outcome
	wg      sync.WaitGroup
}

// Planned is the routing decision, before any job finished.
func (p *Pending) Planned() Outcome { return p.planned }

// Wait blocks until every launched job has finished.
func (p *Pending) Wait() Outcome {
	p.wg.Wait()
	return p.final
}

// Dispatch routes the trigger and waits for the jobs. The error is only set
// when routing itself failed; per-persona failures are on the targets.
func (r *Router) Dispatch(ctx context.Context, ticketID string, trig Trigger) (Outcome, error) {
	p, err := r.Route(ctx, ticketID, trig)
	if err != nil {
		return Outcome{}, err
	}
	return p.Wait(), nil
}

// Route decides the targets, applies the launch side effects and starts
// the jobs under ctx. It returns without waiting for them.
func (r *Router) Route(ctx context.Context, ticketID string, trig Trigger) (*Pending, error) {
	ticket, err := r.store.Ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	phase := ticket.Phase()
	out := Outcome{TicketID: ticket.ID, Phase: phase}
	logger := r.logger.With("ticket_id", ticket.ID, "ticket_key", ticket.Key, "phase", phase)

	if phase.HumanOwned() {
		return r.skipped(out, SkipHumanOwned, "ticket is in a human-owned phase", logger), nil
	}
	pause, err := r.store.PauseState(ctx)
	if err != nil {
		return nil, err
	}
	if pause.Paused {
		return r.skipped(out, SkipPaused, pause.Reason, logger), nil
	}

	project, err := r.store.Project(ctx, ticket.ProjectID)
	if err != nil {
		return nil, err
	}
	researchVersion, err := r.researchVersion(ctx, ticket.ID, phase)
	if err != nil {
		return nil, err
	}

	candidates, err := r.resolve(ctx, ticket, phase, researchVersion, trig)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return r.skipped(out, SkipNoPersona, "no persona matches the trigger", logger), nil
	}

	out.Targets = r.applyCooldown(ticket.ID, candidates, trig)
	launched := 0
	for i := range out.Targets {
		if out.Targets[i].Skipped == "" {
			launched++
			out.Targets[i].DocumentType = documentType(trig, phase, out.Targets[i].Persona, researchVersion)
		}
	}
	if launched == 0 {
		skipped := r.skipped(out, SkipCooldown, "every candidate persona is on cooldown", logger)
		skipped.planned.Targets = out.Targets
		skipped.final.Targets = out.Targets
		return skipped, nil
	}

	brief, err := r.gatherBrief(ctx, ticket, project, phase, researchVersion, trig)
	if err != nil {
		return nil, err
	}

	p := &Pending{planned: out}
	p.planned.Targets = append([]Target(nil), out.Targets...)
	p.final = out
	p.final.Targets = append([]Target(nil), out.Targets...)
	for i, tgt := range out.Targets {
		if tgt.Skipped != "" {
			continue
		}
		in := brief
		in.Persona = tgt.Persona
		in.DocumentType = tgt.DocumentType
		job := dispatch.Job{
			Ticket:       ticket,
			Persona:      tgt.Persona,
			Project:      project,
			Phase:        phase,
			DocumentType: tgt.DocumentType,
			SystemPrompt: systemPrompt(tgt.Persona, project),
			Task:         buildBrief(in),
		}
		caps := tgt.Persona.Role.Capabilities()
		job.Tools, job.ConversationTools = caps.Tools, caps.ConversationTools
		r.markLaunched(ctx, ticket, tgt, trig, logger)

		p.wg.Add(1)
		go func(i int, job dispatch.Job) {
			defer p.wg.Done()
			res, err := r.executor.Run(ctx, job)
			t := &p.final.Targets[i]
			t.SessionDir = res.SessionDir
			t.Outcome = res.Outcome
			t.Applied = res.Applied
			t.Err = err
		}(i, job)
	}

	if r.opts.Acknowledge && !trig.SuppressAck {
		r.acknowledge(ctx, ticket, phase, out.Launched(), logger)
	}
	logger.Info("dispatch routed", "launched", launched, "targets", len(out.Targets), "kind", trig.Kind, "broadcast", trig.Broadcast)
	return p, nil
}

func (r *Router) skipped(out Outcome, reason SkipReason, detail string, logger *slog.Logger) *Pending {
	out.Skipped = reason
	out.Detail = detail
	logger.Info("dispatch skipped", "reason", reason, "detail", detail)
	r.events.Publish(events.DispatchSkipped, map[string]any{
		"ticket_id": out.TicketID,
		"phase":     out.Phase,
		"reason":    reason,
		"detail":    detail,
	})
	return &Pending{planned: out, final: out}
}

func (r *Router) researchVersion(ctx context.Context, ticketID string, phase domain.Phase) (int, error) {
	if phase != domain.PhaseResearch {
		return 0, nil
	}
	doc, err := r.store.LatestDocument(ctx, ticketID, domain.DocResearch)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

// resolve returns candidate personas in preference order. Explicit targets
// yield at most one persona.
func (r *Router) resolve(ctx context.Context, ticket domain.Ticket, phase domain.Phase, researchVersion int, trig Trigger) ([]domain.Persona, error) {
	switch {
	case trig.PersonaID != "":
		p, err := r.store.Persona(ctx, trig.PersonaID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []domain.Persona{p}, nil

	case trig.Mention != "":
		name := strings.TrimPrefix(strings.TrimSpace(trig.Mention), "@")
		p, err := r.store.PersonaByName(ctx, ticket.ProjectID, name)
		if errors.Is(err, domain.ErrNotFound) {
			p, err = r.store.PersonaByName(ctx, "", name)
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []domain.Persona{p}, nil

	case trig.Broadcast:
		var out []domain.Persona
		seen := make(map[string]bool)
		for _, role := range domain.BroadcastRoles(phase) {
			ps, err := r.store.PersonasByRole(ctx, ticket.ProjectID, role)
			if err != nil {
				return nil, err
			}
			for _, p := range ps {
				if !seen[p.ID] {
					seen[p.ID] = true
					out = append(out, p)
				}
			}
		}
		return out, nil
	}

	role := trig.Role
	if !role.Valid() {
		var ok bool
		if phase == domain.PhaseResearch {
			role, ok = domain.ResearchRole(researchVersion)
		} else {
			role, ok = domain.PhaseRole(phase)
		}
		if !ok {
			return nil, nil
		}
	}
	return r.store.PersonasByRole(ctx, ticket.ProjectID, role)
}

// applyCooldown marks candidates on cooldown as skipped. Outside broadcast
// mode only the first eligible candidate is kept.
func (r *Router) applyCooldown(ticketID string, candidates []domain.Persona, trig Trigger) []Target {
	kind := trig.Kind
	if kind == "" {
		kind = cooldown.Auto
	}
	explicit := trig.PersonaID != "" || trig.Mention != ""

	var out []Target
	for _, p := range candidates {
		if r.cooldowns.IsOnCooldown(ticketID, p.ID, kind) {
			if trig.Broadcast || explicit {
				out = append(out, Target{Persona: p, Skipped: SkipCooldown})
			}
			continue
		}
		out = append(out, Target{Persona: p})
		if !trig.Broadcast {
			return out
		}
	}
	return out
}

// documentType decides what a persona's output becomes. Mentions get a
// conversational reply; research output is only a new version when the
// persona holds the role whose turn it is.
func documentType(trig Trigger, phase domain.Phase, p domain.Persona, researchVersion int) domain.DocType {
	if trig.Kind == cooldown.Mention {
		return ""
	}
	produced, ok := p.Role.Capabilities().Produces[phase]
	if !ok {
		return ""
	}
	if produced == domain.DocResearch {
		want, ok := domain.ResearchRole(researchVersion)
		if !ok || want != p.Role {
			return ""
		}
	}
	return produced
}

func (r *Router) gatherBrief(ctx context.Context, ticket domain.Ticket, project domain.Project, phase domain.Phase, researchVersion int, trig Trigger) (briefInput, error) {
	in := briefInput{
		Ticket:          ticket,
		Project:         project,
		Phase:           phase,
		ResearchVersion: researchVersion,
		Message:         trig.Message,
		ExcerptChars:    r.opts.ExcerptChars,
		Authors:         map[string]string{AckAuthor: "switchyard"},
	}
	for _, typ := range []domain.DocType{domain.DocResearch, domain.DocPlan, domain.DocDesign} {
		doc, err := r.store.LatestDocument(ctx, ticket.ID, typ)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return briefInput{}, err
		}
		in.Documents = append(in.Documents, doc)
	}

	comments, err := r.store.RecentComments(ctx, ticket.ID, r.opts.RecentComments)
	if err != nil {
		return briefInput{}, err
	}
	in.Comments = comments
	for _, c := range comments {
		if _, ok := in.Authors[c.AuthorID]; ok {
			continue
		}
		if p, err := r.store.Persona(ctx, c.AuthorID); err == nil {
			in.Authors[c.AuthorID] = p.Name
		}
	}
	return in, nil
}

func (r *Router) markLaunched(ctx context.Context, ticket domain.Ticket, tgt Target, trig Trigger, logger *slog.Logger) {
	r.cooldowns.MarkDispatched(ticket.ID, tgt.Persona.ID)
	if err := r.store.TouchActivity(ctx, ticket.ID, tgt.Persona.ID, r.now()); err != nil {
		logger.Warn("activity marker not written", "persona_id", tgt.Persona.ID, "error", err)
	}
	kind := trig.Kind
	if kind == "" {
		kind = cooldown.Auto
	}
	source := trig.Source
	if source == "" {
		source = "unknown"
	}
	detail := fmt.Sprintf("phase=%s role=%s kind=%s source=%s", ticket.Phase(), tgt.Persona.Role, kind, source)
	if tgt.DocumentType != "" {
		detail += " document=" + string(tgt.DocumentType)
	}
	if err := r.store.AppendAudit(ctx, domain.AuditEntry{
		TicketID:  ticket.ID,
		PersonaID: tgt.Persona.ID,
		Action:    "dispatch",
		Detail:    detail,
	}); err != nil {
		logger.Warn("audit entry not written", "error", err)
	}
}

// acknowledge posts one comment for all launched targets.
func (r *Router) acknowledge(ctx context.Context, ticket domain.Ticket, phase domain.Phase, launched []Target, logger *slog.Logger) {
	if len(launched) == 0 {
		return
	}
	names := make([]string, 0, len(launched))
	for _, t := range launched {
		names = append(names, fmt.Sprintf("%s (%s)", t.Persona.Name, t.Persona.Role.Capabilities().Label))
	}
	var body string
	if len(names) == 1 {
		body = fmt.Sprintf("%s is picking this up (%s).", names[0], phase)
	} else {
		body = fmt.Sprintf("Dispatched to %s (%s).", strings.Join(names, ", "), phase)
	}
	if _, err := r.store.AddComment(ctx, ticket.ID, AckAuthor, body); err != nil {
		logger.Warn("acknowledgement not posted", "error", err)
	}
}
