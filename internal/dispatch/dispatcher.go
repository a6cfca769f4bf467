package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/switchyard/internal/completion"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/session"
	"github.com/mattjoyce/switchyard/internal/workspace"
)

// Job is one dispatch of a persona onto a ticket. It lives only in memory.
type Job struct {
	Ticket  domain.Ticket
	Persona domain.Persona
	Project domain.Project
	Phase   domain.Phase
	// DocumentType is the artifact the output becomes. Empty means the
	// output is posted as a comment.
	DocumentType domain.DocType
	SystemPrompt string
	Task         string
	Tools        []string
	// ConversationTools is used instead of Tools by the conversation strategy.
	ConversationTools []string
	// Timeout overrides the dispatcher's default budget when positive.
	Timeout time.Duration
}

// Result is the terminal state of one job.
type Result struct {
	SessionDir string
	Workspace  workspace.Workspace
	Outcome    string
	Applied    completion.Applied
	Duration   time.Duration
	Err        error
}

// Escalator pauses all dispatching.
type Escalator interface {
	Escalate(ctx context.Context, reason string) error
}

type Options struct {
	Timeout       time.Duration
	ErrorPatterns []string
}

// Dispatcher executes jobs. It is safe for concurrent use; each job runs
// on its own goroutine.
type Dispatcher struct {
	workspaces workspace.Manager
	sessions   *session.Manager
	strategy   Strategy
	deliverer  completion.Deliverer
	escalator  Escalator
	events     events.Publisher
	opts       Options
	now        func() time.Time
	logger     *slog.Logger
}

func New(ws workspace.Manager, sessions *session.Manager, strategy Strategy, deliverer completion.Deliverer, escalator Escalator, pub events.Publisher, opts Options) *Dispatcher {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Dispatcher{
		workspaces: ws,
		sessions:   sessions,
		strategy:   strategy,
		deliverer:  deliverer,
		escalator:  escalator,
		events:     pub,
		opts:       opts,
		now:        time.Now,
		logger:     log.WithComponent("dispatch"),
	}
}

// Handle is a running job. Done delivers exactly one Result.
type Handle struct {
	done chan Result
}

func (h *Handle) Done() <-chan Result { return h.done }

// Start runs job in the background.
func (d *Dispatcher) Start(ctx context.Context, job Job) *Handle {
	h := &Handle{done: make(chan Result, 1)}
	go func() {
		h.done <- d.execute(ctx, job)
	}()
	return h
}

// Run executes job and waits for it. The returned error is Result.Err.
func (d *Dispatcher) Run(ctx context.Context, job Job) (Result, error) {
	res := <-d.Start(ctx, job).Done()
	return res, res.Err
}

func (d *Dispatcher) execute(ctx context.Context, job Job) Result {
	started := d.now()
	logger := d.logger.With("ticket_id", job.Ticket.ID, "ticket_key", job.Ticket.Key,
		"persona_id", job.Persona.ID, "phase", job.Phase)
	d.events.Publish(events.DispatchStarted, map[string]any{
		"ticket_id":  job.Ticket.ID,
		"ticket_key": job.Ticket.Key,
		"persona_id": job.Persona.ID,
		"role":       job.Persona.Role.String(),
		"phase":      job.Phase,
	})

	var res Result
	res.Workspace = d.workspaces.EnsureWorkspace(ctx, job.Project, job.Ticket.Key)

	sess, err := d.sessions.Create(ctx, job.Ticket, job.Phase, job.Persona.ID)
	if err != nil {
		return d.fail(job, res, started, logger, fmt.Errorf("create session: %w", err))
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("session log not closed", "error", err)
		}
	}()
	res.SessionDir = sess.Dir
	logger = logger.With("session_dir", sess.Dir)

	var deadline time.Time
	if timeout := d.timeout(job); timeout > 0 {
		deadline = started.Add(timeout)
	}
	out, err := d.strategy.Execute(ctx, Execution{
		Session:      sess,
		TicketID:     job.Ticket.ID,
		SystemPrompt: job.SystemPrompt,
		Task:         job.Task,
		Cwd:          res.Workspace.Path,
		Deadline:     deadline,
		Tools:        job.Tools,

		ConversationTools: job.ConversationTools,
	})
	res.Outcome = out.Outcome
	if err == nil {
		err = out.Err
	}
	if err != nil {
		if reason, ok := d.exhausted(err, out); ok {
			d.escalate(ctx, sess, reason, logger)
			err = domain.NewError(domain.KindCredentialOrQuotaExhausted, "dispatch.execute", errors.New(reason))
		}
		return d.fail(job, res, started, logger, err)
	}

	applied, err := d.deliverer.Deliver(ctx, job.Ticket.ID, completion.Payload{
		PersonaID:      job.Persona.ID,
		Content:        out.Content,
		Conversational: job.DocumentType == "",
		DocumentType:   job.DocumentType,
		SessionDir:     sess.Dir,
		Outcome:        out.Outcome,
		Stderr:         out.Stderr,
	})
	if err != nil {
		record(sess, "completion not applied: "+err.Error(), logger)
		return d.fail(job, res, started, logger, err)
	}
	res.Applied = applied
	res.Duration = d.now().Sub(started)
	record(sess, deliveredMessage(applied), logger)

	logger.Info("dispatch completed", "outcome", res.Outcome, "document_type", applied.Type,
		"version", applied.Version, "duration", res.Duration)
	d.events.Publish(events.DispatchCompleted, map[string]any{
		"ticket_id":     job.Ticket.ID,
		"ticket_key":    job.Ticket.Key,
		"persona_id":    job.Persona.ID,
		"phase":         job.Phase,
		"session_dir":   sess.Dir,
		"outcome":       res.Outcome,
		"document_type": applied.Type,
		"version":       applied.Version,
		"comment_id":    applied.CommentID,
		"duration_ms":   res.Duration.Milliseconds(),
	})
	return res
}

func (d *Dispatcher) timeout(job Job) time.Duration {
	if job.Timeout > 0 {
		return job.Timeout
	}
	return d.opts.Timeout
}

// exhausted reports whether a failed run failed because the agent's
// credentials or quota ran out. Empty output alone is not enough here: a
// killed agent often prints nothing.
func (d *Dispatcher) exhausted(err error, out Output) (string, bool) {
	if domain.Escalates(err) {
		return err.Error(), true
	}
	if strings.TrimSpace(out.Content) == "" && strings.TrimSpace(out.Stderr) == "" {
		return "", false
	}
	probe := completion.Payload{Content: out.Content + "\n" + out.Stderr}
	if v := completion.Classify(probe, d.opts.ErrorPatterns); v.Intercept {
		return v.Reason, true
	}
	return "", false
}

func (d *Dispatcher) escalate(ctx context.Context, sess *session.Context, reason string, logger *slog.Logger) {
	record(sess, "dispatching paused: "+reason, logger)
	if d.escalator == nil {
		logger.Error("credential or quota exhausted but no escalator is configured", "reason", reason)
		return
	}
	if err := d.escalator.Escalate(ctx, reason); err != nil {
		logger.Error("escalation failed", "error", err)
	}
}

func (d *Dispatcher) fail(job Job, res Result, started time.Time, logger *slog.Logger, err error) Result {
	res.Err = err
	res.Duration = d.now().Sub(started)
	kind, _ := domain.KindOf(err)
	logger.Warn("dispatch failed", "error", err, "kind", kind, "outcome", res.Outcome)
	d.events.Publish(events.DispatchFailed, map[string]any{
		"ticket_id":   job.Ticket.ID,
		"ticket_key":  job.Ticket.Key,
		"persona_id":  job.Persona.ID,
		"phase":       job.Phase,
		"session_dir": res.SessionDir,
		"outcome":     res.Outcome,
		"kind":        kind,
		"error":       err.Error(),
	})
	return res
}

func record(sess *session.Context, msg string, logger *slog.Logger) {
	if err := sess.Record(session.StatusEvent(msg)); err != nil {
		logger.Warn("session event not recorded", "error", err)
	}
}

func deliveredMessage(a completion.Applied) string {
	if a.DocumentID != "" {
		return fmt.Sprintf("delivered %s v%d", a.Type, a.Version)
	}
	return "delivered as comment " + a.CommentID
}
