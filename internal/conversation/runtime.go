// Package conversation drives a tool-using model conversation for one
// dispatch, as an alternative to spawning the agent CLI.
//
// A run moves INIT -> (MODEL_TURN -> TOOL_EXECUTION)* and ends in exactly
// one of COMPLETED, TIMEOUT, BLOCKED or INCOMPLETE. The transcript is saved
// after every model turn and every tool-result turn so a crashed run resumes
// from its last saved point.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/llm"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/session"
	"github.com/mattjoyce/switchyard/internal/state"
	"github.com/mattjoyce/switchyard/internal/workspace"
)

type Outcome string

const (
	OutcomeCompleted  Outcome = "COMPLETED"
	OutcomeTimeout    Outcome = "TIMEOUT"
	OutcomeBlocked    Outcome = "BLOCKED"
	OutcomeIncomplete Outcome = "INCOMPLETE"
)

const resumePrompt = "Continue from where you left off."

// HistoryStore persists one transcript per (ticket, persona).
type HistoryStore interface {
	Load(ctx context.Context, ticketID, personaID string) (state.Conversation, bool, error)
	Save(ctx context.Context, ticketID, personaID string, conv state.Conversation) error
	Clear(ctx context.Context, ticketID, personaID string) error
}

type Options struct {
	Model              string
	MaxTokens          int
	MaxTurns           int
	WarnInputTokens    int64
	MaxInputTokens     int64
	ToolResultBytes    int
	CompletionPatterns []string
}

func OptionsFromConfig(conv config.ConversationConfig, model string) Options {
	return Options{
		Model:              model,
		MaxTokens:          conv.MaxTokens,
		MaxTurns:           conv.MaxTurns,
		WarnInputTokens:    int64(conv.WarnInputTokens),
		MaxInputTokens:     int64(conv.MaxInputTokens),
		ToolResultBytes:    conv.ToolResultBytes,
		CompletionPatterns: conv.CompletionPatterns,
	}
}

type RunRequest struct {
	Session  *session.Context
	TicketID string
	// PersonaID selects the transcript to resume. It defaults to the
	// session's persona.
	PersonaID    string
	SystemPrompt string
	Task         string
	Cwd          string
	Deadline     time.Time
	Tools        []string
}

type Result struct {
	Outcome        Outcome
	Text           string
	Turns          int
	InputTokens    int64
	OutputTokens   int64
	Resumed        bool
	MatchedPattern string
	Duration       time.Duration
}

// Err classifies outcomes that must not be delivered as finished work.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeTimeout:
		return domain.NewError(domain.KindProcessTimeout, "conversation.run", fmt.Errorf("deadline reached after %d turns", r.Turns))
	case OutcomeBlocked:
		return domain.NewError(domain.KindContextLimitExceeded, "conversation.run", fmt.Errorf("%d input tokens used", r.InputTokens))
	}
	return nil
}

type Runtime struct {
	provider llm.Provider
	history  HistoryStore
	runner   workspace.CommandRunner
	opts     Options
	now      func() time.Time
	logger   *slog.Logger
}

func New(provider llm.Provider, history HistoryStore, runner workspace.CommandRunner, opts Options) *Runtime {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 40
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	return &Runtime{
		provider: provider,
		history:  history,
		runner:   runner,
		opts:     opts,
		now:      time.Now,
		logger:   log.WithComponent("conversation"),
	}
}

// run is the mutable state of one conversation.
type run struct {
	req      RunRequest
	conv     state.Conversation
	res      Result
	texts    []string
	warned   bool
	started  time.Time
	executor *Executor
	logger   *slog.Logger
}

// Run drives the conversation until a terminal outcome. The returned error
// is non-nil only when the model or the history store failed; outcome
// classification is on Result.Err.
func (r *Runtime) Run(ctx context.Context, req RunRequest) (Result, error) {
	if req.Session == nil {
		return Result{}, fmt.Errorf("conversation: request has no session")
	}
	sess := req.Session
	if req.PersonaID == "" {
		req.PersonaID = sess.PersonaID
	}
	ru := &run{
		req:      req,
		started:  r.now(),
		executor: NewExecutor(req.Cwd, r.opts.ToolResultBytes, req.Tools, r.runner),
		logger:   log.WithSession(sess.TicketID, sess.PersonaID, string(sess.Phase), sess.Dir),
	}

	if err := sess.WriteFile(session.SystemPromptFile, req.SystemPrompt); err != nil {
		return Result{}, err
	}
	if err := sess.WriteFile(session.TaskFile, req.Task); err != nil {
		return Result{}, err
	}

	saved, ok, err := r.history.Load(ctx, req.TicketID, req.PersonaID)
	if err != nil {
		return Result{}, err
	}
	if ok && len(saved.Messages) > 0 {
		ru.conv = saved
		ru.res.Resumed = true
		ru.logger.Info("resuming conversation", "turns", saved.Turns, "input_tokens", saved.InputTokens)
	} else {
		ru.conv = state.Conversation{Messages: []llm.Message{llm.UserMessage(req.Task)}}
	}

	r.record(sess, session.SpawnEvent(session.SpawnData{
		Strategy: config.StrategyConversation,
		Cwd:      req.Cwd,
		Tools:    req.Tools,
		Deadline: formatDeadline(req.Deadline),
		Resumed:  ru.res.Resumed,
	}))

	// A transcript saved between a model turn and its tool results resumes
	// at tool execution; one that ended on a plain answer gets a nudge.
	if ru.res.Resumed {
		last := ru.conv.Messages[len(ru.conv.Messages)-1]
		if last.Role == llm.RoleAssistant {
			if uses := toolUses(last); len(uses) > 0 {
				if err := r.executeTools(ctx, ru, uses); err != nil {
					return r.fail(ru, err)
				}
			} else {
				ru.conv.Messages = append(ru.conv.Messages, llm.UserMessage(resumePrompt))
			}
		}
	}

	tools := ToolDefs(req.Tools)
	for {
		if !req.Deadline.IsZero() && !r.now().Before(req.Deadline) {
			return r.end(ctx, ru, OutcomeTimeout, false)
		}
		if ru.conv.Turns >= r.opts.MaxTurns {
			return r.end(ctx, ru, OutcomeIncomplete, false)
		}

		resp, err := r.provider.Complete(ctx, llm.Request{
			Model:     r.opts.Model,
			MaxTokens: r.opts.MaxTokens,
			System:    req.SystemPrompt,
			Messages:  ru.conv.Messages,
			Tools:     tools,
		})
		if err != nil {
			return r.fail(ru, llm.Classify(err))
		}

		ru.conv.Turns++
		ru.conv.InputTokens += resp.Usage.InputTokens
		ru.res.OutputTokens += resp.Usage.OutputTokens
		ru.conv.Messages = append(ru.conv.Messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		text := resp.Text()
		if strings.TrimSpace(text) != "" {
			ru.texts = append(ru.texts, strings.TrimSpace(text))
		}
		r.record(sess, session.TurnEvent(session.TurnData{
			Number:       ru.conv.Turns,
			StopReason:   string(resp.StopReason),
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TextBytes:    len(text),
		}))
		if err := r.history.Save(ctx, req.TicketID, req.PersonaID, ru.conv); err != nil {
			return r.fail(ru, err)
		}

		if r.opts.MaxInputTokens > 0 && ru.conv.InputTokens >= r.opts.MaxInputTokens {
			ru.logger.Warn("context ceiling reached", "input_tokens", ru.conv.InputTokens)
			return r.end(ctx, ru, OutcomeBlocked, false)
		}
		if r.opts.WarnInputTokens > 0 && !ru.warned && ru.conv.InputTokens >= r.opts.WarnInputTokens {
			ru.warned = true
			r.record(sess, session.StatusEvent(fmt.Sprintf("context usage at %d input tokens", ru.conv.InputTokens)))
		}

		uses := resp.ToolUses()
		matched := r.matchPattern(text)
		if matched != "" {
			ru.res.MatchedPattern = matched
		}
		if len(uses) == 0 || (matched != "" && resp.StopReason == llm.StopEndTurn) {
			return r.end(ctx, ru, OutcomeCompleted, true)
		}

		if err := r.executeTools(ctx, ru, uses); err != nil {
			return r.fail(ru, err)
		}
	}
}

func (r *Runtime) executeTools(ctx context.Context, ru *run, uses []llm.ToolUse) error {
	sess := ru.req.Session
	results := make([]llm.ContentBlock, 0, len(uses))
	for _, use := range uses {
		r.record(sess, session.ToolCallEvent(session.ToolCallData{ID: use.ID, Name: use.Name, Input: string(use.Input)}))
		out := ru.executor.Execute(ctx, use)
		r.record(sess, session.ToolResultEvent(session.ToolResultData{
			ID:        use.ID,
			Name:      use.Name,
			Bytes:     len(out.Content),
			Truncated: out.Truncated,
			IsError:   out.IsError,
		}))
		results = append(results, llm.ToolResultBlock(use.ID, out.Content, out.IsError))
	}
	ru.conv.Messages = append(ru.conv.Messages, llm.Message{Role: llm.RoleUser, Content: results})
	return r.history.Save(ctx, ru.req.TicketID, ru.req.PersonaID, ru.conv)
}

func (r *Runtime) matchPattern(text string) string {
	lower := strings.ToLower(text)
	for _, p := range r.opts.CompletionPatterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return p
		}
	}
	return ""
}

// end finalizes the run. Finished conversations drop their transcript;
// every other outcome keeps it for the next attempt.
func (r *Runtime) end(ctx context.Context, ru *run, outcome Outcome, finished bool) (Result, error) {
	sess := ru.req.Session
	ru.res.Outcome = outcome
	ru.res.Turns = ru.conv.Turns
	ru.res.InputTokens = ru.conv.InputTokens
	ru.res.Duration = r.now().Sub(ru.started)
	ru.res.Text = strings.Join(ru.texts, "\n\n")
	if ru.warned {
		ru.res.Text += fmt.Sprintf("\n\n> Note: this conversation used %d input tokens and is close to its context limit.", ru.conv.InputTokens)
	}

	if finished {
		if err := r.history.Clear(ctx, ru.req.TicketID, ru.req.PersonaID); err != nil {
			ru.logger.Warn("conversation history not cleared", "error", err)
		}
	} else if err := r.history.Save(ctx, ru.req.TicketID, ru.req.PersonaID, ru.conv); err != nil {
		ru.logger.Warn("conversation history not saved", "error", err)
	}

	if err := sess.WriteFile(session.OutputFile, ru.res.Text); err != nil {
		ru.logger.Warn("conversation output not written", "error", err)
	}

	switch outcome {
	case OutcomeTimeout:
		r.record(sess, session.TimeoutEvent(session.TimeoutData{
			After:   ru.res.Duration.Round(time.Millisecond).String(),
			Partial: len(ru.res.Text),
		}))
	case OutcomeBlocked:
		r.record(sess, session.ErrorEvent(session.ErrorData{
			Kind:    string(domain.KindContextLimitExceeded),
			Message: fmt.Sprintf("input tokens %d reached the ceiling of %d", ru.conv.InputTokens, r.opts.MaxInputTokens),
		}))
	default:
		r.record(sess, session.CompleteEvent(session.CompleteData{
			OutputBytes: len(ru.res.Text),
			Duration:    ru.res.Duration.Round(time.Millisecond).String(),
			Outcome:     string(outcome),
		}))
	}
	ru.logger.Info("conversation ended", "outcome", outcome, "turns", ru.res.Turns, "input_tokens", ru.res.InputTokens)
	return ru.res, nil
}

func (r *Runtime) fail(ru *run, err error) (Result, error) {
	sess := ru.req.Session
	kind, _ := domain.KindOf(err)
	r.record(sess, session.ErrorEvent(session.ErrorData{Kind: string(kind), Message: err.Error()}))
	ru.logger.Error("conversation failed", "error", err, "turns", ru.conv.Turns)
	ru.res.Turns = ru.conv.Turns
	ru.res.InputTokens = ru.conv.InputTokens
	ru.res.Text = strings.Join(ru.texts, "\n\n")
	return ru.res, err
}

func (r *Runtime) record(sess *session.Context, ev session.Event) {
	if err := sess.Record(ev); err != nil {
		r.logger.Warn("session event not recorded", "kind", ev.Kind, "error", err)
	}
}

func toolUses(m llm.Message) []llm.ToolUse {
	var out []llm.ToolUse
	for _, b := range m.Content {
		if b.Type == llm.ContentToolUse && b.ToolUse != nil {
			out = append(out, *b.ToolUse)
		}
	}
	return out
}

func formatDeadline(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
