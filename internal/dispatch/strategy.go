package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/switchyard/internal/conversation"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/session"
	"github.com/mattjoyce/switchyard/internal/supervisor"
)

// Execution is one strategy invocation.
type Execution struct {
	Session      *session.Context
	TicketID     string
	SystemPrompt string
	Task         string
	Cwd          string
	Deadline     time.Time
	// Tools is the agent CLI allow-list; ConversationTools names the
	// conversation runtime's tools.
	Tools             []string
	ConversationTools []string
}

// Output is what a strategy produced. Err classifies an unsuccessful run;
// Content and Stderr are still set so the output can be screened.
type Output struct {
	Content string
	Stderr  string
	Outcome string
	Err     error
}

// Strategy executes an agent for one dispatch.
type Strategy interface {
	Execute(ctx context.Context, ex Execution) (Output, error)
}

// CLI runs the external agent CLI under the process supervisor.
type CLI struct {
	Supervisor *supervisor.Supervisor
}

func (c CLI) Execute(ctx context.Context, ex Execution) (Output, error) {
	res, err := c.Supervisor.Run(ctx, supervisor.Request{
		Session:      ex.Session,
		SystemPrompt: ex.SystemPrompt,
		Task:         ex.Task,
		Cwd:          ex.Cwd,
		Deadline:     ex.Deadline,
		ToolsAllowed: ex.Tools,
	})
	if err != nil {
		return Output{}, err
	}
	out := Output{Content: res.Stdout, Stderr: res.Stderr, Err: res.Err()}
	switch {
	case res.Completed:
		out.Outcome = supervisor.OutcomeCompleted
	case res.TimedOut:
		out.Outcome = "timeout"
	case res.Canceled:
		out.Outcome = supervisor.OutcomeCanceled
	case res.ExitCode != 0 || res.AgentError:
		out.Outcome = supervisor.OutcomeAgentError
	default:
		out.Outcome = supervisor.OutcomeInsufficient
	}
	return out, nil
}

// Conversation runs the in-process conversation runtime.
type Conversation struct {
	Runtime *conversation.Runtime
}

func (c Conversation) Execute(ctx context.Context, ex Execution) (Output, error) {
	res, err := c.Runtime.Run(ctx, conversation.RunRequest{
		Session:      ex.Session,
		TicketID:     ex.TicketID,
		SystemPrompt: ex.SystemPrompt,
		Task:         ex.Task,
		Cwd:          ex.Cwd,
		Deadline:     ex.Deadline,
		Tools:        ex.ConversationTools,
	})
	if err != nil {
		return Output{Content: res.Text, Outcome: string(res.Outcome)}, err
	}
	out := Output{Content: res.Text, Outcome: string(res.Outcome), Err: res.Err()}
	if res.Outcome == conversation.OutcomeIncomplete {
		// The transcript is kept; the next dispatch resumes it.
		out.Err = domain.NewError(domain.KindProcessFailure, "conversation.run",
			fmt.Errorf("turn limit reached after %d turns", res.Turns))
	}
	return out, nil
}
