package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/session"
)

const (
	defaultGrace     = 5 * time.Second
	defaultTimeout   = 30 * time.Minute
	defaultOutputCap = 1 << 20
	stderrTail       = 2048
)

// Outcomes recorded on the terminal session event.
const (
	OutcomeCompleted    = "completed"
	OutcomeInsufficient = "insufficient_output"
	OutcomeAgentError   = "agent_error"
	OutcomeCanceled     = "canceled"
)

const autoUpdaterDisabled = "DISABLE_AUTOUPDATER=1"

// Options configure how the agent CLI is launched.
type Options struct {
	Command        string
	Args           []string
	Env            map[string]string
	Timeout        time.Duration
	Grace          time.Duration
	MinOutputBytes int
	OutputCapBytes int
}

// OptionsFromConfig maps the agent section of the config.
func OptionsFromConfig(cfg config.AgentConfig) Options {
	return Options{
		Command:        cfg.Command,
		Args:           cfg.Args,
		Env:            cfg.Env,
		Timeout:        cfg.Timeout,
		Grace:          cfg.Grace,
		MinOutputBytes: cfg.MinOutputBytes,
		OutputCapBytes: cfg.OutputCapBytes,
	}
}

// Request is one agent invocation.
type Request struct {
	Session      *session.Context
	SystemPrompt string
	Task         string
	Cwd          string
	Deadline     time.Time
	ToolsAllowed []string
}

// Result is what the supervisor observed. Stdout holds the unwrapped result
// text when the agent printed a JSON envelope.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	TimedOut   bool
	Canceled   bool
	AgentError bool
	Truncated  bool
	Completed  bool
	Duration   time.Duration
}

// Err classifies an unsuccessful result. It is nil for completed runs.
func (r Result) Err() error {
	switch {
	case r.Completed:
		return nil
	case r.TimedOut:
		return domain.NewError(domain.KindProcessTimeout, "supervisor.run", fmt.Errorf("agent exceeded its deadline after %s", r.Duration.Round(time.Millisecond)))
	case r.Canceled:
		return domain.NewError(domain.KindProcessFailure, "supervisor.run", context.Canceled)
	case r.ExitCode != 0:
		return domain.NewError(domain.KindProcessFailure, "supervisor.run", fmt.Errorf("agent exited with status %d", r.ExitCode))
	case r.AgentError:
		return domain.NewError(domain.KindProcessFailure, "supervisor.run", errors.New("agent reported an error result"))
	}
	return domain.NewError(domain.KindProcessFailure, "supervisor.run", errors.New("agent produced insufficient output"))
}

// Supervisor launches agent processes.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Supervisor {
	if opts.Grace <= 0 {
		opts.Grace = defaultGrace
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.OutputCapBytes <= 0 {
		opts.OutputCapBytes = defaultOutputCap
	}
	return &Supervisor{opts: opts, logger: log.WithComponent("supervisor")}
}

// Handle is a running agent process. Done delivers exactly one Result.
type Handle struct {
	PID  int
	done chan Result
}

func (h *Handle) Done() <-chan Result { return h.done }

// Run starts the agent and waits for it.
func (s *Supervisor) Run(ctx context.Context, req Request) (Result, error) {
	h, err := s.Start(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return <-h.Done(), nil
}

// Start writes the session inputs, spawns the agent in its own process group
// and returns immediately. The deadline clock starts here.
func (s *Supervisor) Start(ctx context.Context, req Request) (*Handle, error) {
	if req.Session == nil {
		return nil, fmt.Errorf("supervisor: request has no session")
	}
	sess := req.Session
	logger := log.WithSession(sess.TicketID, sess.PersonaID, string(sess.Phase), sess.Dir)

	if err := sess.WriteFile(session.SystemPromptFile, req.SystemPrompt); err != nil {
		return nil, err
	}
	if err := sess.WriteFile(session.TaskFile, req.Task); err != nil {
		return nil, err
	}

	budget := s.opts.Timeout
	if !req.Deadline.IsZero() {
		budget = time.Until(req.Deadline)
	}
	deadline := time.Now().Add(budget)

	args := s.args(sess, req.ToolsAllowed)
	cmd := exec.Command(s.opts.Command, args...)
	cmd.Dir = req.Cwd
	cmd.Env = s.env()
	cmd.Stdin = strings.NewReader(req.Task)
	setProcessGroup(cmd)
	// Grandchildren holding the pipes must not keep Wait blocked forever.
	cmd.WaitDelay = s.opts.Grace

	stdoutFile, err := os.Create(sess.OutputPath())
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", session.OutputFile, err)
	}
	stderrFile, err := os.Create(sess.StderrPath())
	if err != nil {
		_ = stdoutFile.Close()
		return nil, fmt.Errorf("create %s: %w", session.StderrFile, err)
	}
	stdout := &sink{file: stdoutFile, mem: newCappedBuffer(s.opts.OutputCapBytes)}
	stderr := &sink{file: stderrFile, mem: newCappedBuffer(s.opts.OutputCapBytes)}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		spawnErr := domain.NewError(domain.KindProcessFailure, "supervisor.start", err)
		s.record(sess, session.ErrorEvent(session.ErrorData{Kind: string(domain.KindProcessFailure), Message: err.Error(), ExitCode: -1}))
		logger.Error("agent failed to start", "command", s.opts.Command, "error", err)
		return nil, spawnErr
	}

	s.record(sess, session.SpawnEvent(session.SpawnData{
		Strategy: config.StrategyCLI,
		Command:  s.opts.Command,
		Args:     args,
		Cwd:      req.Cwd,
		PID:      cmd.Process.Pid,
		Tools:    req.ToolsAllowed,
		Deadline: deadline.UTC().Format(time.RFC3339),
	}))
	logger.Info("agent started", "pid", cmd.Process.Pid, "budget", budget.Round(time.Second))

	h := &Handle{PID: cmd.Process.Pid, done: make(chan Result, 1)}
	go func() {
		defer stdoutFile.Close()
		defer stderrFile.Close()
		res := s.wait(ctx, cmd, budget, logger)
		res.Duration = time.Since(started)
		s.finish(sess, &res, stdout, stderr, logger)
		h.done <- res
		close(h.done)
	}()
	return h, nil
}

func (s *Supervisor) args(sess *session.Context, tools []string) []string {
	args := append([]string(nil), s.opts.Args...)
	if len(tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}
	return append(args,
		"--append-system-prompt-file", sess.SystemPromptPath(),
		"--no-session-persistence",
	)
}

func (s *Supervisor) env() []string {
	env := append(os.Environ(), autoUpdaterDisabled)
	keys := make([]string, 0, len(s.opts.Env))
	for k := range s.opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.opts.Env[k])
	}
	return env
}

// wait blocks until the process exits, the budget expires or ctx is done.
// Expiry and cancellation both escalate SIGTERM to SIGKILL on the group.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd, budget time.Duration, logger *slog.Logger) Result {
	timer := time.NewTimer(budget)
	defer timer.Stop()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var res Result
	select {
	case err := <-waitErr:
		res.ExitCode = exitCode(err)
		return res
	case <-timer.C:
		res.TimedOut = true
		logger.Warn("agent exceeded deadline, sending SIGTERM", "pid", cmd.Process.Pid)
	case <-ctx.Done():
		res.Canceled = true
		logger.Warn("dispatch canceled, sending SIGTERM", "pid", cmd.Process.Pid)
	}

	if err := terminate(cmd); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}
	grace := time.NewTimer(s.opts.Grace)
	defer grace.Stop()
	select {
	case err := <-waitErr:
		res.ExitCode = exitCode(err)
		logger.Info("agent exited after SIGTERM")
	case <-grace.C:
		logger.Warn("agent ignored SIGTERM, sending SIGKILL")
		if err := kill(cmd); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		res.ExitCode = exitCode(<-waitErr)
	}
	return res
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return -1
}

// finish applies the success gate and records the terminal event.
func (s *Supervisor) finish(sess *session.Context, res *Result, stdout, stderr *sink, logger *slog.Logger) {
	raw := stdout.mem.Bytes()
	res.Stdout = string(raw)
	if text, isError, ok := unwrapEnvelope(raw); ok {
		res.Stdout = text
		res.AgentError = isError
		if err := sess.WriteFile(session.OutputFile, text); err != nil {
			logger.Warn("could not rewrite unwrapped output", "error", err)
		}
	}
	res.Stderr = string(stderr.mem.Bytes())
	res.Truncated = stdout.mem.Truncated()

	outputBytes := len(strings.TrimSpace(res.Stdout))
	res.Completed = !res.TimedOut && !res.Canceled && !res.AgentError &&
		res.ExitCode == 0 && outputBytes >= s.opts.MinOutputBytes

	for _, sk := range []*sink{stdout, stderr} {
		if sk.fileErr != nil {
			logger.Warn("session output file incomplete", "error", sk.fileErr)
		}
	}

	switch {
	case res.TimedOut:
		s.record(sess, session.TimeoutEvent(session.TimeoutData{
			After:   res.Duration.Round(time.Millisecond).String(),
			Killed:  res.ExitCode != 0,
			Partial: outputBytes,
		}))
		logger.Warn("agent timed out", "duration", res.Duration, "partial_output_bytes", outputBytes)
	case res.Canceled:
		s.record(sess, session.ErrorEvent(session.ErrorData{Kind: OutcomeCanceled, Message: "dispatch canceled", ExitCode: res.ExitCode}))
	case res.ExitCode != 0:
		s.record(sess, session.ErrorEvent(session.ErrorData{
			Kind:     string(domain.KindProcessFailure),
			Message:  tail(res.Stderr, stderrTail),
			ExitCode: res.ExitCode,
		}))
		logger.Warn("agent exited with non-zero status", "exit_code", res.ExitCode)
	default:
		outcome := OutcomeCompleted
		if res.AgentError {
			outcome = OutcomeAgentError
		} else if !res.Completed {
			outcome = OutcomeInsufficient
		}
		s.record(sess, session.CompleteEvent(session.CompleteData{
			ExitCode:    res.ExitCode,
			OutputBytes: outputBytes,
			Duration:    res.Duration.Round(time.Millisecond).String(),
			Outcome:     outcome,
		}))
		logger.Info("agent finished", "outcome", outcome, "output_bytes", outputBytes, "duration", res.Duration)
	}
}

func (s *Supervisor) record(sess *session.Context, ev session.Event) {
	if err := sess.Record(ev); err != nil {
		s.logger.Warn("session event not recorded", "kind", ev.Kind, "error", err)
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
