package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newSession(t *testing.T) *session.Context {
	t.Helper()
	mgr, err := session.NewManager(t.TempDir())
	require.NoError(t, err)
	sess, err := mgr.Create(context.Background(), domain.Ticket{ID: "t1", Key: "WEB-1"}, domain.PhaseResearch, "p1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func events(t *testing.T, sess *session.Context) []session.Event {
	t.Helper()
	evs, err := session.ReadEvents(sess.EventsPath())
	require.NoError(t, err)
	return evs
}

func TestRunCompleted(t *testing.T) {
	script := writeScript(t, `
printf '%s\n' "$@" > args.txt
echo "$DISABLE_AUTOUPDATER" > env.txt
cat > stdin.txt
echo "Research findings: the cache layer needs a TTL and the writer must batch."
`)
	cwd := t.TempDir()
	sess := newSession(t)
	sup := New(Options{Command: script, Args: []string{"-p"}, MinOutputBytes: 20})

	res, err := sup.Run(context.Background(), Request{
		Session:      sess,
		SystemPrompt: "you are a researcher",
		Task:         "investigate the cache",
		Cwd:          cwd,
		Deadline:     time.Now().Add(10 * time.Second),
		ToolsAllowed: []string{"Read", "Grep"},
	})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 0, res.ExitCode)
	assert.NoError(t, res.Err())
	assert.Contains(t, res.Stdout, "Research findings")

	args, err := os.ReadFile(filepath.Join(cwd, "args.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-p", "--allowedTools", "Read,Grep",
		"--append-system-prompt-file", sess.SystemPromptPath(),
		"--no-session-persistence",
	}, strings.Fields(string(args)))

	env, _ := os.ReadFile(filepath.Join(cwd, "env.txt"))
	assert.Equal(t, "1", strings.TrimSpace(string(env)))
	stdin, _ := os.ReadFile(filepath.Join(cwd, "stdin.txt"))
	assert.Equal(t, "investigate the cache", string(stdin))

	prompt, _ := os.ReadFile(sess.SystemPromptPath())
	assert.Equal(t, "you are a researcher", string(prompt))
	task, _ := os.ReadFile(sess.TaskPath())
	assert.Equal(t, "investigate the cache", string(task))
	out, _ := os.ReadFile(sess.OutputPath())
	assert.Contains(t, string(out), "Research findings")

	evs := events(t, sess)
	require.Len(t, evs, 2)
	assert.Equal(t, session.KindSpawn, evs[0].Kind)
	assert.Equal(t, cwd, evs[0].Spawn.Cwd)
	assert.Equal(t, session.KindComplete, evs[1].Kind)
	assert.Equal(t, OutcomeCompleted, evs[1].Complete.Outcome)
}

func TestRunUnwrapsEnvelope(t *testing.T) {
	script := writeScript(t, `echo '{"type":"result","subtype":"success","is_error":false,"result":"## Plan\n\n1. add index"}'`)
	sess := newSession(t)
	sup := New(Options{Command: script, MinOutputBytes: 5})

	res, err := sup.Run(context.Background(), Request{Session: sess, Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, "## Plan\n\n1. add index", res.Stdout)

	out, _ := os.ReadFile(sess.OutputPath())
	assert.Equal(t, "## Plan\n\n1. add index", string(out))
}

func TestRunEnvelopeError(t *testing.T) {
	script := writeScript(t, `echo '{"type":"result","is_error":true,"result":"Credit balance is too low to continue"}'`)
	sup := New(Options{Command: script, MinOutputBytes: 5})

	res, err := sup.Run(context.Background(), Request{Session: newSession(t), Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.True(t, res.AgentError)
	assert.ErrorIs(t, res.Err(), domain.ErrProcessFailure)
}

func TestRunInsufficientOutput(t *testing.T) {
	script := writeScript(t, `echo "ok"`)
	sess := newSession(t)
	sup := New(Options{Command: script, MinOutputBytes: 50})

	res, err := sup.Run(context.Background(), Request{Session: sess, Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Completed)
	assert.ErrorIs(t, res.Err(), domain.ErrProcessFailure)

	evs := events(t, sess)
	require.Len(t, evs, 2)
	assert.Equal(t, OutcomeInsufficient, evs[1].Complete.Outcome)
}

func TestRunNonZeroExit(t *testing.T) {
	script := writeScript(t, `
echo "a long enough body of output that would otherwise pass the gate"
echo "boom" >&2
exit 3
`)
	sess := newSession(t)
	sup := New(Options{Command: script, MinOutputBytes: 10})

	res, err := sup.Run(context.Background(), Request{Session: sess, Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Completed)
	assert.Contains(t, res.Stderr, "boom")
	assert.ErrorIs(t, res.Err(), domain.ErrProcessFailure)

	stderr, _ := os.ReadFile(sess.StderrPath())
	assert.Contains(t, string(stderr), "boom")

	evs := events(t, sess)
	require.Len(t, evs, 2)
	assert.Equal(t, session.KindError, evs[1].Kind)
	assert.Equal(t, 3, evs[1].Error.ExitCode)
	assert.Equal(t, "boom", evs[1].Error.Message)
}

func TestRunTimeoutWinsOverOutput(t *testing.T) {
	script := writeScript(t, `
echo "plenty of output printed before the agent hangs on something slow"
sleep 30
`)
	sess := newSession(t)
	sup := New(Options{Command: script, Grace: 500 * time.Millisecond, MinOutputBytes: 10})

	start := time.Now()
	res, err := sup.Run(context.Background(), Request{
		Session:  sess,
		Cwd:      t.TempDir(),
		Deadline: time.Now().Add(300 * time.Millisecond),
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Completed)
	assert.ErrorIs(t, res.Err(), domain.ErrProcessTimeout)

	evs := events(t, sess)
	require.Len(t, evs, 2)
	assert.Equal(t, session.KindTimeout, evs[1].Kind)
	assert.Positive(t, evs[1].Timeout.Partial)
}

func TestRunTimeoutEscalatesToKill(t *testing.T) {
	script := writeScript(t, `
trap '' TERM
while true; do sleep 1; done
`)
	sup := New(Options{Command: script, Grace: 300 * time.Millisecond})

	start := time.Now()
	res, err := sup.Run(context.Background(), Request{
		Session:  newSession(t),
		Cwd:      t.TempDir(),
		Deadline: time.Now().Add(200 * time.Millisecond),
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestStartReturnsHandle(t *testing.T) {
	script := writeScript(t, `sleep 0.2; echo "finished work that is long enough to count"`)
	sup := New(Options{Command: script, MinOutputBytes: 10})

	h, err := sup.Start(context.Background(), Request{Session: newSession(t), Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.Positive(t, h.PID)

	select {
	case res := <-h.Done():
		assert.True(t, res.Completed)
	case <-time.After(10 * time.Second):
		t.Fatal("handle never delivered a result")
	}
	_, open := <-h.Done()
	assert.False(t, open)
}

func TestRunCanceled(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	sup := New(Options{Command: script, Grace: 300 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	h, err := sup.Start(ctx, Request{Session: newSession(t), Cwd: t.TempDir()})
	require.NoError(t, err)
	cancel()

	res := <-h.Done()
	assert.True(t, res.Canceled)
	assert.False(t, res.TimedOut)
	assert.False(t, res.Completed)
}

func TestStartMissingCommand(t *testing.T) {
	sess := newSession(t)
	sup := New(Options{Command: filepath.Join(t.TempDir(), "does-not-exist")})

	_, err := sup.Start(context.Background(), Request{Session: sess, Cwd: t.TempDir()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProcessFailure))

	evs := events(t, sess)
	require.Len(t, evs, 1)
	assert.Equal(t, session.KindError, evs[0].Kind)
}

func TestStartRequiresSession(t *testing.T) {
	_, err := New(Options{Command: "true"}).Start(context.Background(), Request{})
	assert.Error(t, err)
}

func TestOutputCap(t *testing.T) {
	script := writeScript(t, `
i=0
while [ $i -lt 200 ]; do echo "0123456789"; i=$((i+1)); done
`)
	sess := newSession(t)
	sup := New(Options{Command: script, OutputCapBytes: 100})

	res, err := sup.Run(context.Background(), Request{Session: sess, Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.Len(t, res.Stdout, 100)
	assert.True(t, res.Truncated)

	out, _ := os.ReadFile(sess.OutputPath())
	assert.Len(t, out, 200*11)
}
