package inspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/session"
)

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func writeSession(t *testing.T, root string) *session.Context {
	t.Helper()
	m, err := session.NewManager(root)
	require.NoError(t, err)

	sc, err := m.Create(context.Background(), domain.Ticket{ID: "t1", Key: "WEB-7"}, domain.PhaseResearch, "p-rita")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Close() })

	events := []session.Event{
		session.SpawnEvent(session.SpawnData{Strategy: "conversation", Cwd: "/tmp/ws", Deadline: "10m0s"}),
		session.TurnEvent(session.TurnData{Number: 1, StopReason: "tool_use", InputTokens: 120, OutputTokens: 40}),
		session.ToolCallEvent(session.ToolCallData{ID: "c1", Name: "read_file", Input: `{"path": "main.go"}`}),
		session.ToolResultEvent(session.ToolResultData{ID: "c1", Name: "read_file", Bytes: 2048, IsError: true}),
		session.TurnEvent(session.TurnData{Number: 2, StopReason: "end_turn", InputTokens: 300, OutputTokens: 90}),
		session.CompleteEvent(session.CompleteData{Outcome: "success", OutputBytes: 512, Duration: "4s"}),
	}
	for i, ev := range events {
		ev.At = t0.Add(time.Duration(i) * time.Second)
		require.NoError(t, sc.Record(ev))
	}
	require.NoError(t, sc.WriteFile(session.OutputFile, "## Findings\n"))
	require.NoError(t, sc.WriteFile(session.TaskFile, "research it"))
	return sc
}

func TestBuildReportRendersSession(t *testing.T) {
	t.Parallel()

	sc := writeSession(t, t.TempDir())

	out, err := BuildReport(sc.Dir)
	require.NoError(t, err)

	for _, needle := range []string{
		"Session Report",
		"Ticket      : WEB-7",
		"Phase       : research",
		"Persona     : p-rita",
		"Strategy    : conversation",
		"Outcome     : success (exit 0)",
		"Duration    : 5s",
		"Turns       : 2 (tokens in 420, out 130)",
		"Tool calls  : 1 (1 failed)",
		"output.md (12B)",
		"task.md",
		"session.jsonl",
		"read_file {\"path\": \"main.go\"}",
		"read_file 2048B error",
	} {
		assert.Contains(t, out, needle)
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()

	sc := writeSession(t, t.TempDir())

	out, err := BuildJSONReport(sc.Dir)
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "WEB-7", report.TicketKey)
	assert.Equal(t, "research", report.Phase)
	assert.Equal(t, "success", report.Outcome)
	assert.Equal(t, 2, report.Turns)
	assert.Len(t, report.Timeline, 6)
	assert.Equal(t, "spawn", report.Timeline[0].Kind)
	assert.True(t, report.StartedAt.Equal(t0))
}

func TestUnfinishedSessionIsRunning(t *testing.T) {
	t.Parallel()

	m, err := session.NewManager(t.TempDir())
	require.NoError(t, err)
	sc, err := m.Create(context.Background(), domain.Ticket{ID: "t2", Key: "WEB-8"}, domain.PhasePlanning, "")
	require.NoError(t, err)
	defer sc.Close()
	require.NoError(t, sc.Record(session.SpawnEvent(session.SpawnData{Strategy: "cli", Command: "agent", PID: 42, Deadline: "5m0s"})))

	report, err := Load(sc.Dir)
	require.NoError(t, err)
	assert.Equal(t, "running", report.Outcome)
	assert.Empty(t, report.Duration)
	assert.Empty(t, report.PersonaID)
	assert.Equal(t, "cli agent pid=42 deadline=5m0s", report.Timeline[0].Detail)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sc := writeSession(t, root)

	dir, err := Resolve(root, sc.Dir)
	require.NoError(t, err)
	assert.Equal(t, sc.Dir, dir)

	dir, err = Resolve(root, "WEB-7")
	require.NoError(t, err)
	assert.Equal(t, sc.Dir, dir)

	_, err = Resolve(root, "WEB-99")
	assert.ErrorContains(t, err, "no sessions found")

	_, err = Resolve(root, " ")
	assert.Error(t, err)

	_, err = Load(filepath.Join(root, "missing"))
	assert.True(t, err != nil && strings.Contains(err.Error(), "read session log"))
}
