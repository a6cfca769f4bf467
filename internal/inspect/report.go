// Package inspect renders what happened in one dispatch session from the
// files it left on disk.
package inspect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/switchyard/internal/session"
)

// Report is the structured JSON representation of a session report.
type Report struct {
	Dir          string    `json:"dir"`
	TicketKey    string    `json:"ticket_key"`
	Phase        string    `json:"phase"`
	PersonaID    string    `json:"persona_id,omitempty"`
	Strategy     string    `json:"strategy"`
	Resumed      bool      `json:"resumed"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitzero"`
	Duration     string    `json:"duration,omitempty"`
	Outcome      string    `json:"outcome"`
	ExitCode     int       `json:"exit_code"`
	LastError    string    `json:"last_error,omitempty"`
	Turns        int       `json:"turns"`
	ToolCalls    int       `json:"tool_calls"`
	ToolErrors   int       `json:"tool_errors"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Files        []string  `json:"files"`
	Timeline     []Line    `json:"timeline"`
}

// Line is one event of the session log, flattened for display.
type Line struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Resolve turns a command-line target into a session directory. A target
// that is itself a session directory is returned as is; otherwise it is
// treated as a ticket key and its most recent session under root is used.
func Resolve(root, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("session directory or ticket key is required")
	}
	if _, err := os.Stat(filepath.Join(target, session.EventsFile)); err == nil {
		return target, nil
	}

	m, err := session.NewManager(root)
	if err != nil {
		return "", err
	}
	dirs, err := m.List(target)
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("no sessions found for %q under %s", target, root)
	}
	return dirs[len(dirs)-1], nil
}

// Load reads a session directory into a Report.
func Load(dir string) (*Report, error) {
	events, err := session.ReadEvents(filepath.Join(dir, session.EventsFile))
	if err != nil {
		return nil, fmt.Errorf("read session log: %w", err)
	}
	sum := session.Replay(events)

	report := &Report{
		Dir:          dir,
		TicketKey:    filepath.Base(filepath.Dir(dir)),
		Strategy:     renderUnset(sum.Strategy, "<unknown>"),
		Resumed:      sum.Resumed,
		StartedAt:    sum.StartedAt,
		EndedAt:      sum.EndedAt,
		Outcome:      renderUnset(sum.Outcome, "running"),
		ExitCode:     sum.ExitCode,
		LastError:    sum.LastError,
		Turns:        sum.Turns,
		ToolCalls:    sum.ToolCalls,
		ToolErrors:   sum.ToolErrors,
		InputTokens:  sum.InputTokens,
		OutputTokens: sum.OutputTokens,
		Timeline:     make([]Line, 0, len(events)),
	}
	if phase, started, persona, ok := session.ParseDirName(filepath.Base(dir)); ok {
		report.Phase = string(phase)
		report.PersonaID = persona
		if report.StartedAt.IsZero() {
			report.StartedAt = started
		}
	}
	if sum.Finished() && !sum.StartedAt.IsZero() {
		report.Duration = sum.EndedAt.Sub(sum.StartedAt).Round(time.Millisecond).String()
	}
	for _, ev := range events {
		report.Timeline = append(report.Timeline, Line{At: ev.At, Kind: string(ev.Kind), Detail: describe(ev)})
	}

	files, err := listFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list session files: %w", err)
	}
	report.Files = files
	return report, nil
}

// BuildReport renders a terminal-friendly report for a session directory.
func BuildReport(dir string) (string, error) {
	report, err := Load(dir)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Session Report\n")
	fmt.Fprintf(&out, "Directory   : %s\n", report.Dir)
	fmt.Fprintf(&out, "Ticket      : %s\n", report.TicketKey)
	fmt.Fprintf(&out, "Phase       : %s\n", renderUnset(report.Phase, "<unknown>"))
	fmt.Fprintf(&out, "Persona     : %s\n", renderUnset(report.PersonaID, "<none>"))
	fmt.Fprintf(&out, "Strategy    : %s\n", report.Strategy)
	if report.Resumed {
		fmt.Fprintf(&out, "Resumed     : yes\n")
	}
	fmt.Fprintf(&out, "Started     : %s\n", formatTime(report.StartedAt))
	fmt.Fprintf(&out, "Outcome     : %s (exit %d)\n", report.Outcome, report.ExitCode)
	if report.Duration != "" {
		fmt.Fprintf(&out, "Duration    : %s\n", report.Duration)
	}
	if report.LastError != "" {
		fmt.Fprintf(&out, "Error       : %s\n", report.LastError)
	}
	if report.Turns > 0 || report.ToolCalls > 0 {
		fmt.Fprintf(&out, "Turns       : %d (tokens in %d, out %d)\n", report.Turns, report.InputTokens, report.OutputTokens)
		fmt.Fprintf(&out, "Tool calls  : %d (%d failed)\n", report.ToolCalls, report.ToolErrors)
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Files\n")
	if len(report.Files) == 0 {
		fmt.Fprintf(&out, "  <none>\n")
	}
	for _, f := range report.Files {
		fmt.Fprintf(&out, "  - %s\n", f)
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Timeline\n")
	for _, line := range report.Timeline {
		fmt.Fprintf(&out, "  %s  %-11s %s\n", line.At.UTC().Format("15:04:05.000"), line.Kind, line.Detail)
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON session report.
func BuildJSONReport(dir string) (string, error) {
	report, err := Load(dir)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func describe(ev session.Event) string {
	switch {
	case ev.Spawn != nil:
		s := ev.Spawn.Strategy
		if ev.Spawn.Command != "" {
			s += " " + ev.Spawn.Command
		}
		if ev.Spawn.PID != 0 {
			s += fmt.Sprintf(" pid=%d", ev.Spawn.PID)
		}
		return s + " deadline=" + ev.Spawn.Deadline
	case ev.Turn != nil:
		return fmt.Sprintf("#%d %s in=%d out=%d", ev.Turn.Number, ev.Turn.StopReason, ev.Turn.InputTokens, ev.Turn.OutputTokens)
	case ev.ToolCall != nil:
		return ev.ToolCall.Name + " " + truncate(ev.ToolCall.Input, 60)
	case ev.ToolResult != nil:
		s := fmt.Sprintf("%s %dB", ev.ToolResult.Name, ev.ToolResult.Bytes)
		if ev.ToolResult.Truncated {
			s += " truncated"
		}
		if ev.ToolResult.IsError {
			s += " error"
		}
		return s
	case ev.Status != nil:
		return ev.Status.Message
	case ev.Timeout != nil:
		return fmt.Sprintf("after %s killed=%t partial=%dB", ev.Timeout.After, ev.Timeout.Killed, ev.Timeout.Partial)
	case ev.Complete != nil:
		return fmt.Sprintf("%s exit=%d output=%dB in %s", ev.Complete.Outcome, ev.Complete.ExitCode, ev.Complete.OutputBytes, ev.Complete.Duration)
	case ev.Error != nil:
		if ev.Error.Kind != "" {
			return ev.Error.Kind + ": " + ev.Error.Message
		}
		return ev.Error.Message
	}
	return ""
}

func listFiles(dir string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dir || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, fmt.Sprintf("%s (%dB)", filepath.ToSlash(rel), info.Size()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "<unknown>"
	}
	return t.UTC().Format(time.RFC3339)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
