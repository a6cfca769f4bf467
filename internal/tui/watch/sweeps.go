package watch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchyard/internal/events"
)

// SweepState is what the most recent scheduler sweeps reported.
type SweepState struct {
	Running     bool
	Sweeps      int
	LastStarted time.Time
	LastEnded   time.Time
	Selected    int
	Dispatched  int
	Failed      int
	LastSkip    string
	LastSkipAt  time.Time
}

type sweepPayload struct {
	Selected   int    `json:"selected"`
	Dispatched int    `json:"dispatched"`
	Failed     int    `json:"failed"`
	Reason     string `json:"reason"`
	Detail     string `json:"detail"`
}

// updateSweepState folds scheduler and system events into s and health.
func updateSweepState(s *SweepState, health *HealthState, e events.Event, now time.Time) {
	var p sweepPayload
	_ = json.Unmarshal(e.Data, &p)

	switch e.Type {
	case events.SchedulerSweepStarted:
		s.Running = true
		s.LastStarted = now
	case events.SchedulerSweepCompleted:
		s.Running = false
		s.Sweeps++
		s.LastEnded = now
		s.Selected, s.Dispatched, s.Failed = p.Selected, p.Dispatched, p.Failed
	case events.SchedulerSkipped:
		s.LastSkip = p.Reason
		if p.Detail != "" {
			s.LastSkip += ": " + p.Detail
		}
		s.LastSkipAt = now
	case events.SystemPaused:
		health.Paused = true
		health.PauseReason = p.Reason
	case events.SystemResumed:
		health.Paused = false
		health.PauseReason = ""
	}
}

func renderSweeps(s SweepState, now time.Time, theme Theme, width int) string {
	innerWidth := width - 4

	var lines []string
	switch {
	case s.Running:
		lines = append(lines, " "+theme.Active.Render("[sweeping]")+
			theme.Muted.Render(fmt.Sprintf(" started %s ago", now.Sub(s.LastStarted).Round(time.Second))))
	case s.Sweeps == 0:
		lines = append(lines, theme.Muted.Render("  No sweep observed yet..."))
	default:
		lines = append(lines, fmt.Sprintf(" last sweep %s ago: selected %d  dispatched %s  failed %s",
			now.Sub(s.LastEnded).Round(time.Second),
			s.Selected,
			theme.Done.Render(fmt.Sprint(s.Dispatched)),
			failedStyle(s.Failed, theme).Render(fmt.Sprint(s.Failed)),
		))
	}
	if s.LastSkip != "" {
		lines = append(lines, theme.Muted.Render(fmt.Sprintf(" skipped %s ago: %s", now.Sub(s.LastSkipAt).Round(time.Second), s.LastSkip)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render(fmt.Sprintf("SCHEDULER (%d sweeps)", s.Sweeps))}, lines...)...,
	)
	return theme.Frame.Width(innerWidth).Render(content)
}

func failedStyle(n int, theme Theme) lipgloss.Style {
	if n > 0 {
		return theme.Failed
	}
	return theme.Muted
}
