package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchyard/internal/events"
)

const shownEvents = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Muted.Render("  Waiting for events..."),
		)
		return theme.Frame.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= shownEvents {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Frame.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Muted.Render(e.At.Local().Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case e.Type == events.SystemResumed:
		typeStyle = theme.Done
	case e.Type == events.SystemPaused:
		typeStyle = theme.Failed
	case strings.HasPrefix(e.Type, "dispatch."):
		typeStyle = theme.Status(strings.TrimPrefix(e.Type, "dispatch."))
	case strings.HasPrefix(e.Type, "scheduler."):
		typeStyle = theme.Accent
	default:
		typeStyle = theme.Muted
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-25s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

// extractEventDesc picks the fields worth a glance out of an event payload.
func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if key, ok := data["ticket_key"].(string); ok && key != "" {
		parts = append(parts, key)
	} else if id, ok := data["ticket_id"].(string); ok && id != "" {
		parts = append(parts, id)
	}
	for _, field := range []string{"persona_id", "phase", "document_type", "outcome", "reason", "kind"} {
		if v, ok := data[field].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	if e.Type == events.SchedulerSweepCompleted {
		parts = append(parts, fmt.Sprintf("selected=%v dispatched=%v failed=%v",
			data["selected"], data["dispatched"], data["failed"]))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
