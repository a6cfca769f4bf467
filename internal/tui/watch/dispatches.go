package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchyard/internal/events"
)

const (
	statusRunning   = "running"
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusSkipped   = "skipped"
)

// maxFinished bounds how many finished dispatches stay on screen.
const maxFinished = 30

// DispatchState tracks one persona working one ticket, as seen in events.
type DispatchState struct {
	TicketID     string
	TicketKey    string
	PersonaID    string
	Role         string
	Phase        string
	Status       string
	Outcome      string
	DocumentType string
	Version      int
	Detail       string
	StartTime    time.Time
	EndTime      time.Time
}

type dispatchPayload struct {
	TicketID     string `json:"ticket_id"`
	TicketKey    string `json:"ticket_key"`
	PersonaID    string `json:"persona_id"`
	Role         string `json:"role"`
	Phase        string `json:"phase"`
	Outcome      string `json:"outcome"`
	DocumentType string `json:"document_type"`
	Version      int    `json:"version"`
	Kind         string `json:"kind"`
	Error        string `json:"error"`
	Reason       string `json:"reason"`
	Detail       string `json:"detail"`
}

// updateDispatchState folds a dispatch.* event into the tracked set.
func updateDispatchState(dispatches map[string]*DispatchState, e events.Event, now time.Time) {
	var p dispatchPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.TicketID == "" {
		return
	}
	key := p.TicketID + "/" + p.PersonaID

	d, ok := dispatches[key]
	if !ok {
		d = &DispatchState{TicketID: p.TicketID, PersonaID: p.PersonaID}
		dispatches[key] = d
	}
	if p.TicketKey != "" {
		d.TicketKey = p.TicketKey
	}
	if p.Role != "" {
		d.Role = p.Role
	}
	if p.Phase != "" {
		d.Phase = p.Phase
	}

	switch e.Type {
	case events.DispatchStarted:
		d.Status = statusRunning
		d.StartTime, d.EndTime = now, time.Time{}
		d.Outcome, d.DocumentType, d.Version, d.Detail = "", "", 0, ""
	case events.DispatchCompleted:
		d.Status = statusCompleted
		d.EndTime = now
		d.Outcome, d.DocumentType, d.Version = p.Outcome, p.DocumentType, p.Version
	case events.DispatchFailed:
		d.Status = statusFailed
		d.EndTime = now
		d.Outcome = p.Outcome
		d.Detail = p.Error
		if p.Kind != "" {
			d.Detail = p.Kind + ": " + p.Error
		}
	case events.DispatchSkipped:
		d.Status = statusSkipped
		d.StartTime, d.EndTime = now, now
		d.Detail = p.Reason
		if p.Detail != "" {
			d.Detail += " (" + p.Detail + ")"
		}
	default:
		if !ok {
			delete(dispatches, key)
		}
		return
	}

	pruneFinished(dispatches)
}

func pruneFinished(dispatches map[string]*DispatchState) {
	var finished []string
	for k, d := range dispatches {
		if d.Status != statusRunning {
			finished = append(finished, k)
		}
	}
	if len(finished) <= maxFinished {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return dispatches[finished[i]].EndTime.Before(dispatches[finished[j]].EndTime)
	})
	for _, k := range finished[:len(finished)-maxFinished] {
		delete(dispatches, k)
	}
}

// sortedDispatches puts running dispatches first, newest first within each
// group.
func sortedDispatches(dispatches map[string]*DispatchState) []*DispatchState {
	out := make([]*DispatchState, 0, len(dispatches))
	for _, d := range dispatches {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Status == statusRunning) != (b.Status == statusRunning) {
			return a.Status == statusRunning
		}
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.After(b.StartTime)
		}
		return a.TicketID+a.PersonaID < b.TicketID+b.PersonaID
	})
	return out
}

func newDispatchTable() table.Model {
	t := table.New(
		table.WithColumns(dispatchColumns(80)),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func dispatchColumns(width int) []table.Column {
	detail := max(width-12-14-10-14-11-10-14, 10)
	return []table.Column{
		{Title: "Ticket", Width: 12},
		{Title: "Persona", Width: 14},
		{Title: "Role", Width: 10},
		{Title: "Phase", Width: 14},
		{Title: "Status", Width: 11},
		{Title: "Time", Width: 10},
		{Title: "Detail", Width: detail},
	}
}

func dispatchRows(dispatches []*DispatchState, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(dispatches))
	for _, d := range dispatches {
		ticket := d.TicketKey
		if ticket == "" {
			ticket = d.TicketID
		}
		rows = append(rows, table.Row{
			ticket,
			d.PersonaID,
			d.Role,
			d.Phase,
			d.Status,
			elapsed(d, now),
			dispatchDetail(d),
		})
	}
	return rows
}

func elapsed(d *DispatchState, now time.Time) string {
	if d.StartTime.IsZero() {
		return "-"
	}
	end := d.EndTime
	if end.IsZero() {
		end = now
	}
	return formatDuration(end.Sub(d.StartTime))
}

func dispatchDetail(d *DispatchState) string {
	switch {
	case d.Status == statusCompleted && d.DocumentType != "":
		return fmt.Sprintf("%s v%d", d.DocumentType, d.Version)
	case d.Status == statusCompleted:
		return "reply posted"
	case d.Detail != "":
		return d.Detail
	}
	return d.Outcome
}

func renderDispatches(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render(fmt.Sprintf("DISPATCHES (%d)", count))
	if count == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Muted.Render("  No dispatches observed yet..."),
		)
		return theme.Frame.Width(innerWidth).Render(content)
	}
	return theme.Frame.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, t.View()))
}
