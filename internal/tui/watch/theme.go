// Package watch is the terminal dashboard for a running switchyard: live
// dispatches, scheduler sweeps and the raw event stream, fed by the API's
// /events endpoint.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds every style the dashboard renders with.
type Theme struct {
	Done    lipgloss.Style
	Active  lipgloss.Style
	Failed  lipgloss.Style
	Skipped lipgloss.Style

	Frame  lipgloss.Style
	Title  lipgloss.Style
	Header lipgloss.Style
	Muted  lipgloss.Style
	Accent lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	grey := fg("#7F848E")

	return Theme{
		Done:    fg("#98C379"),
		Active:  fg("#E5C07B"),
		Failed:  fg("#E06C75"),
		Skipped: grey,

		Frame:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#5C6370")),
		Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#DCDFE4")).Padding(0, 1),
		Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Muted:  grey,
		Accent: fg("#C678DD"),

		PulseOn:  fg("#98C379"),
		PulseOff: fg("#3E4451"),
	}
}

// Status picks the style for a dispatch status or the suffix of a
// dispatch.* event type.
func (t Theme) Status(status string) lipgloss.Style {
	switch status {
	case statusCompleted:
		return t.Done
	case statusRunning, "started":
		return t.Active
	case statusFailed:
		return t.Failed
	}
	return t.Skipped
}
