package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks daemon health from /healthz polling and system events.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Paused        bool
	PauseReason   string
	Connected     bool
	LastCheck     time.Time
}

const pulseDots = 5

// pulse lights up on events and fades one dot every two seconds.
func pulse(lastEvent, now time.Time, theme Theme) string {
	lit := 0
	if !lastEvent.IsZero() {
		lit = max(pulseDots-int(now.Sub(lastEvent)/(2*time.Second)), 0)
	}
	var b strings.Builder
	for i := range pulseDots {
		if i < lit {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, spin string, lastEvent, now time.Time, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.Done.Render("RUNNING")
	switch {
	case !health.Connected:
		statusText = theme.Failed.Render("CONNECTING")
	case health.Paused:
		statusText = theme.Accent.Render("PAUSED")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.Failed.Render("DEGRADED")
	}

	uptime := formatDuration(time.Duration(health.UptimeSeconds) * time.Second)

	lastEventStr := "never"
	if !lastEvent.IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", now.Sub(lastEvent).Round(time.Second))
	}

	clock := theme.Muted.Render(now.Format("15:04:05"))
	titleText := " " + theme.Header.Render("SWITCHYARD WATCH") + " " + spin
	pad := max(innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4, 1)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s", statusText, uptime)
	if health.Paused && health.PauseReason != "" {
		statsLine += "  " + theme.Muted.Render("reason: "+health.PauseReason)
	}

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, pulse(lastEvent, now, theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Frame.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
