package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/devbench/internal/devbench"
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	Status          string
	UptimeSeconds   int64
	Devbenches      map[string]int
	LiveConnections int
	Reachable       bool
	LiveConnected   bool
	LastCheck       time.Time
}

var headerStates = []devbench.State{
	devbench.StateActive,
	devbench.StateCreating,
	devbench.StateInactive,
	devbench.StateError,
}

func renderHeader(user string, health HealthState, pulse Pulse, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StateActive.Render("LIVE")
	switch {
	case !health.Reachable:
		statusText = theme.StateError.Render("UNREACHABLE")
	case !health.LiveConnected:
		statusText = theme.StateCreating.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StateError.Render("DEGRADED")
	}

	title := fmt.Sprintf(" DEVBENCH WATCH %s", theme.Highlight.Render(user))
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4, 1)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	counts := make([]string, 0, len(headerStates))
	for _, s := range headerStates {
		counts = append(counts, theme.ForState(string(s)).Render(fmt.Sprintf("%s %d", s, health.Devbenches[string(s)])))
	}
	statsLine := fmt.Sprintf(" %s  up %s  %s  live: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		strings.Join(counts, "  "),
		health.LiveConnections,
	)

	lastEvent := "never"
	if !pulse.LastEvent().IsZero() {
		lastEvent = now.Sub(pulse.LastEvent()).Round(time.Second).String() + " ago"
	}
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, pulse.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}
