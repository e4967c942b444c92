package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/devbench/internal/notify"
)

const streamRows = 8

func renderEventStream(eventLog []notify.Event, names map[string]string, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENTS"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= streamRows {
			break
		}
		lines = append(lines, formatEvent(e, names[e.DevbenchID], theme))
	}

	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("EVENTS"), body))
}

func formatEvent(e notify.Event, name string, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	if name == "" {
		name = shortID(e.DevbenchID)
	}

	var kind, desc string
	switch e.Kind {
	case notify.KindStatus:
		kind = theme.ForState(e.State).Render(fmt.Sprintf("%-9s", e.State))
		desc = e.LastError
	case notify.KindComplete:
		line := completionLine(e)
		style := theme.StateActive
		if e.TimedOut || (e.ExitCode != nil && *e.ExitCode != 0) {
			style = theme.StateError
		}
		kind = style.Render(fmt.Sprintf("%-9s", e.Verb))
		desc = strings.TrimPrefix(line, "── "+e.Verb+" ")
	default:
		kind = theme.Dim.Render(fmt.Sprintf("%-9s", e.Verb))
		desc = e.Text
	}
	if len(desc) > 60 {
		desc = desc[:60] + "..."
	}
	return fmt.Sprintf("%s %-16s %s %s", ts, name, kind, desc)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
