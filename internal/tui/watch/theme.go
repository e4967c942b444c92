// Package watch implements the devbench watch TUI: a live view of the
// caller's devbenches fed by the websocket channel.
package watch

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/devbench/internal/devbench"
)

// Theme keeps every color the watch screen uses in one place.
type Theme struct {
	StateActive   lipgloss.Style
	StateCreating lipgloss.Style
	StateInactive lipgloss.Style
	StateError    lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Stderr    lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style

	Table table.Styles
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	return Theme{
		StateActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StateCreating: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StateInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		StateError:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Stderr:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),

		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),

		Table: ts,
	}
}

// ForState picks the style for a lifecycle state name.
func (t Theme) ForState(state string) lipgloss.Style {
	switch devbench.State(state) {
	case devbench.StateActive:
		return t.StateActive
	case devbench.StateCreating:
		return t.StateCreating
	case devbench.StateError:
		return t.StateError
	default:
		return t.StateInactive
	}
}
