package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/devbench/internal/notify"
)

const (
	eventLogSize   = 50
	healthInterval = 5 * time.Second
	reconnectDelay = 3 * time.Second
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	token  string
	user   string

	width  int
	height int

	health   HealthState
	set      *benchSet
	rows     []*BenchState
	eventLog []notify.Event

	pulse  Pulse
	theme  Theme
	table  table.Model
	output viewport.Model
	follow bool

	live      chan notify.Event
	connected chan struct{}

	superseded bool
	lastError  string

	now func() time.Time
}

// New creates a watch model for user, authenticating with token.
func New(apiURL, token, user string) *Model {
	theme := NewDefaultTheme()
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Name", Width: 20},
			{Title: "State", Width: 9},
			{Title: "Running", Width: 9},
			{Title: "External", Width: 28},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(theme.Table)

	return &Model{
		apiURL:    apiURL,
		token:     token,
		user:      user,
		set:       newBenchSet(),
		theme:     theme,
		table:     t,
		output:    viewport.New(80, 10),
		follow:    true,
		live:      make(chan notify.Event, 256),
		connected: make(chan struct{}, 1),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeLive(m.apiURL, m.token, m.live, m.connected),
		receiveNextEvent(m.live),
		waitConnected(m.connected),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		func() tea.Msg { return fetchBenches(m.apiURL, m.token) },
		tick(),
		tea.EnterAltScreen,
	)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, func() tea.Msg { return fetchBenches(m.apiURL, m.token) }
		case "c":
			if m.superseded {
				m.superseded = false
				m.lastError = ""
				return m, tea.Batch(
					subscribeLive(m.apiURL, m.token, m.live, m.connected),
					waitConnected(m.connected),
				)
			}
		case "f":
			m.follow = !m.follow
			if m.follow {
				m.output.GotoBottom()
			}
		case "pgup", "pgdown", "ctrl+u", "ctrl+d":
			m.follow = false
			var cmd tea.Cmd
			m.output, cmd = m.output.Update(msg)
			return m, cmd
		default:
			var cmd tea.Cmd
			m.table, cmd = m.table.Update(msg)
			m.refreshOutput()
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(m.width-6, 20))
		m.output.Width = max(m.width-6, 20)
		m.output.Height = max(m.height-32, 5)
		m.refreshOutput()

	case tickMsg:
		m.pulse.Decay(time.Time(msg))
		return m, tick()

	case liveEventMsg:
		ev := notify.Event(msg)
		m.set.apply(ev)
		if ev.Kind != notify.KindOutput {
			m.eventLog = append([]notify.Event{ev}, m.eventLog...)
			if len(m.eventLog) > eventLogSize {
				m.eventLog = m.eventLog[:eventLogSize]
			}
		}
		m.pulse.OnEvent(m.now())
		m.health.LiveConnected = true
		m.refreshTable()
		return m, receiveNextEvent(m.live)

	case liveConnectedMsg:
		m.health.LiveConnected = true
		m.lastError = ""
		// Events sent while disconnected are not replayed.
		return m, tea.Batch(
			waitConnected(m.connected),
			func() tea.Msg { return fetchBenches(m.apiURL, m.token) },
		)

	case liveDisconnectedMsg:
		m.health.LiveConnected = false
		m.lastError = fmt.Sprintf("live channel lost (%v), reconnecting...", msg.err)
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case liveSupersededMsg:
		m.health.LiveConnected = false
		m.superseded = true
		m.lastError = "another session took over the live channel; press c to reconnect"

	case reconnectMsg:
		return m, subscribeLive(m.apiURL, m.token, m.live, m.connected)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Devbenches = msg.Devbenches
		m.health.LiveConnections = msg.LiveConnections
		m.health.Reachable = true
		m.health.LastCheck = m.now()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })

	case healthFailedMsg:
		m.health.Reachable = false
		m.lastError = msg.err.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })

	case benchesMsg:
		m.set.replace([]benchRow(msg))
		m.refreshTable()

	case errMsg:
		m.lastError = msg.Error()
	}

	return m, nil
}

// refreshTable rebuilds the table rows from the bench set, keeping the
// cursor on the same devbench when it still exists.
func (m *Model) refreshTable() {
	var selectedID string
	if b := m.selected(); b != nil {
		selectedID = b.ID
	}

	m.rows = m.set.ordered()
	rows := make([]table.Row, 0, len(m.rows))
	cursor := 0
	for i, b := range m.rows {
		if b.ID == selectedID {
			cursor = i
		}
		name := b.Name
		if name == "" {
			name = shortID(b.ID)
		}
		running := "-"
		if b.Busy {
			running = b.Verb
		}
		rows = append(rows, table.Row{stateSymbol(b.State), name, b.State, running, b.ExternalName})
	}
	m.table.SetRows(rows)
	if len(rows) > 0 {
		m.table.SetCursor(cursor)
	}
	m.refreshOutput()
}

func (m *Model) selected() *BenchState {
	c := m.table.Cursor()
	if c < 0 || c >= len(m.rows) {
		return nil
	}
	return m.rows[c]
}

func (m *Model) refreshOutput() {
	b := m.selected()
	if b == nil {
		m.output.SetContent(m.theme.Dim.Render("No devbench selected."))
		return
	}
	lines := m.set.output[b.ID]
	if len(lines) == 0 {
		m.output.SetContent(m.theme.Dim.Render("No output received this session."))
		return
	}

	styled := make([]string, len(lines))
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "! "):
			styled[i] = m.theme.Stderr.Render(l)
		case strings.HasPrefix(l, "── "):
			styled[i] = m.theme.Dim.Render(l)
		default:
			styled[i] = l
		}
	}
	m.output.SetContent(strings.Join(styled, "\n"))
	if m.follow {
		m.output.GotoBottom()
	}
}

func stateSymbol(state string) string {
	switch state {
	case "Active":
		return "●"
	case "Creating":
		return "◉"
	case "Error":
		return "∅"
	default:
		return "○"
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to devbench..."
	}
	inner := m.width - 4

	header := renderHeader(m.user, m.health, m.pulse, m.theme, m.width, m.now())

	var benches string
	if len(m.rows) == 0 {
		benches = m.theme.Dim.Render("  No devbenches.")
	} else {
		benches = m.table.View()
	}
	benchBox := m.theme.Border.Width(inner).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render("DEVBENCHES"), benches))

	outputTitle := "OUTPUT"
	if b := m.selected(); b != nil {
		name := b.Name
		if name == "" {
			name = shortID(b.ID)
		}
		outputTitle = fmt.Sprintf("OUTPUT %s", name)
		if b.Busy {
			outputTitle += " " + m.theme.StateCreating.Render("["+b.Verb+"]")
		}
	}
	if !m.follow {
		outputTitle += m.theme.Dim.Render(" (paused)")
	}
	outputBox := m.theme.Border.Width(inner).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render(outputTitle), m.output.View()))

	names := make(map[string]string, len(m.rows))
	for _, b := range m.rows {
		names[b.ID] = b.Name
	}
	stream := renderEventStream(m.eventLog, names, m.theme, m.width)

	parts := []string{header, benchBox, outputBox, stream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StateError.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select • [PgUp/PgDn] Scroll output • [f] Follow • [r] Refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
