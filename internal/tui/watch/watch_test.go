package watch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/devbench/internal/devbench"
	"github.com/mattjoyce/devbench/internal/notify"
)

func row(id, name string, state devbench.State, busy bool) benchRow {
	return benchRow{
		Devbench: devbench.Devbench{ID: id, OwnerID: "alice", RequestedName: name, State: state},
		Busy:     busy,
	}
}

func TestBenchSetApplyLifecycle(t *testing.T) {
	s := newBenchSet()

	s.apply(notify.Status("b1", "Creating", ""))
	require.Contains(t, s.benches, "b1")
	assert.True(t, s.benches["b1"].Busy)
	assert.Equal(t, "create", s.benches["b1"].Verb)

	s.apply(notify.Output("b1", "create", "stdout", "booting"))
	s.apply(notify.Output("b1", "create", "stderr", "warning: slow disk"))
	s.apply(notify.Complete("b1", "create", 0, false))
	s.apply(notify.Status("b1", "Active", ""))

	b := s.benches["b1"]
	assert.Equal(t, "Active", b.State)
	assert.False(t, b.Busy)
	assert.Empty(t, b.Verb)
	assert.Equal(t, []string{"booting", "! warning: slow disk", "── create exited 0"}, s.output["b1"])

	s.apply(notify.Status("b1", "Deleted", ""))
	assert.NotContains(t, s.benches, "b1")
	assert.NotContains(t, s.output, "b1")
}

func TestBenchSetDeletedUnknownIsIgnored(t *testing.T) {
	s := newBenchSet()
	s.apply(notify.Status("ghost", "Deleted", ""))
	assert.Empty(t, s.benches)
}

func TestBenchSetTimedOutCompletion(t *testing.T) {
	s := newBenchSet()
	s.apply(notify.Complete("b1", "status", -1, true))
	assert.Equal(t, []string{"── status timed out"}, s.output["b1"])
}

func TestBenchSetReplace(t *testing.T) {
	s := newBenchSet()
	s.apply(notify.Output("gone", "create", "stdout", "x"))
	s.apply(notify.Output("kept", "activate", "stdout", "y"))

	s.replace([]benchRow{
		row("kept", "web", devbench.StateInactive, false),
		row("new", "api", devbench.StateActive, true),
	})

	assert.NotContains(t, s.benches, "gone")
	assert.NotContains(t, s.output, "gone")
	assert.Equal(t, []string{"y"}, s.output["kept"])
	assert.Equal(t, "web", s.benches["kept"].Name)
	assert.False(t, s.benches["kept"].Busy)
	assert.Empty(t, s.benches["kept"].Verb)
	assert.True(t, s.benches["new"].Busy)

	ordered := s.ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, "api", ordered[0].Name)
	assert.Equal(t, "web", ordered[1].Name)
}

func TestBenchSetOutputCapped(t *testing.T) {
	s := newBenchSet()
	for i := range maxOutputLines + 25 {
		s.apply(notify.Output("b1", "create", "stdout", strings.Repeat("x", i%3+1)))
	}
	assert.Len(t, s.output["b1"], maxOutputLines)
}

func TestLiveURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws", false},
		{"https://devbench.example.com/", "wss://devbench.example.com/ws", false},
		{"https://example.com/prefix", "wss://example.com/prefix/ws", false},
		{"ftp://example.com", "", true},
	}
	for _, tt := range tests {
		got, err := liveURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSubscribeLiveDeliversEventsThenSuperseded(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" || r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(notify.Status("b1", "Inactive", ""))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "superseded"))
		_, _, _ = conn.ReadMessage()
	}))
	defer ts.Close()

	events := make(chan notify.Event, 4)
	connected := make(chan struct{}, 1)
	msg := subscribeLive(ts.URL, "tok", events, connected)()

	assert.IsType(t, liveSupersededMsg{}, msg)
	require.Len(t, connected, 1)
	require.Len(t, events, 1)
	ev := <-events
	assert.Equal(t, "b1", ev.DevbenchID)
	assert.Equal(t, "Inactive", ev.State)
}

func TestSubscribeLiveRejectedToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer ts.Close()

	msg := subscribeLive(ts.URL, "bad", make(chan notify.Event, 1), make(chan struct{}, 1))()
	err, ok := msg.(errMsg)
	require.True(t, ok, "got %T", msg)
	assert.Contains(t, err.Error(), "log in again")
}

func TestFetchBenchesErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"user is disabled"}`))
	}))
	defer ts.Close()

	msg := fetchBenches(ts.URL, "tok")
	err, ok := msg.(errMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "/devbenches: user is disabled", err.Error())
}

func TestFetchHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":"ok","uptime_seconds":90,"devbenches":{"Active":2},"live_connections":1}`))
	}))
	defer ts.Close()

	h, ok := fetchHealth(ts.URL).(healthMsg)
	require.True(t, ok)
	assert.Equal(t, int64(90), h.UptimeSeconds)
	assert.Equal(t, 2, h.Devbenches["Active"])
	assert.Equal(t, 1, h.LiveConnections)
}

func update(t *testing.T, m tea.Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModelTracksLiveEvents(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := New("http://devbench.test", "tok", "alice")
	base.now = func() time.Time { return fixed }

	m := update(t, *base, tea.WindowSizeMsg{Width: 120, Height: 60})
	m = update(t, m, benchesMsg{
		row("b1", "api", devbench.StateActive, false),
		row("b2", "web", devbench.StateInactive, false),
	})
	require.Len(t, m.rows, 2)
	require.Equal(t, "b1", m.selected().ID)

	m = update(t, m, liveEventMsg(notify.Output("b1", "status", "stdout", "state=active")))
	m = update(t, m, liveEventMsg(notify.Complete("b1", "status", 0, false)))
	assert.Len(t, m.eventLog, 1, "output events stay out of the event log")
	assert.True(t, m.health.LiveConnected)
	assert.Equal(t, pulseWidth, m.pulse.Lit())

	view := m.View()
	assert.Contains(t, view, "DEVBENCH WATCH")
	assert.Contains(t, view, "OUTPUT api")
	assert.Contains(t, view, "state=active")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, "b2", m.selected().ID)
	assert.Contains(t, m.View(), "No output received")

	// Cursor stays on b2 when a new devbench sorts before it.
	m = update(t, m, liveEventMsg(func() notify.Event {
		ev := notify.Status("b0", "Creating", "")
		ev.At = fixed
		return ev
	}()))
	m = update(t, m, benchesMsg{
		row("b0", "aaa", devbench.StateCreating, true),
		row("b1", "api", devbench.StateActive, false),
		row("b2", "web", devbench.StateInactive, false),
	})
	assert.Equal(t, "b2", m.selected().ID)
}

func TestModelConnectionMessages(t *testing.T) {
	m := update(t, *New("http://devbench.test", "tok", "alice"), liveSupersededMsg{})
	assert.True(t, m.superseded)
	assert.False(t, m.health.LiveConnected)
	assert.Contains(t, m.lastError, "press c")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	m = next.(Model)
	assert.False(t, m.superseded)
	assert.NotNil(t, cmd)

	m = update(t, m, healthFailedMsg{err: assert.AnError})
	assert.False(t, m.health.Reachable)

	m = update(t, m, healthMsg{Status: "ok", UptimeSeconds: 5, Devbenches: map[string]int{"Active": 1}})
	assert.True(t, m.health.Reachable)
	assert.Equal(t, 1, m.health.Devbenches["Active"])
}

func TestPulseDecay(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var p Pulse
	p.OnEvent(start)
	assert.Equal(t, pulseWidth, p.Lit())

	p.Decay(start.Add(3 * time.Second))
	assert.Equal(t, 4, p.Lit())

	p.Decay(start.Add(time.Minute))
	assert.Equal(t, 0, p.Lit())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{5*time.Hour + 7*time.Minute, "5h 7m"},
		{75 * time.Hour, "3d 3h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
