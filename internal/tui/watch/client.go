package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/devbench/internal/notify"
)

// --- Message types ---

type liveEventMsg notify.Event

type healthMsg struct {
	Status          string         `json:"status"`
	UptimeSeconds   int64          `json:"uptime_seconds"`
	Devbenches      map[string]int `json:"devbenches"`
	LiveConnections int            `json:"live_connections"`
}

type benchesMsg []benchRow

type tickMsg time.Time

type errMsg error

type healthFailedMsg struct{ err error }

type liveConnectedMsg struct{}

type liveDisconnectedMsg struct{ err error }

// liveSupersededMsg means another live channel for the same user took over.
type liveSupersededMsg struct{}

type reconnectMsg struct{}

const requestTimeout = 5 * time.Second

// --- Commands ---

// liveURL turns the API base URL into the websocket endpoint.
func liveURL(apiURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// subscribeLive dials the live channel and feeds events into ch until the
// connection drops.
func subscribeLive(apiURL, token string, ch chan<- notify.Event, connected chan<- struct{}) tea.Cmd {
	return func() tea.Msg {
		u, err := liveURL(apiURL)
		if err != nil {
			return errMsg(err)
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		dialer := websocket.Dialer{HandshakeTimeout: requestTimeout}
		conn, resp, err := dialer.Dial(u, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return errMsg(errors.New("live channel rejected the token; log in again"))
			}
			return liveDisconnectedMsg{err: err}
		}
		defer conn.Close()

		select {
		case connected <- struct{}{}:
		default:
		}

		for {
			var ev notify.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return liveSupersededMsg{}
				}
				return liveDisconnectedMsg{err: err}
			}
			ch <- ev
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan notify.Event) tea.Cmd {
	return func() tea.Msg {
		return liveEventMsg(<-ch)
	}
}

func waitConnected(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return liveConnectedMsg{}
	}
}

func getJSON(apiURL, token, path string, dst any) error {
	client := &http.Client{Timeout: requestTimeout}
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(apiURL, "/")+path, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", path, e.Error)
		}
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	var h healthMsg
	if err := getJSON(apiURL, "", "/healthz", &h); err != nil {
		return healthFailedMsg{err: err}
	}
	return h
}

// fetchBenches lists the caller's devbenches.
func fetchBenches(apiURL, token string) tea.Msg {
	var rows []benchRow
	if err := getJSON(apiURL, token, "/devbenches", &rows); err != nil {
		return errMsg(err)
	}
	return benchesMsg(rows)
}
