// Package notify delivers lifecycle events to the one live channel each user
// may have open. Delivery is best effort: no queueing for absent users and no
// replay on reconnect.
package notify

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/devbench/internal/log"
)

// Kind is the event type.
type Kind string

const (
	KindOutput   Kind = "output"
	KindComplete Kind = "complete"
	KindStatus   Kind = "status"
)

// Event is pushed to a user's live channel.
type Event struct {
	Seq        int64     `json:"seq"`
	Kind       Kind      `json:"type"`
	DevbenchID string    `json:"devbench_id"`
	At         time.Time `json:"at"`

	// output / complete
	Verb   string `json:"verb,omitempty"`
	Stream string `json:"stream,omitempty"`
	Text   string `json:"text,omitempty"`

	// complete
	ExitCode *int `json:"exit_code,omitempty"`
	TimedOut bool `json:"timed_out,omitempty"`

	// status
	State     string `json:"state,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Output builds an output event for one line of script output.
func Output(devbenchID, verb, stream, text string) Event {
	return Event{Kind: KindOutput, DevbenchID: devbenchID, Verb: verb, Stream: stream, Text: text}
}

// Complete builds the event sent once per invocation after its last output.
func Complete(devbenchID, verb string, exitCode int, timedOut bool) Event {
	code := exitCode
	return Event{Kind: KindComplete, DevbenchID: devbenchID, Verb: verb, ExitCode: &code, TimedOut: timedOut}
}

// Status builds a state change event.
func Status(devbenchID, state, lastError string) Event {
	return Event{Kind: KindStatus, DevbenchID: devbenchID, State: state, LastError: lastError}
}

// Channel is a live connection to one user.
type Channel interface {
	Send(Event) error
	Close() error
}

// Notifier is what producers depend on.
type Notifier interface {
	Notify(userID string, ev Event)
}

// ErrChannelFull is returned by a QueueChannel that cannot accept more events.
var ErrChannelFull = errors.New("live channel buffer full")

type entry struct {
	ch Channel
}

// Hub maps each user to at most one live channel.
type Hub struct {
	seq atomic.Int64

	mu    sync.Mutex
	conns map[string]*entry

	// OnChange, if set, is called with the connection count after every
	// register/release.
	OnChange func(connected int)

	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:  make(map[string]*entry),
		logger: log.WithComponent("notify"),
	}
}

// Register makes ch the user's live channel, closing any previous one.
// The returned release removes ch only if it is still the current channel.
func (h *Hub) Register(userID string, ch Channel) (release func()) {
	e := &entry{ch: ch}

	h.mu.Lock()
	prev := h.conns[userID]
	h.conns[userID] = e
	n := len(h.conns)
	h.mu.Unlock()

	if prev != nil {
		h.logger.Debug("replacing live channel", "user_id", userID)
		_ = prev.ch.Close()
	}
	h.changed(n)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			removed := false
			if cur, ok := h.conns[userID]; ok && cur == e {
				delete(h.conns, userID)
				removed = true
			}
			n := len(h.conns)
			h.mu.Unlock()
			if removed {
				h.changed(n)
			}
		})
	}
}

// Notify sends ev to the user's live channel, if any. Failures are dropped.
func (h *Hub) Notify(userID string, ev Event) {
	ev.Seq = h.seq.Add(1)
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.Lock()
	e := h.conns[userID]
	h.mu.Unlock()
	if e == nil {
		return
	}
	if err := e.ch.Send(ev); err != nil {
		h.logger.Debug("dropping event", "user_id", userID, "type", ev.Kind, "error", err)
	}
}

// Connected returns the number of users with a live channel.
func (h *Hub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// IsConnected reports whether the user has a live channel.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[userID]
	return ok
}

func (h *Hub) changed(n int) {
	if h.OnChange != nil {
		h.OnChange(n)
	}
}
