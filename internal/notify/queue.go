package notify

import (
	"errors"
	"sync"
)

var errClosed = errors.New("live channel closed")

// QueueChannel is a Channel backed by a bounded Go channel. A writer
// goroutine (the websocket pump) drains Events. Send never blocks.
type QueueChannel struct {
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewQueueChannel creates a channel buffering up to size events.
func NewQueueChannel(size int) *QueueChannel {
	if size <= 0 {
		size = 256
	}
	return &QueueChannel{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Send enqueues ev, or fails when the buffer is full or the channel closed.
// A full buffer drops output, but status and complete events displace the
// oldest queued output line instead, so a client that falls behind still
// learns how an operation ended.
func (q *QueueChannel) Send(ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errClosed
	}
	select {
	case q.events <- ev:
		return nil
	default:
	}
	if ev.Kind == KindOutput {
		return ErrChannelFull
	}
	q.evictOutput()
	select {
	case q.events <- ev:
		return nil
	default:
		return ErrChannelFull
	}
}

// evictOutput removes the oldest queued output event, keeping the order of
// the rest. The caller holds q.mu, so only the reader races with it, and the
// reader only ever takes from the front.
func (q *QueueChannel) evictOutput() {
	pending := make([]Event, 0, cap(q.events))
drain:
	for {
		select {
		case e := <-q.events:
			pending = append(pending, e)
		default:
			break drain
		}
	}
	evicted := false
	for _, e := range pending {
		if !evicted && e.Kind == KindOutput {
			evicted = true
			continue
		}
		q.events <- e
	}
}

// Close marks the channel closed. Pending events stay readable.
func (q *QueueChannel) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// Events yields queued events.
func (q *QueueChannel) Events() <-chan Event { return q.events }

// Done is closed when the channel has been closed (replaced or released).
func (q *QueueChannel) Done() <-chan struct{} { return q.done }
