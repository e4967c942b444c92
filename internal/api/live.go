package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mattjoyce/devbench/internal/notify"
)

const (
	liveWriteWait = 10 * time.Second
	// Clients only send control frames and the occasional keep-alive.
	liveReadLimit = 1024
)

// handleLive handles GET /ws. It upgrades to a websocket and becomes the
// caller's single live channel, superseding any earlier one.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "user_id", p.UserID, "error", err)
		return
	}

	q := notify.NewQueueChannel(s.config.LiveBuffer)
	release := s.hub.Register(p.UserID, q)
	defer release()
	s.logger.Info("live channel opened", "user_id", p.UserID, "remote", r.RemoteAddr)

	readDone := make(chan struct{})
	go s.livePump(conn, readDone)
	reason := s.liveWrite(conn, q, readDone)
	s.logger.Info("live channel closed", "user_id", p.UserID, "reason", reason)
}

// livePump reads until the peer goes away so pongs and close frames are
// processed.
func (s *Server) livePump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	wait := 2 * s.config.PingInterval
	conn.SetReadLimit(liveReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) liveWrite(conn *websocket.Conn, q *notify.QueueChannel, readDone <-chan struct{}) string {
	defer conn.Close()
	ping := time.NewTicker(s.config.PingInterval)
	defer ping.Stop()

	send := func(ev notify.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		return conn.WriteJSON(ev) == nil
	}
	closeWith := func(code int, text string) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text), time.Now().Add(liveWriteWait))
	}

	for {
		select {
		case ev := <-q.Events():
			if !send(ev) {
				return "write failed"
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return "ping failed"
			}
		case <-q.Done():
			// Flush what was queued before the channel was superseded.
		drain:
			for {
				select {
				case ev := <-q.Events():
					if !send(ev) {
						return "write failed"
					}
				default:
					break drain
				}
			}
			closeWith(websocket.CloseNormalClosure, "superseded by a newer connection")
			return "superseded"
		case <-readDone:
			return "peer closed"
		case <-s.liveCtx.Done():
			closeWith(websocket.CloseGoingAway, "server shutting down")
			return "shutdown"
		}
	}
}

// checkOrigin allows non-browser clients (no Origin), configured origins,
// and same-host browser pages.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
