package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const statusWriteWait = 5 * time.Second

type statusMessage struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// handleStatusWS pushes the gate state on connect and on every transition,
// then closes once the gate settles in ready or failed.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		slog.Debug("status websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	gate := s.svc.Gate()
	for {
		state, changed := gate.Changes()
		msg := statusMessage{State: state.String()}
		if err := gate.Err(); err != nil && state.Settled() {
			msg.Error = err.Error()
		}

		_ = conn.SetWriteDeadline(time.Now().Add(statusWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("status websocket write failed", "error", err)
			}
			return
		}

		if state.Settled() {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, state.String())
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(statusWriteWait))
			return
		}

		select {
		case <-changed:
		case <-gone:
			return
		case <-s.quit:
			closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(statusWriteWait))
			return
		}
	}
}
