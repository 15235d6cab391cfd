package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mindwatch-data/engagement.report/internal/monitoring"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleSessionWS streams progress updates for one session until it reaches
// a terminal state, then sends a final update and closes.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	st := s.sessions.get(sessionID)
	if st == nil {
		// Not in the registry: either unknown or already terminal. Send
		// the stored status once if we have it.
		if _, err := s.currentStatus(sessionID); err != nil {
			s.writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := func() bool {
		status, err := s.currentStatus(sessionID)
		if err != nil {
			return false
		}
		if err := conn.WriteJSON(status); err != nil {
			return false
		}
		return status.Status == "processing" || status.Status == "pending"
	}

	if !send() {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var done <-chan struct{}
	if st != nil {
		done = st.done
	}

	for {
		select {
		case <-done:
			send()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !send() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
