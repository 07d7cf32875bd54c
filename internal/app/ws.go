package app

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"akademik/api/internal/notify"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamNotifications upgrades the request and forwards every notification
// of the project until the client goes away. Notifications that are active
// at connect time are replayed first.
func (s *HTTPServer) streamNotifications(w http.ResponseWriter, r *http.Request, projectID string) {
	upgrader := upgrader
	upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || s.corsOrigin == "*" || origin == s.corsOrigin
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("project_id", projectID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	bus := s.service.Bus()
	send := make(chan notify.Notification, wsSendBuffer)
	unsubscribe := bus.Subscribe(projectID, func(n notify.Notification) {
		select {
		case send <- n:
		default:
			// Slow clients lose notifications rather than stall publishers.
		}
	})
	defer unsubscribe()

	if active, err := bus.Active(r.Context(), projectID); err == nil {
		for _, n := range active {
			select {
			case send <- n:
			default:
			}
		}
	}

	// The reader only drains control frames; it ends when the client closes.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug().Err(err).Str("project_id", projectID).Msg("websocket read")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case n := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
