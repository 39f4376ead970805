package events

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS streams events to a websocket client as JSON text frames. Incoming
// frames are discarded; the stream ends when the client goes away.
func (p *Publisher) ServeWS(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	// Subscribe before the handshake completes so nothing published after the
	// client sees the upgrade is missed.
	events, unsubscribe := p.Subscribe(32)
	defer unsubscribe()

	conn, upgradeErr := upgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		slog.Warn("Failed to upgrade events connection", "error", upgradeErr)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("Failed to close events connection", "error", err)
		}
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				slog.Debug("Failed to write event", "error", err)
				return
			}
		}
	}
}
