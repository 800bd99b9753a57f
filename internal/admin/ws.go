package admin

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"uavsim/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// alertHub pushes every raised alert to all connected websocket clients.
// A client that cannot keep up is dropped rather than blocking the rest.
type alertHub struct {
	log *slog.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]chan telemetry.Alert
	closed bool
}

func newAlertHub(log *slog.Logger) *alertHub {
	return &alertHub{
		log:   log,
		conns: make(map[*websocket.Conn]chan telemetry.Alert),
	}
}

func (h *alertHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch := make(chan telemetry.Alert, 64)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.conns[conn] = ch
	h.mu.Unlock()
	h.log.Debug("websocket client connected", "remote", conn.RemoteAddr())

	// Reader goroutine detects client disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()

	for alert := range ch {
		if err := conn.WriteJSON(alert); err != nil {
			h.drop(conn)
			return
		}
	}
}

// broadcast fans an alert out to every client without blocking the caller.
func (h *alertHub) broadcast(alert telemetry.Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.conns {
		select {
		case ch <- alert:
		default:
			h.log.Warn("websocket client lagging, dropping", "remote", conn.RemoteAddr())
			delete(h.conns, conn)
			close(ch)
		}
	}
}

// drop removes one client.
func (h *alertHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(ch)
	}
}

// close disconnects all clients and rejects future ones.
func (h *alertHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for conn, ch := range h.conns {
		delete(h.conns, conn)
		close(ch)
	}
}
