package utils

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketHub fans daemon events out to every connected local UI client.
type WebSocketHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.Mutex
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients: make(map[*websocket.Conn]bool),
	}
}

func (h *WebSocketHub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *WebSocketHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// Broadcast sends an event to every client. Clients that cannot keep up
// within the write deadline are dropped; a stalled UI must not block the
// protocol engine's event path.
func (h *WebSocketHub) Broadcast(event WebSocketEvent) {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	var failed []*websocket.Conn
	for _, conn := range clients {
		conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		if err := conn.WriteJSON(event); err != nil {
			failed = append(failed, conn)
		}
	}

	for _, conn := range failed {
		h.RemoveClient(conn)
	}
}
