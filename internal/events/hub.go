// Package events fans share status and progress events out to websocket
// subscribers of the control API.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koltyakov/parcel/internal/domain"
)

const (
	// sendBuffer is the per-subscriber queue depth. A subscriber that
	// falls this far behind starts losing events rather than stalling
	// the streaming path.
	sendBuffer = 64

	writeTimeout = 10 * time.Second
)

// envelope is the wire shape of one event: a type discriminator plus the
// event payload.
type envelope struct {
	Type  string `json:"type"`
	Event any    `json:"event"`
}

type client struct {
	conn *websocket.Conn
	send chan envelope
}

// Hub broadcasts events to all connected subscribers. It implements
// [domain.EventSink]: emitting never blocks, slow subscribers drop events.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Status broadcasts a share lifecycle change.
func (h *Hub) Status(e domain.StatusEvent) {
	h.broadcast(envelope{Type: "status", Event: e})
}

// Progress broadcasts download progress.
func (h *Hub) Progress(e domain.ProgressEvent) {
	h.broadcast(envelope{Type: "progress", Event: e})
}

// Subscribe adopts an upgraded websocket connection. The hub owns the
// connection from here on: it is closed when the peer goes away or the hub
// shuts down.
func (h *Hub) Subscribe(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan envelope, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) broadcast(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			h.logger.Debug("event dropped for slow subscriber", "type", env.Type)
		}
	}
}

// unregister removes the client and closes its send channel exactly once;
// the map membership check is the guard.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

func (h *Hub) writePump(c *client) {
	for env := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(env); err != nil {
			h.unregister(c)
			return
		}
	}
}

// readPump discards inbound frames; its job is to notice the peer closing.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.unregister(c)
			return
		}
	}
}
