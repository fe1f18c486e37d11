// Package status broadcasts lifecycle events to any connected
// operations dashboard over WebSocket. Only pairing completion is
// broadcast (by internal/httpapi); the stream, keepalive and key
// rotation event kinds are defined but nothing emits them. It is not
// part of the wire protocol —
// a purely operational add-on carried over from the teacher's own
// WebSocket layer, repurposed from WebRTC signaling to event relay.
//
// Grounded on internal/server/websocket.go (Upgrader config, client
// send-channel/writePump pattern) using github.com/gorilla/websocket.
package status

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// EventKind names a lifecycle event broadcast to dashboards.
type EventKind string

const (
	EventPairingCompleted  EventKind = "pairing_completed"
	EventStreamStarted     EventKind = "stream_started"
	EventStreamStopped     EventKind = "stream_stopped"
	EventKeepaliveTimeout  EventKind = "keepalive_timeout"
	EventKeysRotated       EventKind = "keys_rotated"
)

// Event is one broadcast message.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event; marshal errors drop the
// payload rather than fail the broadcast.
func NewEvent(kind EventKind, payload interface{}) Event {
	data, _ := json.Marshal(payload)
	return Event{Kind: kind, Payload: data}
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// Hub fans out Events to every connected dashboard client.
type Hub struct {
	logger *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub builds an empty broadcast hub.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*client]struct{})}
}

// HandleWebSocket upgrades the connection and registers it for
// broadcasts until the client disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("status: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast marshals event and enqueues it on every connected client;
// a client whose buffer is full is dropped rather than allowed to
// block the broadcaster.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Printf("status: marshal failed: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			continue
		}
		select {
		case c.send <- data:
		default:
			c.closed = true
			close(c.send)
		}
		c.mu.Unlock()
	}
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}
