package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is the JSON envelope pushed to subscribed clients.
type Event struct {
	StreamID  string    `json:"stream_id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Hub fans engine events out to WebSocket clients subscribed per stream.
// It implements the engine's event-sink contract: Notify never blocks and
// a slow or dead client is disconnected rather than back-pressuring the
// engine. Delivery is at most once.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{streams: make(map[string]map[*wsClient]struct{})}
}

// Notify pushes one event to every client subscribed to the stream.
func (h *Hub) Notify(streamID, event string, payload any) {
	data, err := json.Marshal(Event{
		StreamID:  streamID,
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		return
	}

	// Sends happen under the read lock and c.send is closed only under the
	// write lock after the client leaves the map, so a send can never race
	// the close.
	var slow []*wsClient
	h.mu.RLock()
	for c := range h.streams[streamID] {
		select {
		case c.send <- data:
		default:
			// Client's outgoing buffer is full; disconnect it.
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister(streamID, c)
	}
}

// ServeStream upgrades the connection and subscribes it to one stream's
// events. Blocks until the connection closes.
func (h *Hub) ServeStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "id")
	if streamID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	if !h.register(streamID, c) {
		conn.Close()
		return
	}
	defer h.unregister(streamID, c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of clients subscribed to the stream.
func (h *Hub) Count(streamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[streamID])
}

// Close disconnects all clients. The hub accepts no new subscriptions
// afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, clients := range h.streams {
		for c := range clients {
			close(c.send)
		}
	}
	h.streams = make(map[string]map[*wsClient]struct{})
}

func (h *Hub) register(streamID string, c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.streams[streamID] == nil {
		h.streams[streamID] = make(map[*wsClient]struct{})
	}
	h.streams[streamID][c] = struct{}{}
	return true
}

// unregister removes the client and closes its send channel. Membership is
// checked so concurrent unregisters (disconnect, slow-client eviction,
// Close) close the channel exactly once, always under the write lock.
func (h *Hub) unregister(streamID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.streams[streamID]
	if _, ok := clients[c]; ok {
		delete(clients, c)
		close(c.send)
		if len(clients) == 0 {
			delete(h.streams, streamID)
		}
	}
}

// writePump drains the client's send channel onto the connection and sends
// periodic pings. Runs in its own goroutine per client.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes frames to process control messages and detect
// disconnects. Blocks until the connection closes.
func (c *wsClient) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
