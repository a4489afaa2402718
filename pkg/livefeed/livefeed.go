// Package livefeed broadcasts ballot-recorded events to WebSocket
// subscribers. Events are privacy preserving: they carry the vote id and the
// transaction root, never the party or the voter.
package livefeed

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("mpcvote/livefeed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (can be restricted in production)
		return true
	},
}

// Event is one feed message.
type Event struct {
	Type   string    `json:"type"`
	VoteID int64     `json:"vote_id"`
	TxID   string    `json:"tx_id"`
	At     time.Time `json:"at"`
}

// Hub manages subscriber connections and fans events out to them.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
	closed      bool
}

type connection struct {
	id   string
	conn *websocket.Conn
	send chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{connections: make(map[string]*connection)}
}

// BallotRecorded queues a ballot_recorded event for every subscriber. Slow
// subscribers are dropped rather than blocking the cast path.
func (h *Hub) BallotRecorded(voteID int64, txID string) {
	e := Event{Type: "ballot_recorded", VoteID: voteID, TxID: txID, At: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.connections {
		select {
		case c.send <- e:
		default:
			log.Warnw("dropping slow feed subscriber", "id", c.id)
			go h.remove(c.id)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HandleFeed upgrades the request to a WebSocket and streams events until the
// client disconnects.
func (h *Hub) HandleFeed(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &connection{
		id:   uuid.New().String(),
		conn: ws,
		send: make(chan Event, 64),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	h.connections[c.id] = c
	h.mu.Unlock()

	log.Debugw("feed subscriber connected", "id", c.id, "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)
}

// writeLoop serializes events onto one connection.
func (h *Hub) writeLoop(c *connection) {
	for e := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(e); err != nil {
			log.Debugw("feed write failed", "id", c.id, "error", err)
			h.remove(c.id)
			return
		}
	}
}

// readLoop discards inbound frames and detects disconnects.
func (h *Hub) readLoop(c *connection) {
	defer h.remove(c.id)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// remove unregisters and closes one connection. Safe to call twice.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.connections[id]
	if ok {
		delete(h.connections, id)
	}
	h.mu.Unlock()

	if ok {
		close(c.send)
		c.conn.Close()
	}
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.connections
	h.connections = make(map[string]*connection)
	h.closed = true
	h.mu.Unlock()

	for _, c := range conns {
		close(c.send)
		c.conn.Close()
	}
}
