package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/logging"
)

// EventHub fans task status events out to WebSocket subscribers. Slow
// subscribers get dropped rather than blocking the task goroutines.
type EventHub struct {
	log *logging.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan domain.TaskEvent
	once sync.Once
}

// NewEventHub creates an empty hub.
func NewEventHub(log *logging.Logger) *EventHub {
	return &EventHub{
		log:     log.Sub("events"),
		clients: make(map[*hubClient]struct{}),
	}
}

// Count returns the number of connected subscribers.
func (h *EventHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Add takes ownership of conn and streams events to it until it errors or
// the hub closes.
func (h *EventHub) Add(conn *websocket.Conn) {
	c := &hubClient{
		conn: conn,
		send: make(chan domain.TaskEvent, 16),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("event subscriber connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Broadcast delivers e to every subscriber without blocking.
func (h *EventHub) Broadcast(e domain.TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.log.Warn().Msg("dropping event for slow subscriber")
		}
	}
}

// CloseAll disconnects every subscriber. Used on shutdown.
func (h *EventHub) CloseAll() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}

func (h *EventHub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// writeLoop serializes events onto the connection.
func (h *EventHub) writeLoop(c *hubClient) {
	for e := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(e); err != nil {
			h.log.Debug().Err(err).Msg("event write failed")
			h.remove(c)
			return
		}
	}
}

// readLoop drains inbound frames so pings and closes are processed.
func (h *EventHub) readLoop(c *hubClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}
