package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sjawhar/meetscribe/internal/logging"
)

const sendBuffer = 256

// client is one websocket connection's outbound queue. kick is closed when
// the connection fell too far behind and must be dropped.
type client struct {
	send chan []byte
	kick chan struct{}
	once sync.Once
}

func (c *client) drop() {
	c.once.Do(func() { close(c.kick) })
}

// Hub routes session events to the connection that owns the session. It
// satisfies session.Sink.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

func (h *Hub) register(connID string) *client {
	c := &client{
		send: make(chan []byte, sendBuffer),
		kick: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[connID] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	delete(h.clients, connID)
	h.mu.Unlock()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send queues an event for connID. Events for unknown connections are
// discarded. A connection whose queue is full is dropped rather than
// silently losing events out of order.
func (h *Hub) Send(connID, event string, data any) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()

	log := logging.WithComponent("hub")
	if !ok {
		log.Debug().Str("connectionId", connID).Str("event", event).Msg("Dropped event for closed connection")
		return
	}

	payload, err := json.Marshal(newEnvelope(event, h.now(), data))
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Event marshal failed")
		return
	}

	select {
	case c.send <- payload:
	default:
		log.Warn().Str("connectionId", connID).Str("event", event).Msg("Send queue full, dropping connection")
		c.drop()
	}
}
