package bridge

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const clientBufferSize = 32

type client struct {
	id   string
	role Role
	send chan Envelope
}

// Hub tracks connected UI windows by role and queues envelopes for them.
// Sends never block: a full queue drops the envelope.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
	log     *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{clients: make(map[string]*client), log: log}
}

func (h *Hub) register(role Role) *client {
	c := &client{id: uuid.NewString(), role: role, send: make(chan Envelope, clientBufferSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return c
	}
	h.clients[c.id] = c
	h.log.Infow("bridge client registered", "client_id", c.id, "role", role)
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
		h.log.Infow("bridge client unregistered", "client_id", c.id, "role", c.role)
	}
}

// Send queues env for every client with role and reports whether at least
// one accepted it.
func (h *Hub) Send(role Role, env Envelope) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for _, c := range h.clients {
		if c.role != role {
			continue
		}
		if h.enqueue(c, env) {
			delivered = true
		}
	}
	return delivered
}

func (h *Hub) Broadcast(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.enqueue(c, env)
	}
}

// reply queues env for one client; must not be called after unregister.
func (h *Hub) reply(c *client, env Envelope) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return false
	}
	return h.enqueue(c, env)
}

// enqueue must be called with mu held.
func (h *Hub) enqueue(c *client, env Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		h.log.Warnw("bridge client queue full, dropping message", "client_id", c.id, "channel", env.Channel)
		return false
	}
}

func (h *Hub) Connected(role Role) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.role == role {
			return true
		}
	}
	return false
}

// Stats returns the number of connected clients per role.
func (h *Hub) Stats() map[Role]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := make(map[Role]int)
	for _, c := range h.clients {
		stats[c.role]++
	}
	return stats
}

// Shutdown closes every client queue; their write pumps then close the sockets.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
	h.closed = true
	h.log.Infow("bridge hub shut down")
}
