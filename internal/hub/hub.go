// Package hub tracks open duplex connections and fans serialized messages
// out to them.
//
// The registry owns no document state: connections are pure
// observers/publishers, registered after handshake and removed on close or
// transport error.
package hub

import (
	"sync"

	logx "studiorelay/pkg/logx"
)

type Hub struct {
	log logx.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func New(log logx.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("client registered", logx.String("client", c.ID()), logx.Int("clients", n))
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.shutdown()
		h.log.Info("client unregistered", logx.String("client", c.ID()), logx.Int("clients", n))
	}
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// snapshot returns a stable copy of the registry so fan-out iteration is
// unaffected by connections closing mid-broadcast.
func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Publish delivers an already-serialized message to every open connection,
// skipping except (the originator, when the update kind excludes self) and
// any connection not in the open state. Delivery is fire-and-forget: a slow
// or broken connection is dropped and never blocks the others. Returns the
// number of successful deliveries.
func (h *Hub) Publish(data []byte, except *Client) int {
	delivered := 0
	for _, c := range h.snapshot() {
		if c == except {
			continue
		}
		if c.State() != StateOpen {
			continue
		}
		if c.enqueue(data) {
			delivered++
			continue
		}
		// Send buffer full: the consumer stopped draining. Drop it so one
		// stuck viewer cannot stall the relay.
		h.log.Warn("client send buffer full, dropping", logx.String("client", c.ID()))
		h.Unregister(c)
	}
	return delivered
}
