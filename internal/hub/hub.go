// Package hub fans newly sequenced messages and status updates out
// to live client connections. Delivery is at-least-once per
// connection; clients de-duplicate on (message id, status).
package hub

import (
	"log"
	"sync"

	"github.com/convoim/convo/internal/stats"
	"github.com/convoim/convo/internal/types"
)

type Hub struct {
	log   *log.Logger
	stats stats.Provider

	mu    sync.RWMutex
	conns map[string]map[*Connection]struct{}
}

func NewHub(logger *log.Logger, st stats.Provider) *Hub {
	st.RegisterMetric("NumConnections")
	st.RegisterMetric("NumStaleEvictions")

	return &Hub{
		log:   logger,
		stats: st,
		conns: make(map[string]map[*Connection]struct{}),
	}
}

// Subscribe registers a live connection for the user and starts its
// writer. The returned connection is valid until Unsubscribe or an
// eviction closes it.
func (h *Hub) Subscribe(userId string, t Transport) *Connection {
	c := newConnection(userId, t, h)

	h.mu.Lock()
	if h.conns[userId] == nil {
		h.conns[userId] = make(map[*Connection]struct{})
	}
	h.conns[userId][c] = struct{}{}
	h.mu.Unlock()

	h.stats.Incr("NumConnections")
	h.log.Printf("subscribed connection for %q", userId)

	go c.writeLoop()
	return c
}

// Unsubscribe releases the connection. No error if it was already
// removed.
func (h *Hub) Unsubscribe(c *Connection) {
	h.mu.Lock()
	userConns, ok := h.conns[c.UserId]
	if ok {
		if _, present := userConns[c]; present {
			delete(userConns, c)
			if len(userConns) == 0 {
				delete(h.conns, c.UserId)
			}
			h.stats.Decr("NumConnections")
		}
	}
	h.mu.Unlock()

	c.Close()
}

func (h *Hub) evict(c *Connection) {
	h.stats.Incr("NumStaleEvictions")
	h.Unsubscribe(c)
}

// Publish queues the event on every connection belonging to the
// given participants, skipping the originating connection when echo
// suppression is requested. Returns the user ids that had at least
// one live connection accept the event. Fan-out reads a snapshot of
// the registry, so a slow socket never holds the registry lock.
func (h *Hub) Publish(participantIds []string, ev *types.Event, skip *Connection) []string {
	conns := h.snapshot(participantIds)

	reached := make(map[string]struct{})
	for _, c := range conns {
		if c == skip {
			continue
		}

		if !c.Enqueue(ev) {
			// A full queue means the client is not draining; evict
			// so it reconnects and backfills from history instead of
			// observing a gap.
			h.log.Printf("send queue full for %q, evicting", c.UserId)
			h.evict(c)
			continue
		}
		reached[c.UserId] = struct{}{}
	}

	userIds := make([]string, 0, len(reached))
	for id := range reached {
		userIds = append(userIds, id)
	}
	return userIds
}

func (h *Hub) snapshot(userIds []string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var conns []*Connection
	for _, userId := range userIds {
		for c := range h.conns[userId] {
			conns = append(conns, c)
		}
	}
	return conns
}

// NumConnections reports live connections for a user.
func (h *Hub) NumConnections(userId string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userId])
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var all []*Connection
	for _, userConns := range h.conns {
		for c := range userConns {
			all = append(all, c)
		}
	}
	h.conns = make(map[string]map[*Connection]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}
