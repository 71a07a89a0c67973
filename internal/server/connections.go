package server

import (
	"sync"

	"github.com/npezzotti/go-watchparty/internal/types"
)

// connections indexes live clients by connection id.
type connections struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func newConnections() *connections {
	return &connections{clients: make(map[string]*Client)}
}

func (cs *connections) add(c *Client) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.clients[c.id] = c
}

func (cs *connections) remove(id string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.clients[id]; !ok {
		return false
	}
	delete(cs.clients, id)
	return true
}

func (cs *connections) get(id string) (*Client, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.clients[id]
	return c, ok
}

func (cs *connections) all() []*Client {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	clients := make([]*Client, 0, len(cs.clients))
	for _, c := range cs.clients {
		clients = append(clients, c)
	}
	return clients
}

func (cs *connections) len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.clients)
}

// sendToMembers queues msg on every member's connection except skip.
// Members whose connection is already gone are ignored.
func (cs *connections) sendToMembers(members []types.RoomMember, msg *ServerMessage, skip string) {
	for _, m := range members {
		if m.ConnectionId == skip {
			continue
		}
		if c, ok := cs.get(m.ConnectionId); ok {
			c.queueMessage(msg)
		}
	}
}
