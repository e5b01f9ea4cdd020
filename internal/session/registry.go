package session

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nradhesh/code-sync/internal/models"
)

// Registry tracks which live connections belong to which room, for
// fan-out. It is updated in the same critical section as session
// directory writes so broadcast membership never diverges from the
// stored state.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connection id -> client
	rooms   map[string]map[string]*Client // room id -> connection id -> client
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

// Register makes a connection addressable for single-target sends.
// It does not place the connection in any room; Join does that.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
}

// Unregister drops the connection from the address table.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connectionID)
}

// Join adds the connection to a room's broadcast group.
func (r *Registry) Join(roomID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]*Client)
		r.rooms[roomID] = room
	}
	room[c.ID] = c
}

// Leave removes the connection from the room's broadcast group and
// returns the number of connections left in it.
func (r *Registry) Leave(roomID, connectionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	delete(room, connectionID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
		return 0
	}
	return len(room)
}

// Get returns the live client for a connection id, if any.
func (r *Registry) Get(connectionID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connectionID]
	return c, ok
}

// Peers snapshots the room's live clients excluding one connection, so
// callers can perform the sends without holding any lock.
func (r *Registry) Peers(roomID, exceptID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]*Client, 0, len(r.rooms[roomID]))
	for id, c := range r.rooms[roomID] {
		if id == exceptID {
			continue
		}
		peers = append(peers, c)
	}
	return peers
}

// Broadcast sends a frame to every room member except the sender.
func (r *Registry) Broadcast(roomID, senderID string, frame models.WSFrame) {
	for _, c := range r.Peers(roomID, senderID) {
		c.Send(frame)
	}
}

// Send delivers a frame to one connection. Unknown targets are
// silently dropped.
func (r *Registry) Send(connectionID string, frame models.WSFrame) {
	if c, ok := r.Get(connectionID); ok {
		c.Send(frame)
	}
}

// CloseAll closes every live connection, used on shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*Client)
	r.rooms = make(map[string]map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, reason)
	}
}
