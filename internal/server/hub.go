// Package server implements the reference chat server: jwt-authenticated
// websocket sessions, named rooms with in-memory history, and the event
// vocabulary the client engine speaks. Nothing is persisted across
// restarts.
package server

import (
	"sync"

	"nhooyr.io/websocket"

	"github.com/soracho/chatsync/pkg/protocol"
)

// outgoingBuffer is the per-session send queue depth. Sessions that fall
// this far behind have frames dropped rather than stalling the hub.
const outgoingBuffer = 256

// session is one authenticated websocket connection.
type session struct {
	user     protocol.Sender
	conn     *websocket.Conn
	outgoing chan []byte
}

// Hub tracks the connected sessions and routes frames to room members.
// One user may hold several sessions (multiple tabs); each gets a copy.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*session]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[*session]bool)}
}

// Register adds a session to the hub.
func (h *Hub) Register(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = true
}

// Unregister removes a session from the hub.
func (h *Hub) Unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast enqueues data to every session whose user is in members,
// except sessions belonging to exclude (pass "" to include everyone).
func (h *Hub) Broadcast(members map[string]bool, data []byte, exclude string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if !members[s.user.Username] || s.user.Username == exclude {
			continue
		}
		select {
		case s.outgoing <- data:
		default:
			// Slow consumer; drop rather than stall the hub.
		}
	}
}
