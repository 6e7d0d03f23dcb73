package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soracho/chatsync/pkg/protocol"
)

// Registry owns the server-side room state: names, stable ids,
// membership, ordered history, and uploaded file payloads.
type Registry struct {
	mu       sync.Mutex
	pageSize int
	byID     map[string]*room
	byName   map[string]*room
	files    map[string][]byte
}

type room struct {
	id           string
	name         string
	members      map[string]bool
	history      []protocol.Message
	lastMessage  string
	lastActivity time.Time
}

// NewRegistry creates an empty registry paginating history by pageSize.
func NewRegistry(pageSize int) *Registry {
	return &Registry{
		pageSize: pageSize,
		byID:     make(map[string]*room),
		byName:   make(map[string]*room),
		files:    make(map[string][]byte),
	}
}

// Create makes a new named room with the creator as first member. Creating
// a name that already exists joins it instead; room names are unique.
func (r *Registry) Create(name, creator string) (protocol.Room, error) {
	if name == "" {
		return protocol.Room{}, fmt.Errorf("room name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.byName[name]
	if !ok {
		rm = &room{
			id:      uuid.NewString(),
			name:    name,
			members: make(map[string]bool),
		}
		r.byID[rm.id] = rm
		r.byName[name] = rm
	}
	rm.members[creator] = true
	return rm.snapshot(), nil
}

// Join adds a user to an existing room's membership. Idempotent.
func (r *Registry) Join(name, user string) (protocol.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.byName[name]
	if !ok {
		return protocol.Room{}, fmt.Errorf("room %q does not exist", name)
	}
	rm.members[user] = true
	return rm.snapshot(), nil
}

// ListFor returns the rooms the user has joined.
func (r *Registry) ListFor(user string) []protocol.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rooms []protocol.Room
	for _, rm := range r.byID {
		if rm.members[user] {
			rooms = append(rooms, rm.snapshot())
		}
	}
	return rooms
}

// Members returns the membership set of a room.
func (r *Registry) Members(roomID string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.byID[roomID]
	if !ok {
		return nil, fmt.Errorf("unknown room %q", roomID)
	}
	members := make(map[string]bool, len(rm.members))
	for user := range rm.members {
		members[user] = true
	}
	return members, nil
}

// Append adds a message to a room's history. The sender must be a member.
func (r *Registry) Append(roomID string, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.byID[roomID]
	if !ok {
		return fmt.Errorf("unknown room %q", roomID)
	}
	if !rm.members[msg.Sender.Username] {
		return fmt.Errorf("%s is not a member of %s", msg.Sender.Username, rm.name)
	}
	rm.history = append(rm.history, msg)
	rm.lastMessage = msg.Preview()
	rm.lastActivity = msg.Timestamp
	return nil
}

// Page returns one page of a room's history starting at offset, oldest
// first, and whether more messages follow the page.
func (r *Registry) Page(roomID string, offset int) ([]protocol.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.byID[roomID]
	if !ok {
		return nil, false, fmt.Errorf("unknown room %q", roomID)
	}
	if offset < 0 || offset >= len(rm.history) {
		return nil, false, nil
	}
	end := offset + r.pageSize
	if end > len(rm.history) {
		end = len(rm.history)
	}
	page := make([]protocol.Message, end-offset)
	copy(page, rm.history[offset:end])
	return page, end < len(rm.history), nil
}

// SaveFile stores an uploaded payload and returns its server-assigned id.
func (r *Registry) SaveFile(data []byte) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.files[id] = data
	r.mu.Unlock()
	return id
}

// File returns an uploaded payload by id.
func (r *Registry) File(id string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[id]
	return data, ok
}

func (rm *room) snapshot() protocol.Room {
	return protocol.Room{
		ID:           rm.id,
		Name:         rm.name,
		LastMessage:  rm.lastMessage,
		LastActivity: rm.lastActivity,
	}
}
