package client

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/soracho/chatsync/pkg/protocol"
)

// RoomDirectory tracks the joined rooms and the currently active one. The
// server is the source of truth for the room set; create and join are
// fire-and-forget commands whose confirmation arrives as an updated room
// list. "Active" only controls which room's log is rendered and whose
// unread counter resets; switching away from a room never leaves it.
type RoomDirectory struct {
	conn   commander
	logger *slog.Logger

	mu     sync.Mutex
	rooms  []protocol.Room
	active string

	onHistory func(room string, messages []protocol.Message)
}

// NewRoomDirectory creates an empty directory issuing commands on conn.
func NewRoomDirectory(conn commander, logger *slog.Logger) *RoomDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomDirectory{conn: conn, logger: logger}
}

// SetHistoryHandler wires the sink for fetched room history.
func (d *RoomDirectory) SetHistoryHandler(fn func(room string, messages []protocol.Message)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onHistory = fn
}

// Refresh requests the joined-room list. The response arrives
// asynchronously, at most once, via a one-shot callback.
func (d *RoomDirectory) Refresh() error {
	env, err := protocol.NewEnvelope(protocol.EventRoomList, nil)
	if err != nil {
		return err
	}
	return d.conn.Request(env, func(reply *protocol.Envelope) {
		var list protocol.RoomListResponse
		if err := reply.DecodeData(&list); err != nil {
			d.logger.Warn("bad room list reply", "error", err)
			return
		}
		d.Update(list.Rooms)
	})
}

// Update replaces the room set, preserving local unread counters for
// rooms that survive the update.
func (d *RoomDirectory) Update(rooms []protocol.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()

	unread := make(map[string]int, len(d.rooms))
	for _, room := range d.rooms {
		unread[room.ID] = room.Unread
	}
	for i := range rooms {
		rooms[i].Unread = unread[rooms[i].ID]
	}
	d.rooms = rooms
}

// Rooms returns a snapshot of the directory.
func (d *RoomDirectory) Rooms() []protocol.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.Room, len(d.rooms))
	copy(out, d.rooms)
	return out
}

// ActiveRoomID returns the active room's id, or "" if none is active.
func (d *RoomDirectory) ActiveRoomID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// ActiveRoom returns the active room, if any.
func (d *RoomDirectory) ActiveRoom() (protocol.Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, room := range d.rooms {
		if room.ID == d.active {
			return room, true
		}
	}
	return protocol.Room{}, false
}

// CreateRoom asks the server to create a room. Fire-and-forget: the
// server confirms by pushing an updated room list.
func (d *RoomDirectory) CreateRoom(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("room name cannot be empty")
	}
	env, err := protocol.NewEnvelope(protocol.EventCreateRoom, protocol.CreateRoomRequest{Name: name})
	if err != nil {
		return err
	}
	return d.conn.Send(env)
}

// JoinRoom asks the server to add the user to a named room. Fire-and-forget.
func (d *RoomDirectory) JoinRoom(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("room name cannot be empty")
	}
	env, err := protocol.NewEnvelope(protocol.EventJoinRoom, protocol.JoinRoomRequest{Room: name})
	if err != nil {
		return err
	}
	return d.conn.Send(env)
}

// SetActiveRoom switches the rendered room: resets its unread counter,
// re-emits the idempotent join command, and fetches its history from
// offset 0. A history response that arrives after the user has switched
// away again is discarded rather than applied to the wrong log.
func (d *RoomDirectory) SetActiveRoom(roomID string) error {
	d.mu.Lock()
	var room *protocol.Room
	for i := range d.rooms {
		if d.rooms[i].ID == roomID {
			room = &d.rooms[i]
			break
		}
	}
	if room == nil {
		d.mu.Unlock()
		return fmt.Errorf("unknown room %q", roomID)
	}
	d.active = roomID
	room.Unread = 0
	name := room.Name
	onHistory := d.onHistory
	d.mu.Unlock()

	join, err := protocol.NewEnvelope(protocol.EventJoinRoom, protocol.JoinRoomRequest{Room: name})
	if err != nil {
		return err
	}
	if err := d.conn.Send(join); err != nil {
		return err
	}

	fetch, err := protocol.NewEnvelope(protocol.EventGetMessages, protocol.GetMessagesRequest{Room: roomID, Offset: 0})
	if err != nil {
		return err
	}
	return d.conn.Request(fetch, func(reply *protocol.Envelope) {
		var history protocol.HistoryResponse
		if err := reply.DecodeData(&history); err != nil {
			d.logger.Warn("bad history reply", "room", roomID, "error", err)
			return
		}
		if d.ActiveRoomID() != roomID {
			d.logger.Debug("discarding stale history", "room", roomID)
			return
		}
		if onHistory != nil {
			onHistory(roomID, history.Messages)
		}
	})
}

// IncrementUnread bumps the unread counter of a non-active room.
func (d *RoomDirectory) IncrementUnread(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.rooms {
		if d.rooms[i].ID == roomID {
			d.rooms[i].Unread++
			return
		}
	}
}

// Touch updates a room's last-message preview and activity time.
func (d *RoomDirectory) Touch(roomID, preview string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.rooms {
		if d.rooms[i].ID == roomID {
			d.rooms[i].LastMessage = preview
			d.rooms[i].LastActivity = at
			return
		}
	}
}
