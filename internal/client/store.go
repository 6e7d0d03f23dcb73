package client

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soracho/chatsync/pkg/protocol"
)

// Fallback promotion delays for sends the server never acks explicitly.
// A server-driven message ack wins the race; advance ignores whichever
// arrives second.
const (
	deliverDelay = time.Second
	readDelay    = 2 * time.Second
)

// roomTracker is the slice of the room directory the store is allowed to
// touch: active-room checks and per-room metadata updates. All room state
// stays owned by the directory.
type roomTracker interface {
	ActiveRoomID() string
	IncrementUnread(roomID string)
	Touch(roomID, preview string, at time.Time)
}

// Store owns the ordered per-room message logs. All mutations are
// local-first and optimistic: they apply immediately and are not rolled
// back if the server silently rejects them.
type Store struct {
	conn   commander
	rooms  roomTracker
	user   protocol.Sender
	logger *slog.Logger

	mu      sync.Mutex
	logs    map[string][]*protocol.Message
	replyTo string

	deliverDelay time.Duration
	readDelay    time.Duration
}

// NewStore creates an empty message store for the given local user.
func NewStore(conn commander, rooms roomTracker, user protocol.Sender, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		conn:         conn,
		rooms:        rooms,
		user:         user,
		logger:       logger,
		logs:         make(map[string][]*protocol.Message),
		deliverDelay: deliverDelay,
		readDelay:    readDelay,
	}
}

// SendMessage synthesizes a message for the active room, appends it
// optimistically with status Pending, and dispatches it. Returns nil
// without side effects when no room is active or the text is blank.
// Mentions are every @word token in source order, duplicates kept. Any
// pending reply context is consumed by the send.
func (s *Store) SendMessage(text string) *protocol.Message {
	room := s.rooms.ActiveRoomID()
	if room == "" || strings.TrimSpace(text) == "" {
		return nil
	}

	s.mu.Lock()
	msg := &protocol.Message{
		ID:        uuid.NewString(),
		Room:      room,
		Sender:    s.user,
		Content:   text,
		Timestamp: time.Now(),
		Status:    protocol.StatusPending,
		ReplyTo:   s.replyTo,
		Mentions:  ExtractMentions(text),
	}
	s.logs[room] = append(s.logs[room], msg)
	s.replyTo = ""
	s.mu.Unlock()

	s.rooms.Touch(room, text, msg.Timestamp)

	env, err := protocol.NewEnvelope(protocol.EventChatMessage, protocol.ChatMessagePayload{Room: room, Message: *msg})
	if err == nil {
		err = s.conn.Send(env)
	}
	if err != nil {
		s.logger.Warn("message dispatch failed", "id", msg.ID, "error", err)
		return s.snapshot(msg.ID)
	}

	s.advance(msg.ID, protocol.StatusSent)

	id := msg.ID
	time.AfterFunc(s.deliverDelay, func() { s.advance(id, protocol.StatusDelivered) })
	time.AfterFunc(s.readDelay, func() { s.advance(id, protocol.StatusRead) })

	return s.snapshot(msg.ID)
}

// EditMessage rewrites a message's content. Permitted only on the local
// user's own text messages; a no-op when the trimmed text is unchanged
// or empty. Reports whether an edit was applied.
func (s *Store) EditMessage(id, newText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.find(id)
	if msg == nil || msg.Sender != s.user || msg.Attachment != nil {
		return false
	}
	trimmed := strings.TrimSpace(newText)
	if trimmed == "" || trimmed == strings.TrimSpace(msg.Content) {
		return false
	}
	msg.Content = newText
	msg.Edited = true
	return true
}

// DeleteMessage removes the local user's own message from its room log.
// Hard delete, no tombstone.
func (s *Store) DeleteMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for room, log := range s.logs {
		for i, msg := range log {
			if msg.ID != id {
				continue
			}
			if msg.Sender != s.user {
				return false
			}
			s.logs[room] = append(log[:i], log[i+1:]...)
			return true
		}
	}
	return false
}

// PinMessage toggles a message's pinned flag. Any participant may pin;
// any number of messages may be pinned at once.
func (s *Store) PinMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.find(id)
	if msg == nil {
		return false
	}
	msg.Pinned = !msg.Pinned
	return true
}

// StarMessage toggles a message's starred flag.
func (s *Store) StarMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.find(id)
	if msg == nil {
		return false
	}
	msg.Starred = !msg.Starred
	return true
}

// React toggles the local user's membership in the emoji's reactor set.
// Toggling the last reactor off removes the reaction entry entirely; an
// empty entry is never kept.
func (s *Store) React(id, emoji string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.find(id)
	if msg == nil {
		return false
	}

	user := s.user.Username
	for i := range msg.Reactions {
		reaction := &msg.Reactions[i]
		if reaction.Emoji != emoji {
			continue
		}
		for j, reactor := range reaction.Users {
			if reactor != user {
				continue
			}
			users := make([]string, 0, len(reaction.Users)-1)
			users = append(users, reaction.Users[:j]...)
			users = append(users, reaction.Users[j+1:]...)
			if len(users) == 0 {
				msg.Reactions = append(msg.Reactions[:i], msg.Reactions[i+1:]...)
			} else {
				reaction.Users = users
			}
			return true
		}
		reaction.Users = append(reaction.Users, user)
		return true
	}
	msg.Reactions = append(msg.Reactions, protocol.Reaction{Emoji: emoji, Users: []string{user}})
	return true
}

// Receive appends an inbound message to its room log. Messages for
// non-active rooms bump that room's unread counter. An echo of a message
// already in the log (the sender's own broadcast copy) is folded into a
// Delivered advance instead of a duplicate entry.
func (s *Store) Receive(msg protocol.Message) {
	if msg.Room == "" {
		return
	}

	s.mu.Lock()
	if existing := s.find(msg.ID); existing != nil {
		if existing.Status.Advances(protocol.StatusDelivered) {
			existing.Status = protocol.StatusDelivered
		}
		s.mu.Unlock()
		return
	}
	entry := msg
	s.logs[msg.Room] = append(s.logs[msg.Room], &entry)
	s.mu.Unlock()

	s.rooms.Touch(msg.Room, msg.Preview(), msg.Timestamp)
	if msg.Room != s.rooms.ActiveRoomID() {
		s.rooms.IncrementUnread(msg.Room)
	}
}

// HandleAck applies a server-driven status advance.
func (s *Store) HandleAck(ack protocol.MessageAck) {
	s.advance(ack.ID, ack.Status)
}

// ApplyHistory merges a fetched history page into the room's log. The
// page becomes the log; local entries the server has not confirmed yet
// (status below Delivered, absent from the page) are kept after it, so a
// send racing an in-flight fetch is never dropped and its pending acks
// and timers still find it.
func (s *Store) ApplyHistory(room string, messages []protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fetched := make(map[string]bool, len(messages))
	log := make([]*protocol.Message, 0, len(messages))
	for i := range messages {
		entry := messages[i]
		fetched[entry.ID] = true
		log = append(log, &entry)
	}
	for _, msg := range s.logs[room] {
		if !fetched[msg.ID] && msg.Status.Advances(protocol.StatusDelivered) {
			log = append(log, msg)
		}
	}
	s.logs[room] = log
}

// Messages returns a snapshot of a room's log in display order.
func (s *Store) Messages(room string) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, len(s.logs[room]))
	for i, msg := range s.logs[room] {
		out[i] = *msg
	}
	return out
}

// FilterBySearch returns the room's messages whose content contains the
// query, case-insensitively. A view: the log is not mutated.
func (s *Store) FilterBySearch(room, query string) []protocol.Message {
	query = strings.ToLower(query)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []protocol.Message
	for _, msg := range s.logs[room] {
		if strings.Contains(strings.ToLower(msg.Content), query) {
			out = append(out, *msg)
		}
	}
	return out
}

// Pinned returns the room's pinned messages in log order.
func (s *Store) Pinned(room string) []protocol.Message {
	return s.filter(room, func(m *protocol.Message) bool { return m.Pinned })
}

// Starred returns the room's starred messages in log order.
func (s *Store) Starred(room string) []protocol.Message {
	return s.filter(room, func(m *protocol.Message) bool { return m.Starred })
}

// ReplyTo records the message the next send replies to.
func (s *Store) ReplyTo(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyTo = id
}

// ClearReply drops any pending reply context.
func (s *Store) ClearReply() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyTo = ""
}

// Replying returns the pending reply target, or "".
func (s *Store) Replying() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyTo
}

// GroupForDisplay splits a log into maximal runs of consecutive messages
// from the same sender, for presentation batching. Pure function of its
// input.
func GroupForDisplay(messages []protocol.Message) [][]protocol.Message {
	var grouped [][]protocol.Message
	var current []protocol.Message

	for i, msg := range messages {
		if i == 0 || msg.Sender != messages[i-1].Sender {
			if len(current) > 0 {
				grouped = append(grouped, current)
			}
			current = []protocol.Message{msg}
		} else {
			current = append(current, msg)
		}
	}
	if len(current) > 0 {
		grouped = append(grouped, current)
	}
	return grouped
}

// advance moves a message's delivery status forward. Backward or
// same-stage transitions are ignored, so status never regresses no
// matter how timers and server acks interleave.
func (s *Store) advance(id string, status protocol.DeliveryStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.find(id)
	if msg != nil && msg.Status.Advances(status) {
		msg.Status = status
	}
}

// find locates a message by id across all rooms. Caller holds s.mu.
func (s *Store) find(id string) *protocol.Message {
	for _, log := range s.logs {
		for _, msg := range log {
			if msg.ID == id {
				return msg
			}
		}
	}
	return nil
}

func (s *Store) filter(room string, keep func(*protocol.Message) bool) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Message
	for _, msg := range s.logs[room] {
		if keep(msg) {
			out = append(out, *msg)
		}
	}
	return out
}

func (s *Store) snapshot(id string) *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.find(id)
	if msg == nil {
		return nil
	}
	out := *msg
	return &out
}
