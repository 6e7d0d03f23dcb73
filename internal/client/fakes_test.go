package client

import (
	"sync"
	"time"

	"github.com/soracho/chatsync/pkg/protocol"
)

// fakeCommander records outbound envelopes and lets tests answer
// correlated requests on demand.
type fakeCommander struct {
	mu       sync.Mutex
	sendErr  error
	sent     []*protocol.Envelope
	requests []pendingRequest
}

type pendingRequest struct {
	env      *protocol.Envelope
	callback func(*protocol.Envelope)
}

func (f *fakeCommander) Send(env *protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeCommander) Request(env *protocol.Envelope, callback func(*protocol.Envelope)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.requests = append(f.requests, pendingRequest{env: env, callback: callback})
	return nil
}

func (f *fakeCommander) sentOfType(eventType protocol.EventType) []*protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range f.sent {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeCommander) lastRequest() (pendingRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return pendingRequest{}, false
	}
	return f.requests[len(f.requests)-1], true
}

// reply answers the most recent correlated request with the given payload.
func (f *fakeCommander) reply(eventType protocol.EventType, data any) bool {
	request, ok := f.lastRequest()
	if !ok {
		return false
	}
	env, err := protocol.NewEnvelope(eventType, data)
	if err != nil {
		return false
	}
	env.ID = request.env.ID
	request.callback(env)
	return true
}

// fakeRooms satisfies roomTracker with plain fields.
type fakeRooms struct {
	mu      sync.Mutex
	active  string
	unread  map[string]int
	touched []string
}

func newFakeRooms(active string) *fakeRooms {
	return &fakeRooms{active: active, unread: make(map[string]int)}
}

func (f *fakeRooms) ActiveRoomID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeRooms) IncrementUnread(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread[roomID]++
}

func (f *fakeRooms) Touch(roomID, preview string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, roomID)
}

func (f *fakeRooms) unreadFor(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[roomID]
}
