package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/soracho/chatsync/internal/client"
	"github.com/soracho/chatsync/pkg/protocol"
)

func TestNew_Validation(t *testing.T) {
	if _, err := client.New(client.Config{Token: "tok"}); err == nil {
		t.Error("missing URL should be rejected")
	}
	if _, err := client.New(client.Config{URL: "ws://localhost/ws"}); err == nil {
		t.Error("missing token should be rejected")
	}
}

// TestEngine_Wiring drives the assembled engine against a scripted server:
// connecting fetches the room list, and an inbound message lands in the
// store with the unread counter of its non-active room bumped.
func TestEngine_Wiring(t *testing.T) {
	cs := newChatServer(t)

	c, err := client.New(client.Config{
		URL:   cs.url(),
		Token: "tok",
		User:  protocol.Sender{Email: "alice@example.com", Username: "Alice"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()
	ws := cs.accept(t)

	// Connecting triggers an automatic room list fetch.
	request := cs.expect(t, protocol.EventRoomList)
	reply, err := protocol.NewEnvelope(protocol.EventRoomList, protocol.RoomListResponse{
		Rooms: []protocol.Room{{ID: "r1", Name: "general"}, {ID: "r2", Name: "random"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	reply.ID = request.ID
	cs.push(t, ws, reply)

	deadline := time.After(time.Second)
	for len(c.Rooms.Rooms()) != 2 {
		select {
		case <-deadline:
			t.Fatalf("room list never arrived, have %+v", c.Rooms.Rooms())
		case <-time.After(5 * time.Millisecond):
		}
	}

	inbound, err := protocol.NewEnvelope(protocol.EventNewMessage, protocol.Message{
		ID: "m1", Room: "r2",
		Sender:  protocol.Sender{Username: "Bob"},
		Content: "anyone around?", Timestamp: time.Now().UTC(), Status: protocol.StatusDelivered,
	})
	if err != nil {
		t.Fatal(err)
	}
	cs.push(t, ws, inbound)

	deadline = time.After(time.Second)
	for len(c.Store.Messages("r2")) != 1 {
		select {
		case <-deadline:
			t.Fatal("inbound message never reached the store")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// No room is active, so r2 counts as unread.
	for _, room := range c.Rooms.Rooms() {
		if room.ID == "r2" && room.Unread != 1 {
			t.Errorf("unread for r2 = %d, want 1", room.Unread)
		}
	}
}
