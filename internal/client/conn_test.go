package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/soracho/chatsync/internal/client"
	"github.com/soracho/chatsync/pkg/protocol"
)

// chatServer is a minimal websocket endpoint for connection tests. It
// accepts one client at a time, records inbound envelopes, and lets the
// test push frames back.
type chatServer struct {
	server   *httptest.Server
	conns    chan *websocket.Conn
	received chan *protocol.Envelope
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	cs := &chatServer{
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan *protocol.Envelope, 16),
	}
	cs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		cs.conns <- ws
		for {
			_, data, err := ws.Read(r.Context())
			if err != nil {
				return
			}
			env, err := protocol.ParseEnvelope(data)
			if err != nil {
				continue
			}
			cs.received <- env
		}
	}))
	t.Cleanup(cs.server.Close)
	return cs
}

func (cs *chatServer) url() string {
	return strings.Replace(cs.server.URL, "http", "ws", 1)
}

func (cs *chatServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-cs.conns:
		return ws
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the client to connect")
		return nil
	}
}

func (cs *chatServer) push(t *testing.T, ws *websocket.Conn, env *protocol.Envelope) {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatal(err)
	}
}

func (cs *chatServer) expect(t *testing.T, eventType protocol.EventType) *protocol.Envelope {
	t.Helper()
	select {
	case env := <-cs.received:
		if env.Type != eventType {
			t.Fatalf("received %q, want %q", env.Type, eventType)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %q", eventType)
		return nil
	}
}

func awaitEvent(t *testing.T, events <-chan any) any {
	t.Helper()
	select {
	case payload := <-events:
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

func TestConn_ConnectDisconnect(t *testing.T) {
	cs := newChatServer(t)
	session := client.NewSession("tok", protocol.Sender{Username: "Alice"}, nil)
	conn := client.NewConn(cs.url(), session, nil)

	connected := make(chan any, 1)
	conn.Subscribe(client.EventConnected, func(payload any) { connected <- payload })

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	awaitEvent(t, connected)
	if conn.State() != client.StateConnected {
		t.Errorf("state = %v, want connected", conn.State())
	}

	if err := conn.Connect(context.Background()); err == nil {
		t.Error("second Connect on a live connection should fail")
	}

	conn.Disconnect()
	conn.Disconnect()
	if conn.State() != client.StateDisconnected {
		t.Errorf("state after disconnect = %v, want disconnected", conn.State())
	}
}

func TestConn_RejectedCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, protocol.AuthenticationErrorMessage, http.StatusUnauthorized)
	}))
	defer server.Close()

	signOuts := 0
	session := client.NewSession("bad-token", protocol.Sender{Username: "Alice"}, func() { signOuts++ })
	conn := client.NewConn(strings.Replace(server.URL, "http", "ws", 1), session, nil)

	authEvents := make(chan any, 1)
	conn.Subscribe(client.EventAuthError, func(payload any) { authEvents <- payload })

	err := conn.Connect(context.Background())
	var authErr *protocol.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *protocol.AuthenticationError", err)
	}
	if signOuts != 1 {
		t.Errorf("sign-out hook fired %d times, want 1", signOuts)
	}
	if conn.State() != client.StateFailed {
		t.Errorf("state = %v, want failed", conn.State())
	}
	awaitEvent(t, authEvents)
}

func TestConn_UnreachableServer(t *testing.T) {
	session := client.NewSession("tok", protocol.Sender{}, nil)
	conn := client.NewConn("ws://127.0.0.1:1/ws", session, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := conn.Connect(ctx)
	var transportErr *protocol.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("err = %v, want *protocol.TransportError", err)
	}
	if session.SignedOut() {
		t.Error("a transport failure must not sign the session out")
	}
}

func TestConn_InBandAuthError(t *testing.T) {
	cs := newChatServer(t)
	signOuts := 0
	session := client.NewSession("expiring", protocol.Sender{Username: "Alice"}, func() { signOuts++ })
	conn := client.NewConn(cs.url(), session, nil)

	authEvents := make(chan any, 1)
	conn.Subscribe(client.EventAuthError, func(payload any) { authEvents <- payload })

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Disconnect()
	ws := cs.accept(t)

	env, err := protocol.NewEnvelope(protocol.EventConnectError, protocol.ConnectErrorPayload{Message: protocol.AuthenticationErrorMessage})
	if err != nil {
		t.Fatal(err)
	}
	cs.push(t, ws, env)

	payload := awaitEvent(t, authEvents)
	if _, ok := payload.(*protocol.AuthenticationError); !ok {
		t.Errorf("payload = %T, want *protocol.AuthenticationError", payload)
	}
	if signOuts != 1 {
		t.Errorf("sign-out hook fired %d times, want 1", signOuts)
	}
	if conn.State() != client.StateDisconnected {
		t.Errorf("state = %v, want disconnected", conn.State())
	}
}

func TestConn_DispatchNewMessage(t *testing.T) {
	cs := newChatServer(t)
	session := client.NewSession("tok", protocol.Sender{Username: "Alice"}, nil)
	conn := client.NewConn(cs.url(), session, nil)

	messages := make(chan any, 1)
	conn.Subscribe(client.EventMessageReceived, func(payload any) { messages <- payload })

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Disconnect()
	ws := cs.accept(t)

	want := protocol.Message{
		ID: "m1", Room: "general",
		Sender:  protocol.Sender{Username: "Bob"},
		Content: "hi Alice", Timestamp: time.Now().UTC(), Status: protocol.StatusDelivered,
	}
	env, err := protocol.NewEnvelope(protocol.EventNewMessage, want)
	if err != nil {
		t.Fatal(err)
	}
	cs.push(t, ws, env)

	payload := awaitEvent(t, messages)
	got, ok := payload.(protocol.Message)
	if !ok {
		t.Fatalf("payload = %T, want protocol.Message", payload)
	}
	if got.ID != want.ID || got.Content != want.Content || got.Status != want.Status {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestConn_RequestReplyCorrelation(t *testing.T) {
	cs := newChatServer(t)
	session := client.NewSession("tok", protocol.Sender{Username: "Alice"}, nil)
	conn := client.NewConn(cs.url(), session, nil)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Disconnect()
	ws := cs.accept(t)

	replies := make(chan *protocol.Envelope, 1)
	env, err := protocol.NewEnvelope(protocol.EventRoomList, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Request(env, func(reply *protocol.Envelope) { replies <- reply }); err != nil {
		t.Fatalf("Request: %v", err)
	}

	request := cs.expect(t, protocol.EventRoomList)
	if request.ID == "" {
		t.Fatal("request should carry a correlation id")
	}

	reply, err := protocol.NewEnvelope(protocol.EventRoomList, protocol.RoomListResponse{
		Rooms: []protocol.Room{{ID: "r1", Name: "general"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	reply.ID = request.ID
	cs.push(t, ws, reply)

	select {
	case got := <-replies:
		var list protocol.RoomListResponse
		if err := got.DecodeData(&list); err != nil || len(list.Rooms) != 1 {
			t.Errorf("reply = %+v err=%v", list, err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the correlated reply")
	}
}

func TestConn_SendWhileDisconnected(t *testing.T) {
	session := client.NewSession("tok", protocol.Sender{}, nil)
	conn := client.NewConn("ws://localhost:0/ws", session, nil)

	env, err := protocol.NewEnvelope(protocol.EventChatMessage, nil)
	if err != nil {
		t.Fatal(err)
	}

	var transportErr *protocol.TransportError
	if err := conn.Send(env); !errors.As(err, &transportErr) {
		t.Errorf("Send err = %v, want *protocol.TransportError", err)
	}
}

func TestConn_DisconnectFromHandler(t *testing.T) {
	cs := newChatServer(t)
	session := client.NewSession("tok", protocol.Sender{Username: "Alice"}, nil)
	conn := client.NewConn(cs.url(), session, nil)

	// The handler runs on the read goroutine; Disconnect must return
	// instead of waiting for the goroutine it is called from.
	disconnected := make(chan struct{})
	conn.Subscribe(client.EventMessageReceived, func(any) {
		conn.Disconnect()
		close(disconnected)
	})

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ws := cs.accept(t)

	env, err := protocol.NewEnvelope(protocol.EventNewMessage, protocol.Message{
		ID: "m1", Room: "general",
		Sender:  protocol.Sender{Username: "Bob"},
		Content: "bye", Timestamp: time.Now().UTC(), Status: protocol.StatusDelivered,
	})
	if err != nil {
		t.Fatal(err)
	}
	cs.push(t, ws, env)

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("Disconnect called from a handler never returned")
	}
	if conn.State() != client.StateDisconnected {
		t.Errorf("state = %v, want disconnected", conn.State())
	}

	// A teardown from the caller's goroutine still waits cleanly.
	conn.Disconnect()
}

func TestConn_AbruptServerClose(t *testing.T) {
	cs := newChatServer(t)
	session := client.NewSession("tok", protocol.Sender{Username: "Alice"}, nil)
	conn := client.NewConn(cs.url(), session, nil)

	transportEvents := make(chan any, 1)
	conn.Subscribe(client.EventTransportError, func(payload any) { transportEvents <- payload })

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ws := cs.accept(t)

	ws.Close(websocket.StatusInternalError, "going away")

	payload := awaitEvent(t, transportEvents)
	if _, ok := payload.(*protocol.TransportError); !ok {
		t.Errorf("payload = %T, want *protocol.TransportError", payload)
	}
	if conn.State() != client.StateDisconnected {
		t.Errorf("state = %v, want disconnected", conn.State())
	}
	if session.SignedOut() {
		t.Error("a dropped connection must not sign the session out")
	}
}
