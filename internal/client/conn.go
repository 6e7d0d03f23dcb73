package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/soracho/chatsync/pkg/protocol"
)

// maxFrameSize bounds inbound frames. File uploads travel as single
// whole-file frames, so this is also the effective attachment size limit.
const maxFrameSize = 32 << 20

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind selects which connection events a handler receives.
type EventKind int

const (
	EventConnected EventKind = iota
	EventAuthError
	EventTransportError
	EventRoomListUpdated
	EventMessageReceived
	EventMessageAcknowledged
	EventServerError
)

// Handler receives a connection event. Handlers run on the connection's
// read goroutine (or the caller of Connect) and must not block for long.
type Handler func(payload any)

// commander issues protocol commands over the live connection. Conn is the
// production implementation; tests substitute fakes.
type commander interface {
	Send(env *protocol.Envelope) error
	Request(env *protocol.Envelope, callback func(*protocol.Envelope)) error
}

var errNotConnected = errors.New("not connected to server")

// Conn owns the single persistent connection of a session. It dials with
// the session credential bound at handshake time, decodes inbound
// envelopes, and dispatches them to subscribed handlers. There is exactly
// one live Conn per authenticated session, and no automatic reconnect:
// transport failures surface through subscriptions and the caller decides
// whether to call Connect again.
type Conn struct {
	url     string
	session *Session
	logger  *slog.Logger

	mu       sync.RWMutex
	ws       *websocket.Conn
	state    State
	handlers map[EventKind][]Handler
	pending  map[string]func(*protocol.Envelope)

	done        chan struct{}
	closeOnce   *sync.Once
	wg          sync.WaitGroup
	dispatching atomic.Bool
}

// NewConn creates a connection manager for the given endpoint and session.
// A nil logger falls back to slog.Default().
func NewConn(url string, session *Session, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		url:      url,
		session:  session,
		logger:   logger,
		state:    StateDisconnected,
		handlers: make(map[EventKind][]Handler),
		pending:  make(map[string]func(*protocol.Envelope)),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Subscribe registers a handler for one event kind. Registration is
// append-only; handlers stay subscribed across reconnects.
func (c *Conn) Subscribe(kind EventKind, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], handler)
}

// Connect dials the server, attaching the session credential as a bearer
// header. A credential rejection returns *protocol.AuthenticationError and
// signs the session out; any other failure returns *protocol.TransportError
// and may be retried by calling Connect again.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("connection already %s", c.state)
	}
	c.state = StateConnecting
	c.done = make(chan struct{})
	c.closeOnce = &sync.Once{}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.session.Token())

	ws, resp, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.setState(StateFailed)
			authErr := &protocol.AuthenticationError{Message: resp.Status}
			c.session.SignOut()
			c.emit(EventAuthError, authErr)
			return authErr
		}
		c.setState(StateFailed)
		transportErr := &protocol.TransportError{Op: "connect", Err: err}
		c.emit(EventTransportError, transportErr)
		return transportErr
	}
	ws.SetReadLimit(maxFrameSize)

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop()

	c.logger.Info("connected", "url", c.url, "user", c.session.User().Username)
	c.emit(EventConnected, nil)
	return nil
}

// Disconnect performs a clean teardown. Idempotent, and safe to call
// from a subscribed handler: handlers run on the read goroutine, so in
// that case the loop is signalled to exit but not waited on.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.state = StateDisconnected
	c.pending = make(map[string]func(*protocol.Envelope))
	once := c.closeOnce
	done := c.done
	c.mu.Unlock()

	if once != nil {
		once.Do(func() { close(done) })
	}
	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "")
	}
	if !c.dispatching.Load() {
		c.wg.Wait()
	}
}

// Send encodes and writes a fire-and-forget envelope.
func (c *Conn) Send(env *protocol.Envelope) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()

	if ws == nil {
		return &protocol.TransportError{Op: "send", Err: errNotConnected}
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		return &protocol.TransportError{Op: "send", Err: err}
	}
	return nil
}

// Request sends an envelope tagged with a correlation id and registers a
// one-shot callback for the reply. Two in-flight requests have no ordering
// guarantee relative to each other.
func (c *Conn) Request(env *protocol.Envelope, callback func(*protocol.Envelope)) error {
	env.ID = uuid.NewString()

	c.mu.Lock()
	c.pending[env.ID] = callback
	c.mu.Unlock()

	if err := c.Send(env); err != nil {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Conn) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Conn) emit(kind EventKind, payload any) {
	c.mu.RLock()
	handlers := make([]Handler, len(c.handlers[kind]))
	copy(handlers, c.handlers[kind])
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(payload)
	}
}

func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		ws := c.ws
		c.mu.RUnlock()
		if ws == nil {
			return
		}

		_, data, err := ws.Read(context.Background())
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.mu.Lock()
			c.ws = nil
			c.state = StateDisconnected
			c.mu.Unlock()
			c.emit(EventTransportError, &protocol.TransportError{Op: "read", Err: err})
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.logger.Warn("discarding malformed frame", "error", err)
			continue
		}
		c.dispatching.Store(true)
		c.dispatch(env)
		c.dispatching.Store(false)
	}
}

// dispatch routes an inbound envelope: correlated replies go to their
// one-shot callback, everything else to the subscription handlers.
func (c *Conn) dispatch(env *protocol.Envelope) {
	if env.ID != "" {
		c.mu.Lock()
		callback, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
		if ok {
			callback(env)
			return
		}
	}

	switch env.Type {
	case protocol.EventNewMessage:
		var msg protocol.Message
		if err := env.DecodeData(&msg); err != nil {
			c.logger.Warn("bad new message payload", "error", err)
			return
		}
		c.emit(EventMessageReceived, msg)

	case protocol.EventMessageAck:
		var ack protocol.MessageAck
		if err := env.DecodeData(&ack); err != nil {
			c.logger.Warn("bad message ack payload", "error", err)
			return
		}
		c.emit(EventMessageAcknowledged, ack)

	case protocol.EventRoomList:
		var list protocol.RoomListResponse
		if err := env.DecodeData(&list); err != nil {
			c.logger.Warn("bad room list payload", "error", err)
			return
		}
		c.emit(EventRoomListUpdated, list.Rooms)

	case protocol.EventConnectError:
		var payload protocol.ConnectErrorPayload
		if err := env.DecodeData(&payload); err != nil {
			c.logger.Warn("bad connect_error payload", "error", err)
			return
		}
		if payload.Message == protocol.AuthenticationErrorMessage {
			c.teardownFromLoop()
			c.session.SignOut()
			c.emit(EventAuthError, &protocol.AuthenticationError{Message: payload.Message})
			return
		}
		c.emit(EventTransportError, &protocol.TransportError{Op: "session", Err: errors.New(payload.Message)})

	case protocol.EventError:
		var message string
		if err := env.DecodeData(&message); err != nil {
			c.logger.Warn("bad error payload", "error", err)
			return
		}
		c.emit(EventServerError, &protocol.ServerReportedError{Message: message})

	default:
		c.logger.Warn("unhandled event", "type", env.Type)
	}
}

// teardownFromLoop closes the connection from inside the read goroutine
// without waiting on it.
func (c *Conn) teardownFromLoop() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.state = StateDisconnected
	c.pending = make(map[string]func(*protocol.Envelope))
	once := c.closeOnce
	done := c.done
	c.mu.Unlock()

	if once != nil {
		once.Do(func() { close(done) })
	}
	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "")
	}
}
