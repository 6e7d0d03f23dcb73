package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soracho/chatsync/pkg/protocol"
)

// Config configures a chat engine.
type Config struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8080/ws".
	URL string
	// Token is the bearer credential obtained from the identity provider.
	Token string
	// User is the local user identity messages are sent as.
	User protocol.Sender
	// OnSignOut fires at most once when the server rejects the credential.
	OnSignOut func()
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is the assembled chat synchronization engine: one session, one
// connection, and the state components feeding off its event stream. The
// UI layer reads derived state from Rooms, Store, and Typing, and issues
// commands back through them.
type Client struct {
	Session  *Session
	Conn     *Conn
	Rooms    *RoomDirectory
	Store    *Store
	Typing   *TypingTracker
	Transfer *Transfer
}

// New assembles an engine from the config and wires the internal event
// subscriptions: connection established triggers a room list fetch,
// inbound messages and acks flow into the store.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("credential is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	session := NewSession(cfg.Token, cfg.User, cfg.OnSignOut)
	conn := NewConn(cfg.URL, session, logger)
	rooms := NewRoomDirectory(conn, logger)
	store := NewStore(conn, rooms, cfg.User, logger)
	rooms.SetHistoryHandler(store.ApplyHistory)

	conn.Subscribe(EventConnected, func(any) {
		if err := rooms.Refresh(); err != nil {
			logger.Warn("room list fetch failed", "error", err)
		}
	})
	conn.Subscribe(EventMessageReceived, func(payload any) {
		if msg, ok := payload.(protocol.Message); ok {
			store.Receive(msg)
		}
	})
	conn.Subscribe(EventMessageAcknowledged, func(payload any) {
		if ack, ok := payload.(protocol.MessageAck); ok {
			store.HandleAck(ack)
		}
	})
	conn.Subscribe(EventRoomListUpdated, func(payload any) {
		if list, ok := payload.([]protocol.Room); ok {
			rooms.Update(list)
		}
	})

	return &Client{
		Session:  session,
		Conn:     conn,
		Rooms:    rooms,
		Store:    store,
		Typing:   NewTypingTracker(),
		Transfer: NewTransfer(conn, logger),
	}, nil
}

// Connect establishes the session's connection.
func (c *Client) Connect(ctx context.Context) error {
	return c.Conn.Connect(ctx)
}

// Disconnect tears the engine down. Idempotent.
func (c *Client) Disconnect() {
	c.Conn.Disconnect()
	c.Typing.Stop()
}
