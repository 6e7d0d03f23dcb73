// Package protocol defines the wire vocabulary shared by the chat client
// and server: the JSON event envelope, the payload types for each event,
// the message and room domain types, and the error taxonomy.
package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of envelope on the wire.
type EventType string

const (
	// Client -> Server
	EventRoomList    EventType = "room list"
	EventCreateRoom  EventType = "create room"
	EventJoinRoom    EventType = "join room"
	EventGetMessages EventType = "get messages"
	EventChatMessage EventType = "chat message"
	EventFileUpload  EventType = "file upload"

	// Server -> Client
	EventNewMessage   EventType = "new message"
	EventMessageAck   EventType = "message ack"
	EventHistory      EventType = "history"
	EventConnectError EventType = "connect_error"
	EventError        EventType = "error"
)

// AuthenticationErrorMessage is the connect_error payload that signals the
// credential was rejected. Receiving it must force a sign-out.
const AuthenticationErrorMessage = "AUTHENTICATION_ERROR"

// Envelope wraps every wire message with a type field. ID, when set,
// correlates a request with its reply: the server echoes the ID on the
// envelope that answers a room list, get messages, or file upload request.
type Envelope struct {
	Type EventType       `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope creates an envelope with the given type and payload.
func NewEnvelope(eventType EventType, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q payload: %w", eventType, err)
	}
	return &Envelope{Type: eventType, Data: raw}, nil
}

// Encode encodes the envelope into bytes for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// ParseEnvelope parses a wire frame into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope has no type")
	}
	return &env, nil
}

// DecodeData decodes the envelope payload into v.
func (e *Envelope) DecodeData(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %q payload: %w", e.Type, err)
	}
	return nil
}

// CreateRoomRequest asks the server to create a named room.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// JoinRoomRequest asks the server to add the caller to a room's membership.
// Joining is idempotent on the server side.
type JoinRoomRequest struct {
	Room string `json:"room"`
}

// GetMessagesRequest fetches a page of room history starting at Offset.
type GetMessagesRequest struct {
	Room   string `json:"room"`
	Offset int    `json:"offset"`
}

// ChatMessagePayload carries an outbound text message.
type ChatMessagePayload struct {
	Room    string  `json:"room"`
	Message Message `json:"message"`
}

// FileUploadRequest carries a single-shot binary upload. File is the whole
// payload; there is no chunking.
type FileUploadRequest struct {
	Room     string `json:"room"`
	File     []byte `json:"file"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

// FileUploadResponse acknowledges an upload. Exactly one of Success or
// Error is meaningful.
type FileUploadResponse struct {
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	FileID  string `json:"fileId,omitempty"`
	FileURL string `json:"fileUrl,omitempty"`
}

// RoomListResponse answers a room list request with the caller's joined rooms.
type RoomListResponse struct {
	Rooms []Room `json:"rooms"`
}

// HistoryResponse answers a get messages request. HasMore reports whether
// older messages exist beyond this page.
type HistoryResponse struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// MessageAck reports a delivery status advance for a previously sent message.
type MessageAck struct {
	ID     string         `json:"id"`
	Status DeliveryStatus `json:"status"`
}

// ConnectErrorPayload reports a connection-level failure.
type ConnectErrorPayload struct {
	Message string `json:"message"`
}
