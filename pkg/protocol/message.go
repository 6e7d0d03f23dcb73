package protocol

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DeliveryStatus is the lifecycle stage of a sent message. Transitions are
// monotonically non-decreasing: Pending -> Sent -> Delivered -> Read.
type DeliveryStatus int

const (
	StatusPending DeliveryStatus = iota
	StatusSent
	StatusDelivered
	StatusRead
)

var statusNames = map[DeliveryStatus]string{
	StatusPending:   "pending",
	StatusSent:      "sent",
	StatusDelivered: "delivered",
	StatusRead:      "read",
}

// String returns the wire name of the status.
func (s DeliveryStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Advances reports whether moving to next is a forward transition.
// Backward and same-stage transitions must be ignored by callers.
func (s DeliveryStatus) Advances(next DeliveryStatus) bool {
	return next > s
}

// MarshalJSON encodes the status by its wire name.
func (s DeliveryStatus) MarshalJSON() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown delivery status %d", int(s))
	}
	return []byte(`"` + name + `"`), nil
}

// UnmarshalJSON decodes a status from its wire name.
func (s *DeliveryStatus) UnmarshalJSON(data []byte) error {
	name := strings.Trim(string(data), `"`)
	for status, n := range statusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown delivery status %q", name)
}

// Sender identifies the author of a message.
type Sender struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Attachment references an uploaded file. The server assigns the ID and
// retrieval URL when it accepts the upload.
type Attachment struct {
	FileID   string `json:"fileId,omitempty"`
	FileURL  string `json:"fileUrl,omitempty"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType,omitempty"`
}

// Reaction is an emoji annotation with the identities that applied it,
// in the order they reacted. An entry with no users is never kept.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
}

// Message is a single chat message. Exactly one of Content or Attachment
// is populated.
type Message struct {
	ID         string         `json:"id"`
	Room       string         `json:"room"`
	Sender     Sender         `json:"sender"`
	Content    string         `json:"content,omitempty"`
	Attachment *Attachment    `json:"attachment,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Status     DeliveryStatus `json:"status"`
	Edited     bool           `json:"edited,omitempty"`
	Pinned     bool           `json:"pinned,omitempty"`
	Starred    bool           `json:"starred,omitempty"`
	ReplyTo    string         `json:"replyTo,omitempty"`
	Reactions  []Reaction     `json:"reactions,omitempty"`
	Mentions   []string       `json:"mentions,omitempty"`
}

// Validate checks the content/attachment invariant.
func (m *Message) Validate() error {
	hasContent := m.Content != ""
	hasAttachment := m.Attachment != nil
	if hasContent == hasAttachment {
		return fmt.Errorf("message %s must carry exactly one of content or attachment", m.ID)
	}
	return nil
}

// Preview returns the text shown in a room's last-message slot.
func (m *Message) Preview() string {
	if m.Attachment != nil {
		return m.Attachment.FileName
	}
	return m.Content
}

// Room is a named conversation channel. The server assigns the stable ID;
// Unread is client-local bookkeeping.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LastMessage  string    `json:"lastMessage,omitempty"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
	Unread       int       `json:"unread,omitempty"`
}

// FileKind classifies an attachment for rendering.
type FileKind int

const (
	FileGeneric FileKind = iota
	FileImage
	FileAudio
	FileVideo
	FilePDF
)

// String returns the name of the file kind.
func (k FileKind) String() string {
	switch k {
	case FileImage:
		return "image"
	case FileAudio:
		return "audio"
	case FileVideo:
		return "video"
	case FilePDF:
		return "pdf"
	default:
		return "generic"
	}
}

// ClassifyFile classifies a file name by its extension, case-insensitively.
// Unrecognized or missing extensions classify as generic.
func ClassifyFile(name string) FileKind {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "jpg", "jpeg", "png", "gif", "webp":
		return FileImage
	case "mp3", "wav", "ogg":
		return FileAudio
	case "mp4", "webm", "mov":
		return FileVideo
	case "pdf":
		return FilePDF
	default:
		return FileGeneric
	}
}
