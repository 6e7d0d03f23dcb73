package client

import (
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/soracho/chatsync/pkg/protocol"
)

// Transfer dispatches single-shot binary uploads over the chat connection.
// Files are read fully into memory, without chunking, so attachments are
// bounded by available memory and the server's frame limit.
type Transfer struct {
	conn   commander
	logger *slog.Logger
}

// NewTransfer creates a file transfer subsystem issuing requests on conn.
func NewTransfer(conn commander, logger *slog.Logger) *Transfer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transfer{conn: conn, logger: logger}
}

// UploadFile reads the file at path and dispatches it to the given room.
// A local read failure returns *protocol.FileReadError before anything
// touches the network. Otherwise done is invoked exactly once with the
// server's acknowledgment, success or error string. The uploaded file
// comes back as a regular inbound attachment message carrying the
// server-assigned reference.
func (t *Transfer) UploadFile(path, room string, done func(protocol.FileUploadResponse)) error {
	if room == "" {
		return fmt.Errorf("no room selected for upload")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return &protocol.FileReadError{Path: path, Err: err}
	}

	name := filepath.Base(path)
	request := protocol.FileUploadRequest{
		Room:     room,
		File:     data,
		FileName: name,
		FileType: mime.TypeByExtension(filepath.Ext(name)),
	}
	env, err := protocol.NewEnvelope(protocol.EventFileUpload, request)
	if err != nil {
		return err
	}

	t.logger.Info("uploading file", "name", name, "bytes", len(data), "room", room)
	return t.conn.Request(env, func(reply *protocol.Envelope) {
		var response protocol.FileUploadResponse
		if err := reply.DecodeData(&response); err != nil {
			response = protocol.FileUploadResponse{Error: err.Error()}
		}
		if done != nil {
			done(response)
		}
	})
}
