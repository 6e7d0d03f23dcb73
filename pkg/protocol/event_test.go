package protocol_test

import (
	"testing"

	"github.com/soracho/chatsync/pkg/protocol"
)

func TestEnvelope_EncodeParse(t *testing.T) {
	env, err := protocol.NewEnvelope(protocol.EventCreateRoom, protocol.CreateRoomRequest{Name: "general"})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	parsed, err := protocol.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if parsed.Type != protocol.EventCreateRoom {
		t.Errorf("Type = %q, want %q", parsed.Type, protocol.EventCreateRoom)
	}

	var req protocol.CreateRoomRequest
	if err := parsed.DecodeData(&req); err != nil {
		t.Fatalf("DecodeData() error = %v", err)
	}
	if req.Name != "general" {
		t.Errorf("Name = %q, want %q", req.Name, "general")
	}
}

func TestParseEnvelope_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "not json", data: []byte("garbage")},
		{name: "missing type", data: []byte(`{"data":{}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := protocol.ParseEnvelope(tt.data); err == nil {
				t.Error("ParseEnvelope() expected error, got nil")
			}
		})
	}
}

func TestEnvelope_RequestCorrelation(t *testing.T) {
	env, err := protocol.NewEnvelope(protocol.EventGetMessages, protocol.GetMessagesRequest{Room: "r1", Offset: 40})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	env.ID = "req-7"

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	parsed, err := protocol.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if parsed.ID != "req-7" {
		t.Errorf("ID = %q, want %q", parsed.ID, "req-7")
	}

	var req protocol.GetMessagesRequest
	if err := parsed.DecodeData(&req); err != nil {
		t.Fatalf("DecodeData() error = %v", err)
	}
	if req.Offset != 40 {
		t.Errorf("Offset = %d, want 40", req.Offset)
	}
}
