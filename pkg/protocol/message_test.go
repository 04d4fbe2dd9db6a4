package protocol_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/omochice/chatnet/pkg/protocol"
)

func TestMessage_Encode(t *testing.T) {
	tests := []struct {
		name    string
		msg     protocol.Message
		wantErr bool
	}{
		{
			name: "encode request successfully",
			msg: *protocol.NewRequestMessage(&protocol.Request{
				Verb:  "GET",
				Path:  "/v1/ping",
				ID:    1,
				HasID: true,
			}),
			wantErr: false,
		},
		{
			name: "encode response successfully",
			msg: *protocol.NewResponseMessage(&protocol.Response{
				ID:     1,
				Status: 200,
			}),
			wantErr: false,
		},
		{
			name:    "request frame without request fails",
			msg:     protocol.Message{Type: protocol.MessageTypeRequest},
			wantErr: true,
		},
		{
			name:    "unknown frame type fails",
			msg:     protocol.Message{Type: protocol.MessageTypeUnknown},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.Encode()
			if (err != nil) != tt.wantErr {
				t.Errorf("Message.Encode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && !errors.Is(err, protocol.ErrMalformedMessage) {
				t.Errorf("Message.Encode() error = %v, want ErrMalformedMessage", err)
			}
			if !tt.wantErr && len(data) == 0 {
				t.Error("Message.Encode() returned empty data")
			}
		})
	}
}

func TestMessage_Decode(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{
			name:    "truncated tag",
			data:    []byte{0x80},
			wantErr: true,
		},
		{
			name:    "truncated nested message",
			data:    []byte{0x08, 0x01, 0x12, 0x05, 0x0a},
			wantErr: true,
		},
		{
			name:    "request type without request body",
			data:    []byte{0x08, 0x01},
			wantErr: true,
		},
		{
			name:    "empty input",
			data:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got protocol.Message
			err := got.Decode(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Message.Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, protocol.ErrMalformedMessage) {
				t.Errorf("Message.Decode() error = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestMessage_RequestRoundTrip(t *testing.T) {
	original := protocol.NewRequestMessage(&protocol.Request{
		Verb:    "PUT",
		Path:    "/api/v1/message",
		Body:    []byte{0x01, 0x02, 0x03},
		Headers: []string{"X-Signal-Timestamp:1700000000000", "content-type:application/x-protobuf"},
		ID:      42,
		HasID:   true,
	})

	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded protocol.Message
	if err := decoded.Decode(encoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.Type != protocol.MessageTypeRequest {
		t.Fatalf("Type mismatch: got %v, want %v", decoded.Type, protocol.MessageTypeRequest)
	}
	got := decoded.Request
	if got.Verb != "PUT" || got.Path != "/api/v1/message" {
		t.Errorf("Verb/Path mismatch: got %s %s", got.Verb, got.Path)
	}
	if !bytes.Equal(got.Body, original.Request.Body) {
		t.Errorf("Body mismatch: got %v, want %v", got.Body, original.Request.Body)
	}
	if !got.HasID || got.ID != 42 {
		t.Errorf("ID mismatch: got %d (present=%v), want 42", got.ID, got.HasID)
	}
	if len(got.Headers) != 2 || got.Headers[1] != "content-type:application/x-protobuf" {
		t.Errorf("Headers mismatch: got %v", got.Headers)
	}
}

func TestMessage_RequestWithoutID(t *testing.T) {
	original := protocol.NewRequestMessage(&protocol.Request{Verb: "PUT", Path: "/api/v1/queue/empty"})
	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded protocol.Message
	if err := decoded.Decode(encoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Request.HasID {
		t.Error("Decode() reported an id for a request that had none")
	}
}

func TestMessage_ResponseRoundTrip(t *testing.T) {
	original := protocol.NewResponseMessage(&protocol.Response{
		ID:      7,
		Status:  404,
		Message: "Not Found",
		Headers: []string{"content-length:0"},
		Body:    []byte("{}"),
	})

	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded protocol.Message
	if err := decoded.Decode(encoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got := decoded.Response
	if got == nil {
		t.Fatal("Decode() returned no response")
	}
	if got.ID != 7 || got.Status != 404 || got.Message != "Not Found" {
		t.Errorf("Response mismatch: got %+v", got)
	}
	if string(got.Body) != "{}" {
		t.Errorf("Body mismatch: got %q", got.Body)
	}
}

func TestHeaderValue(t *testing.T) {
	headers := []string{"Content-Type: text/plain", "x-signal-timestamp:123", "broken"}

	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{"exact case", "Content-Type", "text/plain", true},
		{"case insensitive", "X-Signal-Timestamp", "123", true},
		{"missing", "Authorization", "", false},
		{"no separator", "broken", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := protocol.HeaderValue(headers, tt.header)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("HeaderValue(%q) = %q, %v, want %q, %v", tt.header, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMessageType_String(t *testing.T) {
	tests := []struct {
		name string
		mt   protocol.MessageType
		want string
	}{
		{"request type", protocol.MessageTypeRequest, "REQUEST"},
		{"response type", protocol.MessageTypeResponse, "RESPONSE"},
		{"unknown type", protocol.MessageTypeUnknown, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mt.String(); got != tt.want {
				t.Errorf("MessageType.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
