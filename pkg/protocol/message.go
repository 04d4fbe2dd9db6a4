// Package protocol implements the binary framing carried by chat websocket connections.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType discriminates the two kinds of frames exchanged on a chat connection.
type MessageType int

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeRequest
	MessageTypeResponse
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// ErrMalformedMessage is returned when a frame cannot be encoded or decoded.
var ErrMalformedMessage = errors.New("protocol: malformed message")

// Request is a request frame. Both sides send requests: the client for its own
// calls and the server to push work to the client.
type Request struct {
	Verb    string
	Path    string
	Body    []byte
	Headers []string
	ID      uint64
	HasID   bool
}

// Response answers the Request carrying the same ID.
type Response struct {
	ID      uint64
	Status  uint32
	Message string
	Headers []string
	Body    []byte
}

// Message is a single websocket frame.
type Message struct {
	Type     MessageType
	Request  *Request
	Response *Response
}

// Field numbers of the envelope schema.
const (
	fieldMessageType     protowire.Number = 1
	fieldMessageRequest  protowire.Number = 2
	fieldMessageResponse protowire.Number = 3

	fieldRequestVerb    protowire.Number = 1
	fieldRequestPath    protowire.Number = 2
	fieldRequestBody    protowire.Number = 3
	fieldRequestID      protowire.Number = 4
	fieldRequestHeaders protowire.Number = 5

	fieldResponseID      protowire.Number = 1
	fieldResponseStatus  protowire.Number = 2
	fieldResponseMessage protowire.Number = 3
	fieldResponseBody    protowire.Number = 4
	fieldResponseHeaders protowire.Number = 5
)

// NewRequestMessage wraps a request into a frame.
func NewRequestMessage(req *Request) *Message {
	return &Message{Type: MessageTypeRequest, Request: req}
}

// NewResponseMessage wraps a response into a frame.
func NewResponseMessage(resp *Response) *Message {
	return &Message{Type: MessageTypeResponse, Response: resp}
}

// Encode encodes the message into bytes using the protobuf wire format
func (m *Message) Encode() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldMessageType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	if m.Request != nil {
		b = protowire.AppendTag(b, fieldMessageRequest, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Request.marshal())
	}
	if m.Response != nil {
		b = protowire.AppendTag(b, fieldMessageResponse, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Response.marshal())
	}
	return b, nil
}

// Decode decodes bytes into a message. Unknown fields are skipped.
func (m *Message) Decode(data []byte) error {
	*m = Message{}
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldMessageType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Type = MessageType(v)
			return n, nil
		case num == fieldMessageRequest && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			req := &Request{}
			if err := req.unmarshal(v); err != nil {
				return 0, err
			}
			m.Request = req
			return n, nil
		case num == fieldMessageResponse && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			resp := &Response{}
			if err := resp.unmarshal(v); err != nil {
				return 0, err
			}
			m.Response = resp
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	if err := m.validate(); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

func (m *Message) validate() error {
	switch m.Type {
	case MessageTypeRequest:
		if m.Request == nil {
			return fmt.Errorf("%w: request frame without request", ErrMalformedMessage)
		}
	case MessageTypeResponse:
		if m.Response == nil {
			return fmt.Errorf("%w: response frame without response", ErrMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: frame type %s", ErrMalformedMessage, m.Type)
	}
	return nil
}

func (r *Request) marshal() []byte {
	var b []byte
	if r.Verb != "" {
		b = protowire.AppendTag(b, fieldRequestVerb, protowire.BytesType)
		b = protowire.AppendString(b, r.Verb)
	}
	if r.Path != "" {
		b = protowire.AppendTag(b, fieldRequestPath, protowire.BytesType)
		b = protowire.AppendString(b, r.Path)
	}
	if r.Body != nil {
		b = protowire.AppendTag(b, fieldRequestBody, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Body)
	}
	if r.HasID {
		b = protowire.AppendTag(b, fieldRequestID, protowire.VarintType)
		b = protowire.AppendVarint(b, r.ID)
	}
	for _, h := range r.Headers {
		b = protowire.AppendTag(b, fieldRequestHeaders, protowire.BytesType)
		b = protowire.AppendString(b, h)
	}
	return b
}

func (r *Request) unmarshal(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldRequestVerb && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.Verb = v
			return n, nil
		case num == fieldRequestPath && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.Path = v
			return n, nil
		case num == fieldRequestBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			r.Body = append([]byte{}, v...)
			return n, nil
		case num == fieldRequestID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.ID, r.HasID = v, n >= 0
			return n, nil
		case num == fieldRequestHeaders && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n >= 0 {
				r.Headers = append(r.Headers, v)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (r *Response) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldResponseID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.ID)
	if r.Status != 0 {
		b = protowire.AppendTag(b, fieldResponseStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Status))
	}
	if r.Message != "" {
		b = protowire.AppendTag(b, fieldResponseMessage, protowire.BytesType)
		b = protowire.AppendString(b, r.Message)
	}
	if r.Body != nil {
		b = protowire.AppendTag(b, fieldResponseBody, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Body)
	}
	for _, h := range r.Headers {
		b = protowire.AppendTag(b, fieldResponseHeaders, protowire.BytesType)
		b = protowire.AppendString(b, h)
	}
	return b
}

func (r *Response) unmarshal(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldResponseID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.ID = v
			return n, nil
		case num == fieldResponseStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Status = uint32(v)
			return n, nil
		case num == fieldResponseMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.Message = v
			return n, nil
		case num == fieldResponseBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			r.Body = append([]byte{}, v...)
			return n, nil
		case num == fieldResponseHeaders && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n >= 0 {
				r.Headers = append(r.Headers, v)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// consumeFields walks the fields of an encoded message. fn returns how many
// bytes of b the field value used, or a negative protowire error code.
func consumeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
		}
		data = data[n:]
		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

// HeaderValue looks up a "name:value" header case-insensitively.
func HeaderValue(headers []string, name string) (string, bool) {
	for _, h := range headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// FormatHeader renders a header in the "name:value" form used on the wire.
func FormatHeader(name, value string) string {
	return name + ":" + value
}
