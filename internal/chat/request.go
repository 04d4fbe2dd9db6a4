package chat

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/omochice/chatnet/pkg/protocol"
)

// Request is an outgoing request issued over a chat connection.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// NewRequest validates method and path and returns a request without headers.
func NewRequest(method, path string, body []byte) (*Request, error) {
	if method == "" || !httpguts.ValidHeaderFieldName(method) {
		return nil, newServiceError(KindInvalidRequest, fmt.Errorf("invalid method %q", method))
	}
	if !strings.HasPrefix(path, "/") {
		return nil, newServiceError(KindInvalidRequest, fmt.Errorf("path %q must start with /", path))
	}
	if _, err := url.ParseRequestURI(path); err != nil {
		return nil, newServiceError(KindInvalidRequest, fmt.Errorf("invalid path %q: %w", path, err))
	}
	return &Request{Method: method, Path: path, Header: http.Header{}, Body: body}, nil
}

// AddHeader appends a header after validating its name and value.
func (r *Request) AddHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return newServiceError(KindInvalidRequest, fmt.Errorf("invalid header name %q", name))
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return newServiceError(KindInvalidRequest, fmt.Errorf("invalid value for header %q", name))
	}
	if r.Header == nil {
		r.Header = http.Header{}
	}
	r.Header.Add(name, value)
	return nil
}

func (r *Request) toProto(id uint64) *protocol.Request {
	return &protocol.Request{
		Verb:    r.Method,
		Path:    r.Path,
		Body:    r.Body,
		Headers: headerLines(r.Header),
		ID:      id,
		HasID:   true,
	}
}

// Response is the server's answer to a Request.
type Response struct {
	Status  int
	Message string
	Header  http.Header
	Body    []byte
}

func responseFromProto(p *protocol.Response) (*Response, error) {
	if p.Status < 100 || p.Status > 599 {
		return nil, newServiceError(KindUnexpectedResponse, fmt.Errorf("invalid status %d", p.Status))
	}
	header := http.Header{}
	for _, line := range p.Headers {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !httpguts.ValidHeaderFieldName(strings.TrimSpace(name)) {
			return nil, newServiceError(KindUnexpectedResponse, fmt.Errorf("malformed header %q", line))
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return &Response{
		Status:  int(p.Status),
		Message: p.Message,
		Header:  header,
		Body:    p.Body,
	}, nil
}

// headerLines flattens h into "name:value" lines in a stable order.
func headerLines(h http.Header) []string {
	if len(h) == 0 {
		return nil
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		for _, v := range h[name] {
			lines = append(lines, protocol.FormatHeader(name, v))
		}
	}
	return lines
}

// IPVersion is the address family of a connection's local socket.
type IPVersion int

const (
	IPVersionUnknown IPVersion = iota
	IPv4
	IPv6
)

func (v IPVersion) String() string {
	switch v {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// ConnectionInfo describes an established connection.
type ConnectionInfo struct {
	LocalPort int
	IPVersion IPVersion
	// Route describes how the connection was made.
	Route string
}

func connectionInfo(addr net.Addr, routeDesc string) ConnectionInfo {
	info := ConnectionInfo{Route: routeDesc}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return info
	}
	info.LocalPort = tcp.Port
	if tcp.IP.To4() != nil {
		info.IPVersion = IPv4
	} else if tcp.IP != nil {
		info.IPVersion = IPv6
	}
	return info
}

// DebugInfo is diagnostic metadata about one request.
type DebugInfo struct {
	Route     string
	IPVersion IPVersion
	Duration  time.Duration
}
