// Package chat implements the chat connection lifecycle: establishing a
// connection, attaching and swapping listeners, request/response exchange and
// acknowledgment of server-pushed messages.
package chat

import (
	"context"
	"net"
)

// Conn abstracts a framed bidirectional connection.
// This interface isolates transport details from chat logic.
type Conn interface {
	// Read reads a single frame.
	// Returns io.EOF or a transport error when the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame. Safe for concurrent use.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string

	// LocalAddr returns the local socket address.
	LocalAddr() net.Addr
}
