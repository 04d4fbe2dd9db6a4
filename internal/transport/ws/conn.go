// Package ws provides the websocket client transport for chat connections.
package ws

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrClosedByServer is returned by Read once the server closed the websocket.
var ErrClosedByServer = errors.New("ws: connection closed by server")

// Conn adapts a gobwas client websocket to the chat.Conn interface.
type Conn struct {
	conn   net.Conn
	reader io.Reader

	// writeMu serialises data frames and the control replies produced while reading.
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an upgraded client connection. br holds bytes the server sent
// right after the handshake response and may be nil.
func NewConn(conn net.Conn, br *bufio.Reader) *Conn {
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	return &Conn{conn: conn, reader: r}
}

// lockedWriter lets wsutil answer pings and close frames without racing Write.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Read implements chat.Conn.
// Reads the next data frame, answering control frames along the way.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer func() {
		stop()
		_ = c.conn.SetReadDeadline(time.Time{})
	}()

	rw := struct {
		io.Reader
		io.Writer
	}{c.reader, lockedWriter{mu: &c.writeMu, w: c.conn}}

	data, _, err := wsutil.ReadServerData(rw)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return nil, context.DeadlineExceeded
		}
		if _, ok := CloseStatus(err); ok || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrClosedByServer, err)
		}
		return nil, err
	}
	return data, nil
}

// Write implements chat.Conn.
// Writes a masked binary frame.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteClientBinary(c.conn, data)
}

// Close implements chat.Conn.
// Sends a normal closure frame and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// LocalAddr returns the local socket address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// CloseStatus extracts the close code sent by the server, if err carries one.
func CloseStatus(err error) (ws.StatusCode, bool) {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return closed.Code, true
	}
	return 0, false
}
