package chat

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
)

// ackFunc reports a status for one server request.
type ackFunc func(ctx context.Context, status int) error

// ServerMessageAck acknowledges one incoming message. Only the first Send or
// SendStatus reaches the server.
type ServerMessageAck struct {
	send atomic.Pointer[ackFunc]
}

func newServerMessageAck(fn ackFunc) *ServerMessageAck {
	a := &ServerMessageAck{}
	a.send.Store(&fn)
	return a
}

// Send acknowledges the message with 200 OK.
func (a *ServerMessageAck) Send(ctx context.Context) error {
	return a.SendStatus(ctx, http.StatusOK)
}

// SendStatus acknowledges the message with status. It returns
// ErrAlreadyAcknowledged if the acknowledgment was already used.
func (a *ServerMessageAck) SendStatus(ctx context.Context, status int) error {
	if status < 100 || status > 599 {
		return newServiceError(KindInvalidRequest, fmt.Errorf("invalid acknowledgment status %d", status))
	}
	fn := a.send.Swap(nil)
	if fn == nil {
		return ErrAlreadyAcknowledged
	}
	return (*fn)(ctx, status)
}

// Acknowledged reports whether the acknowledgment has been used.
func (a *ServerMessageAck) Acknowledged() bool {
	return a.send.Load() == nil
}
