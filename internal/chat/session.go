package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/chatnet/internal/transport/ws"
	"github.com/omochice/chatnet/pkg/protocol"
)

// Server request routes and headers.
const (
	pathIncomingMessage = "/api/v1/message"
	pathQueueEmpty      = "/api/v1/queue/empty"
	pathKeepAlive       = "/v1/keepalive"

	headerTimestamp = "X-Signal-Timestamp"

	// responseWriteTimeout bounds writing an acknowledgment frame.
	responseWriteTimeout = 5 * time.Second
)

// SessionConfig controls keepalive behaviour of a running connection.
type SessionConfig struct {
	// LocalIdleTimeout is how long the client stays silent before sending a
	// keepalive request. Zero disables keepalives.
	LocalIdleTimeout time.Duration
	// RemoteIdleTimeout is how long the server may stay silent before the
	// connection is dropped. Zero disables the check.
	RemoteIdleTimeout time.Duration
}

// pendingSession is an upgraded connection whose frames are not read yet.
type pendingSession struct {
	conn   Conn
	info   ConnectionInfo
	cfg    SessionConfig
	logger *slog.Logger
}

// finish starts reading frames, publishing server events into events.
func (p *pendingSession) finish(events *eventQueue) *session {
	s := &session{
		conn:    p.conn,
		info:    p.info,
		cfg:     p.cfg,
		logger:  p.logger,
		events:  events,
		pending: make(map[uint64]chan *protocol.Response),
		done:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	now := time.Now().UnixNano()
	s.lastSend.Store(now)
	s.lastRecv.Store(now)

	s.wg.Add(1)
	go s.readLoop()
	if s.cfg.LocalIdleTimeout > 0 || s.cfg.RemoteIdleTimeout > 0 {
		s.wg.Add(1)
		go s.keepAliveLoop()
	}
	return s
}

// session multiplexes client requests and server pushes over one Conn.
type session struct {
	conn   Conn
	info   ConnectionInfo
	cfg    SessionConfig
	logger *slog.Logger
	events *eventQueue

	nextID  atomic.Uint64
	pendMu  sync.Mutex
	pending map[uint64]chan *protocol.Response

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	// cause is written before done is closed.
	cause *ServiceError

	lastSend atomic.Int64
	lastRecv atomic.Int64
	wg       sync.WaitGroup
}

// send issues req and waits for its response, at most timeout when positive.
func (s *session) send(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	select {
	case <-s.done:
		return nil, s.closedErr()
	default:
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id := s.nextID.Add(1)
	frame, err := protocol.NewRequestMessage(req.toProto(id)).Encode()
	if err != nil {
		return nil, newServiceError(KindInvalidRequest, err)
	}

	ch := make(chan *protocol.Response, 1)
	s.pendMu.Lock()
	if s.pending == nil {
		s.pendMu.Unlock()
		return nil, s.closedErr()
	}
	s.pending[id] = ch
	s.pendMu.Unlock()
	defer s.forget(id)

	if err := s.write(ctx, frame); err != nil {
		return nil, s.requestErr(ctx, fmt.Errorf("failed to write request: %w", err))
	}

	select {
	case resp := <-ch:
		return responseFromProto(resp)
	case <-s.done:
		return nil, s.closedErr()
	case <-ctx.Done():
		return nil, s.requestErr(ctx, ctx.Err())
	}
}

// sendAndDebug is send plus timing and route details.
func (s *session) sendAndDebug(ctx context.Context, req *Request, timeout time.Duration) (*Response, DebugInfo, error) {
	start := time.Now()
	resp, err := s.send(ctx, req, timeout)
	return resp, DebugInfo{
		Route:     s.info.Route,
		IPVersion: s.info.IPVersion,
		Duration:  time.Since(start),
	}, err
}

func (s *session) requestErr(ctx context.Context, err error) error {
	select {
	case <-s.done:
		return s.closedErr()
	default:
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newServiceError(KindTimeout, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	}
	return newServiceError(KindTransport, err)
}

func (s *session) forget(id uint64) {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	delete(s.pending, id)
}

func (s *session) write(ctx context.Context, frame []byte) error {
	if err := s.conn.Write(ctx, frame); err != nil {
		return err
	}
	s.lastSend.Store(time.Now().UnixNano())
	return nil
}

// respond answers the server request id with status.
func (s *session) respond(ctx context.Context, id uint64, status int) error {
	select {
	case <-s.done:
		return s.closedErr()
	default:
	}
	frame, err := protocol.NewResponseMessage(&protocol.Response{
		ID:      id,
		Status:  uint32(status),
		Message: http.StatusText(status),
	}).Encode()
	if err != nil {
		return newServiceError(KindInvalidRequest, err)
	}
	ctx, cancel := context.WithTimeout(ctx, responseWriteTimeout)
	defer cancel()
	if err := s.write(ctx, frame); err != nil {
		return s.requestErr(ctx, fmt.Errorf("failed to write response: %w", err))
	}
	return nil
}

func (s *session) readLoop() {
	defer s.wg.Done()

	for {
		data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.close(s.readErr(err))
			return
		}
		s.lastRecv.Store(time.Now().UnixNano())

		var msg protocol.Message
		if err := msg.Decode(data); err != nil {
			s.logger.Warn("closing connection after undecodable frame", "error", err)
			s.close(newServiceError(KindProtocolViolation, err))
			return
		}

		switch msg.Type {
		case protocol.MessageTypeResponse:
			s.resolve(msg.Response)
		case protocol.MessageTypeRequest:
			s.handleServerRequest(msg.Request)
		}
	}
}

func (s *session) readErr(err error) *ServiceError {
	if s.ctx.Err() != nil {
		return newServiceError(KindDisconnected, nil)
	}
	if errors.Is(err, ws.ErrClosedByServer) || errors.Is(err, io.EOF) {
		return newServiceError(KindServerClosed, err)
	}
	if errors.Is(err, net.ErrClosed) {
		return newServiceError(KindDisconnected, err)
	}
	return newServiceError(KindTransport, err)
}

func (s *session) resolve(resp *protocol.Response) {
	s.pendMu.Lock()
	ch, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.pendMu.Unlock()

	if !ok {
		s.logger.Debug("dropping response for unknown request", "id", resp.ID, "status", resp.Status)
		return
	}
	ch <- resp
}

func (s *session) handleServerRequest(req *protocol.Request) {
	if !req.HasID {
		s.logger.Warn("server request without id", "verb", req.Verb, "path", req.Path)
		return
	}
	id := req.ID

	switch {
	case req.Verb == http.MethodPut && req.Path == pathIncomingMessage:
		s.events.push(&IncomingMessage{
			Envelope:  req.Body,
			Timestamp: s.timestamp(req.Headers),
			Ack: newServerMessageAck(func(ctx context.Context, status int) error {
				return s.respond(ctx, id, status)
			}),
		})
	case req.Verb == http.MethodPut && req.Path == pathQueueEmpty:
		s.events.push(QueueEmpty{})
		if err := s.respond(s.ctx, id, http.StatusOK); err != nil {
			s.logger.Debug("failed to acknowledge queue empty", "error", err)
		}
	default:
		s.logger.Warn("unknown server request", "verb", req.Verb, "path", req.Path)
		if err := s.respond(s.ctx, id, http.StatusBadRequest); err != nil {
			s.logger.Debug("failed to reject server request", "error", err)
		}
	}
}

func (s *session) timestamp(headers []string) time.Time {
	v, ok := protocol.HeaderValue(headers, headerTimestamp)
	if !ok {
		s.logger.Warn("incoming message without timestamp")
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		s.logger.Warn("incoming message with invalid timestamp", "value", v)
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *session) keepAliveLoop() {
	defer s.wg.Done()

	tick := s.cfg.LocalIdleTimeout
	if tick <= 0 || (s.cfg.RemoteIdleTimeout > 0 && s.cfg.RemoteIdleTimeout < tick) {
		tick = s.cfg.RemoteIdleTimeout
	}
	ticker := time.NewTicker(max(tick/4, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		now := time.Now()
		if s.cfg.RemoteIdleTimeout > 0 && now.Sub(time.Unix(0, s.lastRecv.Load())) >= s.cfg.RemoteIdleTimeout {
			s.logger.Warn("server stopped responding, closing connection", "idle", s.cfg.RemoteIdleTimeout)
			s.close(newServiceError(KindRemoteIdle, nil))
			return
		}
		if s.cfg.LocalIdleTimeout > 0 && now.Sub(time.Unix(0, s.lastSend.Load())) >= s.cfg.LocalIdleTimeout {
			s.sendKeepAlive()
		}
	}
}

func (s *session) sendKeepAlive() {
	req := &Request{Method: http.MethodGet, Path: pathKeepAlive}
	timeout := s.cfg.RemoteIdleTimeout
	if timeout <= 0 {
		timeout = s.cfg.LocalIdleTimeout
	}
	resp, err := s.send(s.ctx, req, timeout)
	if err != nil {
		s.logger.Debug("keepalive failed", "error", err)
		return
	}
	if resp.Status != http.StatusOK {
		s.logger.Debug("keepalive rejected", "status", resp.Status)
	}
}

// disconnect closes the connection locally.
func (s *session) disconnect() {
	s.close(newServiceError(KindDisconnected, nil))
}

// close tears the session down once, failing pending and future requests and
// ending the event stream with Stopped.
func (s *session) close(cause *ServiceError) {
	s.closeOnce.Do(func() {
		s.cause = cause
		close(s.done)
		s.cancel()

		if err := s.conn.Close(); err != nil {
			s.logger.Debug("error closing transport", "error", err)
		}

		s.pendMu.Lock()
		s.pending = nil
		s.pendMu.Unlock()

		s.logger.Info("chat connection closed", "cause", cause)
		s.events.push(Stopped{Cause: cause})
		s.events.close()
	})
}

// closedErr is returned to every request after the session ended.
func (s *session) closedErr() error {
	if s.cause == nil || s.cause.Kind == KindDisconnected {
		return ErrDisconnected
	}
	return newServiceError(KindDisconnected, s.cause)
}

// wait blocks until the read and keepalive goroutines have exited.
func (s *session) wait() {
	s.wg.Wait()
}
