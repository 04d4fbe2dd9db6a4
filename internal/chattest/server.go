// Package chattest provides an in-process chat server speaking the framed
// request/response protocol over WebSocket. It backs integration tests and
// the chatmock command.
package chattest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/omochice/chatnet/internal/logging"
	"github.com/omochice/chatnet/internal/route"
	"github.com/omochice/chatnet/pkg/protocol"
)

// Server request routes and headers, as seen by clients.
const (
	PathIncomingMessage = "/api/v1/message"
	PathQueueEmpty      = "/api/v1/queue/empty"
	PathKeepAlive       = "/v1/keepalive"
	HeaderTimestamp     = "X-Signal-Timestamp"
)

// Handler answers a client request. Returning nil sends no response.
type Handler func(c *Client, req *protocol.Request) *protocol.Response

// Ack is a response a client sent to a server push.
type Ack struct {
	ClientID string
	ID       uint64
	Status   uint32
}

// Reply builds a response with status and body.
func Reply(status int, body []byte) *protocol.Response {
	return &protocol.Response{Status: uint32(status), Message: http.StatusText(status), Body: body}
}

// Server is a fake chat service.
type Server struct {
	logger *slog.Logger
	hub    *hub

	mu       sync.RWMutex
	handlers map[string]Handler
	username string
	password string
	auth     bool
	reject   int

	nextID atomic.Uint64
	acks   chan Ack

	ctx      context.Context
	cancel   context.CancelFunc
	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// New creates a Server that answers keepalives and nothing else.
func New() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:   logging.WithComponent("chattest"),
		hub:      newHub(),
		handlers: make(map[string]Handler),
		acks:     make(chan Ack, 1024),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.Handle(http.MethodGet, PathKeepAlive, func(*Client, *protocol.Request) *protocol.Response {
		return Reply(http.StatusOK, nil)
	})
	return s
}

// Handle routes client requests with verb and path to h.
func (s *Server) Handle(verb, path string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[verb+" "+path] = h
}

// RequireAuth rejects handshakes without matching basic credentials.
func (s *Server) RequireAuth(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password, s.auth = username, password, true
}

// RejectWith fails every later handshake with status. Zero accepts again.
func (s *Server) RejectWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = status
}

// Start starts accepting connections on address. It returns once the
// listener is bound.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}

	s.logger.Info("chat server started", "addr", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("chat server stopped", "error", err)
		}
	}()
	return nil
}

// Stop closes every client and the listener.
func (s *Server) Stop() {
	s.cancel()
	s.DisconnectAll()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shut down chat server", "error", err)
		}
	}
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Endpoint returns a plain-text endpoint pointing at the server.
func (s *Server) Endpoint() route.Endpoint {
	host, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return route.Endpoint{}
	}
	p, _ := strconv.Atoi(port)
	return route.Endpoint{Host: host, Port: p, Path: route.DefaultChatPath}
}

// ClientCount returns number of connected clients.
func (s *Server) ClientCount() int {
	return s.hub.count()
}

// WaitClients blocks until at least n clients are connected.
func (s *Server) WaitClients(ctx context.Context, n int) ([]*Client, error) {
	for {
		clients, changed := s.hub.snapshot()
		if len(clients) >= n {
			return clients, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to wait for %d clients (have %d): %w", n, len(clients), ctx.Err())
		}
	}
}

// Acks returns responses clients sent to server pushes, in arrival order.
func (s *Server) Acks() <-chan Ack {
	return s.acks
}

// PushMessage delivers an envelope to every client and returns the request
// id used for it.
func (s *Server) PushMessage(envelope []byte, ts time.Time) uint64 {
	var headers []string
	if !ts.IsZero() {
		headers = []string{protocol.FormatHeader(HeaderTimestamp, strconv.FormatInt(ts.UnixMilli(), 10))}
	}
	return s.push(PathIncomingMessage, envelope, headers)
}

// PushQueueEmpty tells every client that the message queue is drained.
func (s *Server) PushQueueEmpty() uint64 {
	return s.push(PathQueueEmpty, nil, nil)
}

func (s *Server) push(path string, body []byte, headers []string) uint64 {
	id := s.nextID.Add(1)
	frame, err := protocol.NewRequestMessage(&protocol.Request{
		Verb:    http.MethodPut,
		Path:    path,
		Body:    body,
		Headers: headers,
		ID:      id,
		HasID:   true,
	}).Encode()
	if err != nil {
		s.logger.Error("failed to encode push", "error", err)
		return id
	}

	clients, _ := s.hub.snapshot()
	for _, c := range clients {
		if !c.send(s.ctx, frame) {
			s.logger.Debug("dropping push for departed client", "client", c.ID, "path", path)
		}
	}
	return id
}

// DisconnectAll closes every client with a going-away status.
func (s *Server) DisconnectAll() {
	clients, _ := s.hub.snapshot()
	for _, c := range clients {
		c.finish()
		_ = c.conn.Close(websocket.StatusGoingAway, "server going away")
	}
}

// ServeHTTP performs the handshake checks and upgrades the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	reject, auth, username, password := s.reject, s.auth, s.username, s.password
	s.mu.RUnlock()

	if reject != 0 {
		s.logger.Info("rejecting handshake", "status", reject)
		http.Error(w, http.StatusText(reject), reject)
		return
	}
	if auth {
		user, pass, ok := r.BasicAuth()
		if !ok || user != username || pass != password {
			s.logger.Info("rejecting handshake with bad credentials", "user", user)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
	}

	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to accept websocket connection", "error", err)
		return
	}

	client := newClient(uuid.NewString(), r.Header.Clone(), wsConn)
	s.hub.register(client)
	s.logger.Debug("client connected", "client", client.ID, "remote", r.RemoteAddr)

	s.wg.Add(2)
	go s.writeLoop(client)
	go s.readLoop(client)
}

func (s *Server) readLoop(client *Client) {
	defer s.wg.Done()
	defer s.hub.unregister(client)
	defer client.finish()

	for {
		_, data, err := client.conn.Read(s.ctx)
		if err != nil {
			s.logger.Debug("client disconnected", "client", client.ID, "error", err)
			return
		}

		var msg protocol.Message
		if err := msg.Decode(data); err != nil {
			s.logger.Warn("closing client after undecodable frame", "client", client.ID, "error", err)
			_ = client.conn.Close(websocket.StatusProtocolError, "malformed frame")
			return
		}

		switch msg.Type {
		case protocol.MessageTypeRequest:
			s.handleRequest(client, msg.Request)
		case protocol.MessageTypeResponse:
			s.recordAck(client, msg.Response)
		}
	}
}

func (s *Server) writeLoop(client *Client) {
	defer s.wg.Done()
	for {
		select {
		case data := <-client.outgoing:
			if err := client.conn.Write(s.ctx, websocket.MessageBinary, data); err != nil {
				s.logger.Debug("failed to write to client", "client", client.ID, "error", err)
				client.finish()
				return
			}
		case <-client.done:
			return
		}
	}
}

func (s *Server) handleRequest(client *Client, req *protocol.Request) {
	s.mu.RLock()
	h, ok := s.handlers[req.Verb+" "+req.Path]
	s.mu.RUnlock()

	var resp *protocol.Response
	if ok {
		resp = h(client, req)
	} else {
		s.logger.Debug("no handler for request", "verb", req.Verb, "path", req.Path)
		resp = Reply(http.StatusNotFound, nil)
	}
	if resp == nil || !req.HasID {
		return
	}

	out := *resp
	out.ID = req.ID
	frame, err := protocol.NewResponseMessage(&out).Encode()
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		return
	}
	client.send(s.ctx, frame)
}

func (s *Server) recordAck(client *Client, resp *protocol.Response) {
	ack := Ack{ClientID: client.ID, ID: resp.ID, Status: resp.Status}
	select {
	case s.acks <- ack:
	default:
		s.logger.Warn("acknowledgement buffer full", "client", client.ID, "id", resp.ID)
	}
}
