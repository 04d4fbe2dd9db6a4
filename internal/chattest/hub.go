package chattest

import (
	"context"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// Client is one connection accepted by the fake server.
type Client struct {
	// ID identifies the client in acknowledgements and logs.
	ID string
	// Header holds the handshake request headers.
	Header http.Header

	conn     *websocket.Conn
	outgoing chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

func newClient(id string, header http.Header, conn *websocket.Conn) *Client {
	return &Client{
		ID:       id,
		Header:   header,
		conn:     conn,
		outgoing: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// send queues a frame for the client. It reports false once the client is gone.
func (c *Client) send(ctx context.Context, frame []byte) bool {
	select {
	case c.outgoing <- frame:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Client) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// hub tracks connected clients. The read and write loops of every client
// share one hub.
type hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	changed chan struct{}
}

func newHub() *hub {
	return &hub{
		clients: make(map[*Client]bool),
		changed: make(chan struct{}),
	}
}

// register adds a client to the hub.
func (h *hub) register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.notifyLocked()
}

// unregister removes a client from the hub.
func (h *hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
	h.notifyLocked()
}

func (h *hub) notifyLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

// count returns number of connected clients.
func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// snapshot returns the connected clients and a channel closed on the next
// register or unregister.
func (h *hub) snapshot() ([]*Client, <-chan struct{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients, h.changed
}
