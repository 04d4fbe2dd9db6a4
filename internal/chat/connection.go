package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type connectionPhase int

const (
	phasePending connectionPhase = iota
	phaseRunning
	// phaseEvicted only exists while mu is held for writing.
	phaseEvicted
)

type connectionState struct {
	phase   connectionPhase
	pending *pendingSession
	running *session
}

// Connection is an established chat connection. It starts pending: frames
// from the server are not read and requests cannot be sent until
// InitListener has been called once.
type Connection struct {
	id     string
	logger *slog.Logger

	mu    sync.RWMutex
	state connectionState

	events *eventQueue
	slot   *listenerSlot

	closeOnce sync.Once
}

func newConnection(id string, pending *pendingSession, rt Runtime, logger *slog.Logger) *Connection {
	events := newEventQueue()
	return &Connection{
		id:     id,
		logger: logger,
		state:  connectionState{phase: phasePending, pending: pending},
		events: events,
		slot:   newListenerSlot(newEventStream(events), rt, logger),
	}
}

// ID returns the identifier used in logs for this connection.
func (c *Connection) ID() string {
	return c.id
}

// Info describes the connection. It is available before a listener is set.
func (c *Connection) Info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.state.phase {
	case phasePending:
		return c.state.pending.info
	case phaseRunning:
		return c.state.running.info
	default:
		panic("chat: connection observed while evicted")
	}
}

// InitListener attaches the first listener and starts reading server
// frames. It must be called exactly once; a second call panics.
func (c *Connection) InitListener(l Listener) {
	c.mu.Lock()
	st := c.state
	c.state = connectionState{phase: phaseEvicted}
	switch st.phase {
	case phasePending:
		c.state = connectionState{phase: phaseRunning, running: st.pending.finish(c.events)}
	case phaseRunning:
		c.state = st
		c.mu.Unlock()
		panic("chat: listener already set")
	default:
		c.mu.Unlock()
		panic("chat: connection observed while evicted")
	}
	c.mu.Unlock()

	c.slot.attach(l)
	c.logger.Debug("chat listener initialised")
}

// SetListener replaces the current listener. Events not yet delivered to the
// previous listener go to l, in order.
func (c *Connection) SetListener(l Listener) error {
	if _, err := c.runningSession(); err != nil {
		return err
	}
	c.slot.attach(l)
	return nil
}

// ClearListener stops event delivery. Events keep queueing until a listener
// is set again.
func (c *Connection) ClearListener() {
	c.slot.clear()
}

// Send issues a request and waits for its response for at most timeout.
func (c *Connection) Send(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	s, err := c.runningSession()
	if err != nil {
		return nil, err
	}
	return s.send(ctx, req, timeout)
}

// SendAndDebug is Send that also reports the route and timing of the request.
func (c *Connection) SendAndDebug(ctx context.Context, req *Request, timeout time.Duration) (*Response, DebugInfo, error) {
	s, err := c.runningSession()
	if err != nil {
		return nil, DebugInfo{}, err
	}
	return s.sendAndDebug(ctx, req, timeout)
}

// Disconnect closes the transport. Every later Send fails with ErrDisconnected
// and the listener receives a final ConnectionInterrupted.
func (c *Connection) Disconnect() error {
	s, err := c.runningSession()
	if err != nil {
		return err
	}
	s.disconnect()
	return nil
}

// Close releases the connection in any phase, including one that never had
// a listener. A running connection is disconnected and Close returns once its
// read and keepalive goroutines have exited.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.RLock()
		st := c.state
		c.mu.RUnlock()

		switch st.phase {
		case phasePending:
			err = st.pending.conn.Close()
			c.events.close()
		case phaseRunning:
			st.running.disconnect()
			st.running.wait()
		}
		c.slot.clear()
	})
	return err
}

// Done is closed once a running connection has shut down. It is nil while
// the connection is pending.
func (c *Connection) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.phase != phaseRunning {
		return nil
	}
	return c.state.running.done
}

func (c *Connection) runningSession() (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.state.phase {
	case phasePending:
		return nil, ErrListenerNotSet
	case phaseRunning:
		return c.state.running, nil
	default:
		panic("chat: connection observed while evicted")
	}
}
