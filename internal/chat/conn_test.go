package chat

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omochice/chatnet/pkg/protocol"
)

// mockConn is a mock implementation of Conn for testing.
type mockConn struct {
	readCh    chan []byte
	writtenMu sync.Mutex
	written   [][]byte
	writeCh   chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh:  make(chan []byte, 16),
		writeCh: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, net.ErrClosed
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-m.closed:
		return net.ErrClosed
	default:
	}
	copied := make([]byte, len(data))
	copy(copied, data)

	m.writtenMu.Lock()
	m.written = append(m.written, copied)
	m.writtenMu.Unlock()

	select {
	case m.writeCh <- copied:
	default:
	}
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return "mock"
}

func (m *mockConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5555}
}

func (m *mockConn) GetWritten() [][]byte {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return m.written
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// push queues a frame for the session to read.
func (m *mockConn) push(t *testing.T, msg *protocol.Message) {
	t.Helper()
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	m.readCh <- data
}

// nextWritten waits for the next frame written by the session.
func (m *mockConn) nextWritten(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case data := <-m.writeCh:
		var msg protocol.Message
		if err := msg.Decode(data); err != nil {
			t.Fatalf("session wrote an undecodable frame: %v", err)
		}
		return &msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a written frame")
		return nil
	}
}

func (m *mockConn) expectNoWrite(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case data := <-m.writeCh:
		t.Fatalf("unexpected frame written: % x", data)
	case <-time.After(wait):
	}
}

// Compile-time check that mockConn implements Conn
var _ Conn = (*mockConn)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConnection(t *testing.T, cfg SessionConfig) (*Connection, *mockConn) {
	t.Helper()
	mc := newMockConn()
	pending := &pendingSession{
		conn:   mc,
		info:   connectionInfo(mc.LocalAddr(), "mock"),
		cfg:    cfg,
		logger: discardLogger(),
	}
	c := newConnection("test", pending, GoroutineRuntime{}, discardLogger())
	t.Cleanup(func() { _ = c.Close() })
	return c, mc
}

// recordingListener records every callback as a string and can run a hook
// on incoming messages.
type recordingListener struct {
	got       chan string
	acks      chan *ServerMessageAck
	causes    chan error
	onMessage func(envelope []byte)
	delay     time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		got:    make(chan string, 128),
		acks:   make(chan *ServerMessageAck, 128),
		causes: make(chan error, 8),
	}
}

func (l *recordingListener) enter() {
	n := l.inFlight.Add(1)
	for {
		cur := l.maxInFlight.Load()
		if n <= cur || l.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
}

func (l *recordingListener) ReceivedIncomingMessage(envelope []byte, _ time.Time, ack *ServerMessageAck) {
	l.enter()
	defer l.inFlight.Add(-1)
	if l.onMessage != nil {
		l.onMessage(envelope)
	}
	l.acks <- ack
	l.got <- "msg:" + string(envelope)
}

func (l *recordingListener) ReceivedQueueEmpty() {
	l.enter()
	defer l.inFlight.Add(-1)
	l.got <- "empty"
}

func (l *recordingListener) ConnectionInterrupted(cause error) {
	l.enter()
	defer l.inFlight.Add(-1)
	l.causes <- cause
	l.got <- "stopped"
}

var _ Listener = (*recordingListener)(nil)

func collect(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for len(out) < n {
		select {
		case s := <-ch:
			out = append(out, s)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d events: %v", len(out), n, out)
		}
	}
	return out
}

func expectNothing(t *testing.T, ch <-chan string, wait time.Duration) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected event %q", s)
	case <-time.After(wait):
	}
}

func expectPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("expected a panic")
		}
	}()
	fn()
}
