package chat

import (
	"sync"
	"time"
)

// ServerEvent is something the server pushed to the client:
// *IncomingMessage, QueueEmpty or Stopped.
type ServerEvent interface {
	isServerEvent()
}

// IncomingMessage carries an opaque envelope that must be acknowledged.
type IncomingMessage struct {
	Envelope  []byte
	Timestamp time.Time
	Ack       *ServerMessageAck
}

// QueueEmpty reports that every queued message has been delivered.
type QueueEmpty struct{}

// Stopped is the last event of a connection.
type Stopped struct {
	Cause error
}

func (*IncomingMessage) isServerEvent() {}
func (QueueEmpty) isServerEvent()       {}
func (Stopped) isServerEvent()          {}

// eventQueue is an unbounded FIFO between the connection's read loop and
// whichever run-loop currently owns the stream. Pushing never blocks, so a
// slow listener cannot stall response delivery.
type eventQueue struct {
	mu     sync.Mutex
	items  []ServerEvent
	closed bool
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

// push appends ev and reports false if the queue is already closed.
func (q *eventQueue) push(ev ServerEvent) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.wake()
	return true
}

// close ends the stream once the queued events are drained.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// eventStream is the consuming end of an eventQueue. Exactly one run-loop
// owns it at a time; ownership moves through listenTask results.
type eventStream struct {
	q *eventQueue
}

func newEventStream(q *eventQueue) *eventStream {
	return &eventStream{q: q}
}

// next returns the next event. It returns false when cancel is closed or the
// stream is exhausted, and cancellation wins when both are possible.
func (s *eventStream) next(cancel <-chan struct{}) (ServerEvent, bool) {
	for {
		select {
		case <-cancel:
			return nil, false
		default:
		}

		s.q.mu.Lock()
		if len(s.q.items) > 0 {
			ev := s.q.items[0]
			s.q.items[0] = nil
			s.q.items = s.q.items[1:]
			s.q.mu.Unlock()
			return ev, true
		}
		closed := s.q.closed
		s.q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-cancel:
			return nil, false
		case <-s.q.notify:
		}
	}
}

// pending returns the number of unread events.
func (s *eventStream) pending() int {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	return len(s.q.items)
}
