package chat

import (
	"fmt"
	"time"
)

// Listener receives server events for a connection. Calls are sequential:
// a method is never invoked before the previous call returned.
type Listener interface {
	ReceivedIncomingMessage(envelope []byte, timestamp time.Time, ack *ServerMessageAck)
	ReceivedQueueEmpty()
	ConnectionInterrupted(cause error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields ignore the event.
type ListenerFuncs struct {
	OnIncomingMessage func(envelope []byte, timestamp time.Time, ack *ServerMessageAck)
	OnQueueEmpty      func()
	OnInterrupted     func(cause error)
}

func (f ListenerFuncs) ReceivedIncomingMessage(envelope []byte, timestamp time.Time, ack *ServerMessageAck) {
	if f.OnIncomingMessage != nil {
		f.OnIncomingMessage(envelope, timestamp, ack)
	}
}

func (f ListenerFuncs) ReceivedQueueEmpty() {
	if f.OnQueueEmpty != nil {
		f.OnQueueEmpty()
	}
}

func (f ListenerFuncs) ConnectionInterrupted(cause error) {
	if f.OnInterrupted != nil {
		f.OnInterrupted(cause)
	}
}

var _ Listener = ListenerFuncs{}

// Runtime runs listener callbacks away from the run-loop goroutine.
type Runtime interface {
	Spawn(fn func())
}

// GoroutineRuntime spawns a goroutine per callback.
type GoroutineRuntime struct{}

// Spawn implements Runtime.
func (GoroutineRuntime) Spawn(fn func()) {
	go fn()
}

// ListenerPanicError wraps the value a listener callback panicked with.
type ListenerPanicError struct {
	Value any
}

func (e *ListenerPanicError) Error() string {
	return fmt.Sprintf("chat: listener panicked: %v", e.Value)
}

func deliver(l Listener, ev ServerEvent) {
	switch ev := ev.(type) {
	case *IncomingMessage:
		l.ReceivedIncomingMessage(ev.Envelope, ev.Timestamp, ev.Ack)
	case QueueEmpty:
		l.ReceivedQueueEmpty()
	case Stopped:
		l.ConnectionInterrupted(ev.Cause)
	}
}

// dispatch hands l to rt for a single event and gets it back once the callback
// returns. The listener is never touched by the caller while the callback runs.
func dispatch(rt Runtime, l Listener, ev ServerEvent) (Listener, error) {
	type result struct {
		l   Listener
		err error
	}
	done := make(chan result, 1)
	rt.Spawn(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &ListenerPanicError{Value: r}}
			}
		}()
		deliver(l, ev)
		done <- result{l: l}
	})
	res := <-done
	return res.l, res.err
}
