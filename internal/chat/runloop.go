package chat

import (
	"fmt"
	"log/slog"
)

// streamSource yields the event stream a run-loop starts from.
type streamSource interface {
	wait() (*eventStream, error)
}

// readyStream is a stream nobody is consuming.
type readyStream struct {
	stream *eventStream
}

func (r readyStream) wait() (*eventStream, error) {
	return r.stream, nil
}

// listenTask is one run-loop. When done is closed, stream holds the unread
// tail, or err explains why the tail was lost.
type listenTask struct {
	done   chan struct{}
	stream *eventStream
	err    error
}

func (t *listenTask) wait() (*eventStream, error) {
	<-t.done
	return t.stream, t.err
}

// startListening starts a run-loop that takes the stream from src and feeds
// it to l until cancel is closed, the stream ends or l panics.
func startListening(rt Runtime, src streamSource, cancel <-chan struct{}, l Listener, logger *slog.Logger) *listenTask {
	t := &listenTask{done: make(chan struct{})}
	go t.run(rt, src, cancel, l, logger)
	return t
}

func (t *listenTask) run(rt Runtime, src streamSource, cancel <-chan struct{}, l Listener, logger *slog.Logger) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.stream = nil
			t.err = fmt.Errorf("%w: run-loop panicked: %v", ErrEventStreamLost, r)
			logger.Error("chat listener task failed", "error", t.err)
		}
	}()

	stream, err := src.wait()
	if err != nil {
		t.err = err
		logger.Error("previous chat listener task failed, events cannot be delivered", "error", err)
		return
	}

	for {
		ev, ok := stream.next(cancel)
		if !ok {
			break
		}
		l, err = dispatch(rt, l, ev)
		if err != nil {
			logger.Error("chat listener panicked; no further events will be read until a new listener is set",
				"error", err)
			break
		}
	}
	t.stream = stream
}
