package chat

import (
	"log/slog"
	"sync"
)

type listenerStateKind int

const (
	stateInactive listenerStateKind = iota
	stateActive
	stateCancelled
	// stateMutating only exists while mu is held.
	stateMutating
)

type listenerState struct {
	kind   listenerStateKind
	stream *eventStream  // inactive
	task   *listenTask   // active, cancelled
	cancel chan struct{} // active
}

// listenerSlot owns the event stream of one connection and the run-loop
// currently draining it. The stream is never read by two run-loops at once:
// every new run-loop waits for its predecessor to hand the tail back.
type listenerSlot struct {
	mu      sync.Mutex
	state   listenerState
	runtime Runtime
	logger  *slog.Logger
}

func newListenerSlot(stream *eventStream, rt Runtime, logger *slog.Logger) *listenerSlot {
	if rt == nil {
		panic("chat: listener slot requires a runtime")
	}
	return &listenerSlot{
		state:   listenerState{kind: stateInactive, stream: stream},
		runtime: rt,
		logger:  logger,
	}
}

// take moves the state out, leaving the mutating marker. mu must be held.
func (s *listenerSlot) take() listenerState {
	st := s.state
	s.state = listenerState{kind: stateMutating}
	return st
}

// attach starts delivering events to l, replacing any current listener.
func (s *listenerSlot) attach(l Listener) {
	cancel := make(chan struct{})

	s.mu.Lock()
	defer s.mu.Unlock()

	var src streamSource
	switch st := s.take(); st.kind {
	case stateInactive:
		src = readyStream{stream: st.stream}
	case stateActive:
		close(st.cancel)
		src = st.task
	case stateCancelled:
		src = st.task
	default:
		panic("chat: listener slot observed while mutating")
	}

	task := startListening(s.runtime, src, cancel, l, s.logger)
	s.state = listenerState{kind: stateActive, task: task, cancel: cancel}
}

// clear stops delivery after the event currently being dispatched, if any.
func (s *listenerSlot) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.take(); st.kind {
	case stateActive:
		close(st.cancel)
		s.state = listenerState{kind: stateCancelled, task: st.task}
	case stateInactive, stateCancelled:
		s.state = st
	default:
		panic("chat: listener slot observed while mutating")
	}
}

// active reports whether a listener is attached.
func (s *listenerSlot) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.kind == stateActive
}

// currentTask returns the latest run-loop, or nil if none was ever started.
func (s *listenerSlot) currentTask() *listenTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.task
}
