package chat

import (
	"errors"
	"net/http"
)

var (
	// ErrListenerNotSet is returned by operations that need a running
	// connection when no listener was ever attached.
	ErrListenerNotSet = errors.New("chat: listener was not set")

	// ErrAlreadyAcknowledged is returned when an acknowledgment is redeemed twice.
	ErrAlreadyAcknowledged = errors.New("chat: message already acknowledged")

	// ErrEventStreamLost is reported when a listener task died without
	// handing the event stream back.
	ErrEventStreamLost = errors.New("chat: event stream lost")
)

// Connect stage sentinels, matched with errors.Is against a *ConnectionError.
var (
	ErrRoutesExhausted   = errors.New("chat: all connection routes failed")
	ErrTransportRefused  = errors.New("chat: transport refused")
	ErrHandshakeRejected = errors.New("chat: handshake rejected")
)

// ConnectStage identifies where establishing a connection failed.
type ConnectStage int

const (
	StageRouting ConnectStage = iota
	StageTransport
	StageHandshake
)

func (s ConnectStage) String() string {
	switch s {
	case StageRouting:
		return "routing"
	case StageTransport:
		return "transport"
	case StageHandshake:
		return "handshake"
	default:
		return "unknown"
	}
}

func (s ConnectStage) sentinel() error {
	switch s {
	case StageTransport:
		return ErrTransportRefused
	case StageHandshake:
		return ErrHandshakeRejected
	default:
		return ErrRoutesExhausted
	}
}

// ConnectionError is returned when a connection cannot be established.
// It is never retried internally.
type ConnectionError struct {
	Stage ConnectStage
	// Attempts is the number of routes that were tried.
	Attempts int
	// Status is the HTTP status of a rejected handshake.
	Status int
	Err    error
}

func (e *ConnectionError) Error() string {
	msg := e.Stage.sentinel().Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Stage.sentinel()}
	}
	return []error{e.Stage.sentinel(), e.Err}
}

// DeviceDeregistered reports a handshake refused because the account or
// device no longer exists.
func (e *ConnectionError) DeviceDeregistered() bool {
	return e.Stage == StageHandshake && e.Status == http.StatusForbidden
}

// AppExpired reports a handshake refused because the client is too old.
func (e *ConnectionError) AppExpired() bool {
	return e.Stage == StageHandshake && e.Status == 499
}

// ErrorKind classifies a ServiceError.
type ErrorKind int

const (
	KindDisconnected ErrorKind = iota
	KindTimeout
	KindTransport
	KindUnexpectedResponse
	KindProtocolViolation
	KindRemoteIdle
	KindServerClosed
	KindInvalidRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindDisconnected:
		return "disconnected"
	case KindTimeout:
		return "timed out"
	case KindTransport:
		return "transport error"
	case KindUnexpectedResponse:
		return "unexpected response"
	case KindProtocolViolation:
		return "protocol violation"
	case KindRemoteIdle:
		return "server stopped responding"
	case KindServerClosed:
		return "closed by server"
	case KindInvalidRequest:
		return "invalid request"
	default:
		return "unknown"
	}
}

// ServiceError is the failure of an operation on an established connection.
type ServiceError struct {
	Kind ErrorKind
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return "chat: " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "chat: " + e.Kind.String()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches a bare sentinel of the same kind, so errors.Is(err, ErrTimeout)
// holds for every timeout regardless of its cause.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// Retryable reports whether the same request may succeed on a later attempt.
func (e *ServiceError) Retryable() bool {
	switch e.Kind {
	case KindDisconnected, KindTimeout, KindTransport, KindRemoteIdle, KindServerClosed:
		return true
	default:
		return false
	}
}

// Sentinels for errors.Is.
var (
	ErrDisconnected       = &ServiceError{Kind: KindDisconnected}
	ErrTimeout            = &ServiceError{Kind: KindTimeout}
	ErrTransport          = &ServiceError{Kind: KindTransport}
	ErrUnexpectedResponse = &ServiceError{Kind: KindUnexpectedResponse}
	ErrProtocolViolation  = &ServiceError{Kind: KindProtocolViolation}
	ErrRemoteIdle         = &ServiceError{Kind: KindRemoteIdle}
	ErrServerClosed       = &ServiceError{Kind: KindServerClosed}
	ErrInvalidRequest     = &ServiceError{Kind: KindInvalidRequest}
)

func newServiceError(kind ErrorKind, err error) *ServiceError {
	return &ServiceError{Kind: kind, Err: err}
}

// IsRetryable reports whether err is a retryable ServiceError.
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}
