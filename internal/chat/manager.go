package chat

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omochice/chatnet/internal/logging"
	"github.com/omochice/chatnet/internal/route"
	"github.com/omochice/chatnet/internal/transport/ws"
)

const headerReceiveStories = "X-Signal-Receive-Stories"

// Auth holds the credentials of an authenticated connection.
type Auth struct {
	Username       string
	Password       string
	ReceiveStories bool
}

// Dialer opens a framed connection over a single route.
type Dialer interface {
	Dial(ctx context.Context, r route.Route, path string, header http.Header) (Conn, error)
}

// WebSocketDialer dials routes with the websocket transport.
type WebSocketDialer struct {
	ConnectTimeout time.Duration
	TLSConfig      *tls.Config
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, r route.Route, path string, header http.Header) (Conn, error) {
	conn, err := ws.Dial(ctx, r, path, header, ws.DialOptions{
		ConnectTimeout: d.ConnectTimeout,
		TLSConfig:      d.TLSConfig,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Timeouts groups the connection timeouts.
type Timeouts struct {
	Connect    time.Duration
	LocalIdle  time.Duration
	RemoteIdle time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:    10 * time.Second,
		LocalIdle:  30 * time.Second,
		RemoteIdle: 60 * time.Second,
	}
}

// ManagerOption configures a ConnectionManager.
type ManagerOption func(*ConnectionManager)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) ManagerOption {
	return func(m *ConnectionManager) { m.dialer = d }
}

// WithRuntime sets where listener callbacks run.
func WithRuntime(rt Runtime) ManagerOption {
	return func(m *ConnectionManager) { m.runtime = rt }
}

// WithTimeouts overrides DefaultTimeouts.
func WithTimeouts(t Timeouts) ManagerOption {
	return func(m *ConnectionManager) { m.timeouts = t }
}

// WithLogger sets the base logger of connections.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *ConnectionManager) { m.logger = l }
}

// ConnectionManager holds everything needed to connect: the environment,
// proxy and fronting settings, and the client identity.
type ConnectionManager struct {
	env       route.Environment
	userAgent string
	timeouts  Timeouts
	dialer    Dialer
	runtime   Runtime
	logger    *slog.Logger

	mu       sync.Mutex
	proxy    *route.ProxyConfig
	proxyErr error
	fronting bool
}

// NewConnectionManager returns a manager for env.
func NewConnectionManager(env route.Environment, userAgent string, opts ...ManagerOption) *ConnectionManager {
	m := &ConnectionManager{
		env:       env,
		userAgent: userAgent,
		timeouts:  DefaultTimeouts(),
		runtime:   GoroutineRuntime{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = WebSocketDialer{ConnectTimeout: m.timeouts.Connect}
	}
	if m.logger == nil {
		m.logger = logging.Chat()
	}
	return m
}

// SetProxy routes every connection through a SOCKS proxy. An invalid
// configuration is reported and also leaves the manager without any usable
// route, so connects fail instead of silently bypassing the proxy.
func (m *ConnectionManager) SetProxy(scheme, host string, port int, username, password string) error {
	cfg, err := route.NewProxyConfig(scheme, host, port, username, password)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.proxy, m.proxyErr = nil, err
		return err
	}
	m.proxy, m.proxyErr = cfg, nil
	return nil
}

// ClearProxy connects directly again.
func (m *ConnectionManager) ClearProxy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxy, m.proxyErr = nil, nil
}

// SetDomainFronting enables the environment's fronting routes as fallbacks.
func (m *ConnectionManager) SetDomainFronting(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fronting = enabled
}

// Routes returns the routes a connect would try, in order.
func (m *ConnectionManager) Routes() []route.Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proxyErr != nil {
		return nil
	}
	return route.Routes(m.env.Chat, m.proxy, m.fronting)
}

// ConnectAuthenticated connects with credentials.
func (m *ConnectionManager) ConnectAuthenticated(ctx context.Context, auth Auth) (*Connection, error) {
	return m.connect(ctx, &auth)
}

// ConnectUnauthenticated connects without credentials.
func (m *ConnectionManager) ConnectUnauthenticated(ctx context.Context) (*Connection, error) {
	return m.connect(ctx, nil)
}

func (m *ConnectionManager) connect(ctx context.Context, auth *Auth) (*Connection, error) {
	m.mu.Lock()
	proxyErr := m.proxyErr
	m.mu.Unlock()

	id := uuid.NewString()
	logger := logging.WithConnection(m.logger, id)

	routes := m.Routes()
	if len(routes) == 0 {
		logger.Warn("no usable route to chat service", "error", proxyErr)
		return nil, &ConnectionError{Stage: StageRouting, Err: proxyErr}
	}

	header := m.header(auth)
	var lastErr error
	for i, r := range routes {
		conn, err := m.dialer.Dial(ctx, r, m.env.Chat.Path, header)
		if err == nil {
			info := connectionInfo(conn.LocalAddr(), r.String())
			logger.Info("chat connection established",
				"route", info.Route, "local_port", info.LocalPort, "ip_version", info.IPVersion,
				"authenticated", auth != nil)
			pending := &pendingSession{
				conn: conn,
				info: info,
				cfg: SessionConfig{
					LocalIdleTimeout:  m.timeouts.LocalIdle,
					RemoteIdleTimeout: m.timeouts.RemoteIdle,
				},
				logger: logger,
			}
			return newConnection(id, pending, m.runtime, logger), nil
		}

		if rejected, ok := ws.IsRejected(err); ok {
			logger.Warn("chat handshake rejected", "route", r.String(), "status", rejected.Status)
			return nil, &ConnectionError{Stage: StageHandshake, Attempts: i + 1, Status: rejected.Status, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &ConnectionError{Stage: StageTransport, Attempts: i + 1, Err: ctx.Err()}
		}
		logger.Warn("chat route failed", "route", r.String(), "error", err)
		lastErr = err
	}
	return nil, &ConnectionError{Stage: StageRouting, Attempts: len(routes), Err: lastErr}
}

func (m *ConnectionManager) header(auth *Auth) http.Header {
	h := http.Header{}
	if m.userAgent != "" {
		h.Set("User-Agent", m.userAgent)
	}
	if auth != nil {
		creds := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		h.Set("Authorization", "Basic "+creds)
		h.Set(headerReceiveStories, strconv.FormatBool(auth.ReceiveStories))
	}
	return h
}
