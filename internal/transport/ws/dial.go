package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gobwas/ws"
	"golang.org/x/net/proxy"

	"github.com/omochice/chatnet/internal/logging"
	"github.com/omochice/chatnet/internal/route"
)

// RejectedError reports a handshake the server answered with a non-101 status.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("websocket handshake rejected: %d %s", e.Status, e.Reason)
	}
	return "websocket handshake rejected: " + strconv.Itoa(e.Status)
}

// DialOptions tunes a single dial.
type DialOptions struct {
	// ConnectTimeout bounds TCP connect, proxy negotiation and the upgrade.
	ConnectTimeout time.Duration
	// TLSConfig is cloned for every dial; ServerName always comes from the route.
	TLSConfig *tls.Config
}

// Dial opens a websocket to path over r and sends header with the upgrade request.
func Dial(ctx context.Context, r route.Route, path string, header http.Header, opts DialOptions) (*Conn, error) {
	var rejected *RejectedError

	d := ws.Dialer{
		Timeout: opts.ConnectTimeout,
		Header:  ws.HandshakeHeaderHTTP(header),
		NetDial: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialRoute(ctx, r, opts.ConnectTimeout)
		},
		OnStatusError: func(status int, reason []byte, _ io.Reader) {
			rejected = &RejectedError{Status: status, Reason: string(reason)}
		},
	}
	if r.TLS {
		var cfg *tls.Config
		if opts.TLSConfig != nil {
			cfg = opts.TLSConfig.Clone()
		} else {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		cfg.ServerName = r.SNI
		d.TLSConfig = cfg
	}

	logger := logging.Transport().With("route", r.String())
	logger.Debug("dialing websocket", "url", r.URL(path))

	conn, br, _, err := d.Dial(ctx, r.URL(path))
	if err != nil {
		if rejected != nil {
			logger.Debug("websocket handshake rejected", "status", rejected.Status)
			return nil, rejected
		}
		logger.Debug("websocket dial failed", "error", err)
		return nil, fmt.Errorf("failed to dial %s: %w", r, err)
	}
	logger.Debug("websocket established", "local", conn.LocalAddr().String())
	return NewConn(conn, br), nil
}

// dialRoute opens the TCP connection for r, through its proxy when it has one.
func dialRoute(ctx context.Context, r route.Route, timeout time.Duration) (net.Conn, error) {
	base := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if r.Proxy == nil {
		return base.DialContext(ctx, "tcp", r.DialAddr())
	}

	target := r.DialAddr()
	if r.Proxy.Scheme == route.SchemeSOCKS5 {
		// socks5 resolves locally, socks5h leaves resolution to the proxy.
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, r.DialHost)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", r.DialHost, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("failed to resolve %s: no addresses", r.DialHost)
		}
		target = net.JoinHostPort(addrs[0].IP.String(), strconv.Itoa(r.DialPort))
	}

	var auth *proxy.Auth
	if r.Proxy.Username != "" {
		auth = &proxy.Auth{User: r.Proxy.Username, Password: r.Proxy.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", r.Proxy.Addr(), auth, base)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy dialer: %w", err)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", target)
	}
	return dialer.Dial("tcp", target)
}

// IsRejected reports whether err is a handshake rejection and returns it.
func IsRejected(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
