// Package route describes how a chat endpoint can be reached: directly,
// through a SOCKS proxy, or through a domain-fronting proxy.
package route

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	// ErrInvalidProxy is returned when a proxy configuration fails validation.
	ErrInvalidProxy = errors.New("route: invalid proxy configuration")
)

// Proxy schemes understood by the transport.
const (
	SchemeSOCKS5  = "socks5"
	SchemeSOCKS5H = "socks5h"
)

// ProxyConfig describes an intermediary every route is dialed through.
type ProxyConfig struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
}

// NewProxyConfig validates and returns a proxy configuration. An empty scheme
// means socks5.
func NewProxyConfig(scheme, host string, port int, username, password string) (*ProxyConfig, error) {
	if scheme == "" {
		scheme = SchemeSOCKS5
	}
	cfg := &ProxyConfig{
		Scheme:   strings.ToLower(scheme),
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the scheme, host and port of the proxy.
func (p *ProxyConfig) Validate() error {
	switch p.Scheme {
	case SchemeSOCKS5, SchemeSOCKS5H:
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, p.Scheme)
	}
	if p.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidProxy)
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidProxy, p.Port)
	}
	return nil
}

// Addr returns host:port of the proxy.
func (p *ProxyConfig) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p *ProxyConfig) String() string {
	return p.Scheme + "://" + p.Addr()
}

// FrontingProxy is an alternative front for an endpoint. The connection is
// opened to Host with TLS server name SNI and every path gets PathPrefix.
type FrontingProxy struct {
	SNI        string `yaml:"sni"`
	Host       string `yaml:"host"`
	PathPrefix string `yaml:"path_prefix"`
}

// Endpoint is where the chat websocket lives.
type Endpoint struct {
	Host     string          `yaml:"host"`
	Port     int             `yaml:"port"`
	Path     string          `yaml:"path"`
	TLS      bool            `yaml:"tls"`
	Fronting []FrontingProxy `yaml:"fronting"`
}

// Environment names a deployment and its chat endpoint.
type Environment struct {
	Name string
	Chat Endpoint
}

// DefaultChatPath is the websocket path of the chat service.
const DefaultChatPath = "/v1/websocket/"

// Staging returns the staging deployment.
func Staging() Environment {
	return Environment{
		Name: "staging",
		Chat: Endpoint{Host: "chat.staging.signal.org", Port: 443, Path: DefaultChatPath, TLS: true},
	}
}

// Production returns the production deployment.
func Production() Environment {
	return Environment{
		Name: "production",
		Chat: Endpoint{Host: "chat.signal.org", Port: 443, Path: DefaultChatPath, TLS: true},
	}
}

// Route is one concrete way to reach an endpoint.
type Route struct {
	// DialHost and DialPort are where the TCP connection goes (through Proxy if set).
	DialHost string
	DialPort int
	// HTTPHost is the host used in the upgrade request URL.
	HTTPHost string
	// SNI is the TLS server name; empty when TLS is off.
	SNI        string
	TLS        bool
	PathPrefix string
	Proxy      *ProxyConfig
	Fronted    bool
}

// DialAddr returns the address the route connects to.
func (r Route) DialAddr() string {
	return net.JoinHostPort(r.DialHost, strconv.Itoa(r.DialPort))
}

// URL returns the websocket URL for path over this route.
func (r Route) URL(path string) string {
	scheme := "ws"
	if r.TLS {
		scheme = "wss"
	}
	host := r.HTTPHost
	if (r.TLS && r.DialPort != 443) || (!r.TLS && r.DialPort != 80) {
		host = net.JoinHostPort(r.HTTPHost, strconv.Itoa(r.DialPort))
	}
	return scheme + "://" + host + r.PathPrefix + path
}

// String describes the route for logs and debug info.
func (r Route) String() string {
	var b strings.Builder
	if r.Fronted {
		b.WriteString("fronted ")
	} else {
		b.WriteString("direct ")
	}
	b.WriteString(r.DialAddr())
	if r.SNI != "" && r.SNI != r.DialHost {
		b.WriteString(" sni=")
		b.WriteString(r.SNI)
	}
	if r.Proxy != nil {
		b.WriteString(" via ")
		b.WriteString(r.Proxy.String())
	}
	return b.String()
}

// Routes lists the routes to try for endpoint, in order: the direct route
// first, then each fronting proxy when fronting is enabled.
func Routes(ep Endpoint, proxy *ProxyConfig, enableFronting bool) []Route {
	routes := []Route{{
		DialHost: ep.Host,
		DialPort: ep.Port,
		HTTPHost: ep.Host,
		SNI:      sniFor(ep.TLS, ep.Host),
		TLS:      ep.TLS,
		Proxy:    proxy,
	}}
	if !enableFronting {
		return routes
	}
	for _, f := range ep.Fronting {
		sni := f.SNI
		if sni == "" {
			sni = f.Host
		}
		routes = append(routes, Route{
			DialHost:   f.Host,
			DialPort:   443,
			HTTPHost:   f.Host,
			SNI:        sni,
			TLS:        true,
			PathPrefix: f.PathPrefix,
			Proxy:      proxy,
			Fronted:    true,
		})
	}
	return routes
}

func sniFor(tls bool, host string) string {
	if !tls {
		return ""
	}
	return host
}
