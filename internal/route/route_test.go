package route_test

import (
	"errors"
	"testing"

	"github.com/omochice/chatnet/internal/route"
)

func TestNewProxyConfig(t *testing.T) {
	tests := []struct {
		name    string
		scheme  string
		host    string
		port    int
		wantErr bool
	}{
		{"valid socks5", "socks5", "localhost", 1080, false},
		{"default scheme", "", "localhost", 1080, false},
		{"uppercase scheme", "SOCKS5H", "localhost", 9050, false},
		{"lowest port", "socks5", "localhost", 1, false},
		{"highest port", "socks5", "localhost", 65535, false},
		{"port zero", "socks5", "localhost", 0, true},
		{"port too large", "socks5", "localhost", 100000, true},
		{"negative port", "socks5", "localhost", -1, true},
		{"empty host", "socks5", "", 1080, true},
		{"unsupported scheme", "gopher", "localhost", 70, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := route.NewProxyConfig(tt.scheme, tt.host, tt.port, "", "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProxyConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, route.ErrInvalidProxy) {
					t.Errorf("NewProxyConfig() error = %v, want ErrInvalidProxy", err)
				}
				if cfg != nil {
					t.Errorf("NewProxyConfig() returned config %v alongside error", cfg)
				}
			}
		})
	}
}

func TestRoutes_DirectOnly(t *testing.T) {
	ep := route.Endpoint{
		Host:     "chat.example.org",
		Port:     443,
		Path:     "/v1/websocket/",
		TLS:      true,
		Fronting: []route.FrontingProxy{{SNI: "cdn.example.net", Host: "front.example.net", PathPrefix: "/chat"}},
	}

	routes := route.Routes(ep, nil, false)
	if len(routes) != 1 {
		t.Fatalf("Routes() returned %d routes, want 1", len(routes))
	}
	r := routes[0]
	if r.Fronted || r.SNI != "chat.example.org" || r.DialAddr() != "chat.example.org:443" {
		t.Errorf("Routes()[0] = %+v, want direct route to chat.example.org:443", r)
	}
	if got := r.URL(ep.Path); got != "wss://chat.example.org/v1/websocket/" {
		t.Errorf("URL() = %q", got)
	}
}

func TestRoutes_FrontingAndProxy(t *testing.T) {
	proxy, err := route.NewProxyConfig("socks5", "127.0.0.1", 1080, "", "")
	if err != nil {
		t.Fatalf("NewProxyConfig() error = %v", err)
	}
	ep := route.Endpoint{
		Host: "chat.example.org",
		Port: 443,
		TLS:  true,
		Fronting: []route.FrontingProxy{
			{SNI: "cdn.example.net", Host: "front.example.net", PathPrefix: "/chat"},
			{Host: "other.example.net"},
		},
	}

	routes := route.Routes(ep, proxy, true)
	if len(routes) != 3 {
		t.Fatalf("Routes() returned %d routes, want 3", len(routes))
	}
	for i, r := range routes {
		if r.Proxy != proxy {
			t.Errorf("Routes()[%d] is not proxied", i)
		}
	}
	if !routes[1].Fronted || routes[1].SNI != "cdn.example.net" {
		t.Errorf("Routes()[1] = %+v, want fronted route with sni cdn.example.net", routes[1])
	}
	if got := routes[1].URL("/v1/websocket/"); got != "wss://front.example.net/chat/v1/websocket/" {
		t.Errorf("URL() = %q", got)
	}
	if routes[2].SNI != "other.example.net" {
		t.Errorf("Routes()[2].SNI = %q, want host as sni", routes[2].SNI)
	}
	want := "fronted front.example.net:443 sni=cdn.example.net via socks5://127.0.0.1:1080"
	if got := routes[1].String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRoute_URLPlainText(t *testing.T) {
	r := route.Routes(route.Endpoint{Host: "127.0.0.1", Port: 8080}, nil, false)[0]
	if got := r.URL("/v1/websocket/"); got != "ws://127.0.0.1:8080/v1/websocket/" {
		t.Errorf("URL() = %q", got)
	}
	if r.SNI != "" {
		t.Errorf("SNI = %q, want empty without TLS", r.SNI)
	}
}
