package ws_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/omochice/chatnet/internal/route"
	"github.com/omochice/chatnet/internal/transport/ws"
)

// routeTo builds a plain-text route to an httptest server.
func routeTo(t *testing.T, server *httptest.Server) route.Route {
	t.Helper()
	host, port, err := net.SplitHostPort(server.Listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to split server address: %v", err)
	}
	p, _ := strconv.Atoi(port)
	return route.Routes(route.Endpoint{Host: host, Port: p}, nil, false)[0]
}

func dial(t *testing.T, server *httptest.Server, header http.Header) (*ws.Conn, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ws.Dial(ctx, routeTo(t, server), "/v1/websocket/", header, ws.DialOptions{ConnectTimeout: 5 * time.Second})
}

func TestConn_Read(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		if err := c.Write(r.Context(), websocket.MessageBinary, []byte("test message")); err != nil {
			t.Errorf("failed to write: %v", err)
		}
		_, _, _ = c.Read(r.Context())
	}))
	defer server.Close()

	conn, err := dial(t, server, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	data, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "test message" {
		t.Errorf("Read() = %q, want %q", string(data), "test message")
	}
}

func TestConn_Write(t *testing.T) {
	received := make(chan []byte, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		_, data, err := c.Read(r.Context())
		if err != nil {
			t.Errorf("failed to read: %v", err)
			return
		}
		received <- data
	}))
	defer server.Close()

	conn, err := dial(t, server, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Write(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "hello" {
			t.Errorf("server received %q, want %q", string(data), "hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive the frame")
	}
}

func TestDial_SendsHeaders(t *testing.T) {
	gotAuth := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		_, _, _ = c.Read(r.Context())
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "Basic dXNlcjpwYXNz")
	conn, err := dial(t, server, header)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	if got := <-gotAuth; got != "Basic dXNlcjpwYXNz" {
		t.Errorf("Authorization = %q, want %q", got, "Basic dXNlcjpwYXNz")
	}
}

func TestDial_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := dial(t, server, nil)
	if err == nil {
		t.Fatal("Dial() error = nil, want rejection")
	}
	rejected, ok := ws.IsRejected(err)
	if !ok {
		t.Fatalf("Dial() error = %v, want *RejectedError", err)
	}
	if rejected.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want %d", rejected.Status, http.StatusForbidden)
	}
}

func TestDial_ProxyUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	listener.Close()

	proxy, err := route.NewProxyConfig(route.SchemeSOCKS5H, "127.0.0.1", addr.Port, "", "")
	if err != nil {
		t.Fatalf("NewProxyConfig() error = %v", err)
	}
	r := route.Routes(route.Endpoint{Host: "chat.invalid", Port: 80}, proxy, false)[0]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = ws.Dial(ctx, r, "/", nil, ws.DialOptions{ConnectTimeout: time.Second})
	if err == nil {
		t.Fatal("Dial() error = nil, want connection failure")
	}
	if _, ok := ws.IsRejected(err); ok {
		t.Errorf("Dial() error = %v, should not be a handshake rejection", err)
	}
}

func TestConn_ServerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusGoingAway, "bye")
	}))
	defer server.Close()

	conn, err := dial(t, server, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	_, err = conn.Read(context.Background())
	if err == nil {
		t.Fatal("Read() error = nil, want close error")
	}
	code, ok := ws.CloseStatus(err)
	if !ok || code != 1001 {
		t.Errorf("CloseStatus() = %d, %v, want 1001, true", code, ok)
	}
}

func TestConn_ReadCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		_, _, _ = c.Read(r.Context())
	}))
	defer server.Close()

	conn, err := dial(t, server, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = conn.Read(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestConn_CloseTwice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = c.Read(r.Context())
	}))
	defer server.Close()

	conn, err := dial(t, server, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if conn.LocalAddr() == nil || conn.RemoteAddr() == "" {
		t.Error("addresses should stay available after Close")
	}
}
