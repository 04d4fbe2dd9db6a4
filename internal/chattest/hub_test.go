package chattest

import (
	"context"
	"testing"
	"time"
)

func TestHub_Register(t *testing.T) {
	h := newHub()
	h.register(newClient("a", nil, nil))

	if got := h.count(); got != 1 {
		t.Errorf("count() = %d, want 1", got)
	}
}

func TestHub_Register_MultipleClients(t *testing.T) {
	h := newHub()
	for _, id := range []string{"a", "b", "c"} {
		h.register(newClient(id, nil, nil))
	}

	if got := h.count(); got != 3 {
		t.Errorf("count() = %d, want 3", got)
	}
}

func TestHub_Unregister(t *testing.T) {
	h := newHub()
	c := newClient("a", nil, nil)
	h.register(c)
	h.unregister(c)

	if got := h.count(); got != 0 {
		t.Errorf("count() = %d, want 0", got)
	}
}

func TestHub_SnapshotSignalsChange(t *testing.T) {
	h := newHub()
	clients, changed := h.snapshot()
	if len(clients) != 0 {
		t.Fatalf("snapshot() = %d clients, want 0", len(clients))
	}

	h.register(newClient("a", nil, nil))
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("change channel not closed after register")
	}

	clients, _ = h.snapshot()
	if len(clients) != 1 || clients[0].ID != "a" {
		t.Errorf("snapshot() = %v", clients)
	}
}

func TestClient_SendAfterFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c := newClient("a", nil, nil)
	for i := 0; i < cap(c.outgoing); i++ {
		if !c.send(ctx, []byte("x")) {
			t.Fatalf("send %d failed on a live client", i)
		}
	}
	c.finish()
	c.finish()
	if c.send(ctx, []byte("x")) {
		t.Error("send succeeded on a full, finished client")
	}
}
