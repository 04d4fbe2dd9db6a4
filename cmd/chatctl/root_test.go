package main

import (
	"errors"
	"testing"

	"github.com/omochice/chatnet/internal/chat"
)

func TestSplitList(t *testing.T) {
	got := splitList(" chat, ,transport,")
	if len(got) != 2 || got[0] != "chat" || got[1] != "transport" {
		t.Errorf("splitList() = %v", got)
	}
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %v, want nil", got)
	}
}

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest("put", "/v1/messages", "{}", []string{"Content-Type: application/json"})
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}
	if req.Method != "PUT" || string(req.Body) != "{}" {
		t.Errorf("request = %s %q", req.Method, req.Body)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}

	if _, err := buildRequest("GET", "/v1/ping", "", []string{"no-colon"}); err == nil {
		t.Error("buildRequest() accepted a header without a colon")
	}
	if _, err := buildRequest("GET", "v1/ping", "", nil); !errors.Is(err, chat.ErrInvalidRequest) {
		t.Errorf("buildRequest() error = %v, want ErrInvalidRequest", err)
	}
}
