package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelegramSendMarkdownFallback(t *testing.T) {
	var calls []sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		calls = append(calls, req)
		if req.ParseMode == "Markdown" {
			_ = json.NewEncoder(w).Encode(apiResponse{OK: false, Description: "can't parse entities"})
			return
		}
		_ = json.NewEncoder(w).Encode(apiResponse{OK: true})
	}))
	defer srv.Close()

	gw, err := NewTelegram("test-token", WithAPIBase(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}

	delivered, err := gw.Send(context.Background(), 555, "*broken_markdown", true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !delivered {
		t.Fatal("expected delivery after fallback")
	}
	if len(calls) != 2 {
		t.Fatalf("expected markdown attempt plus plain retry, got %d calls", len(calls))
	}
	if calls[0].ParseMode != "Markdown" || calls[1].ParseMode != "" {
		t.Fatalf("unexpected parse modes: %+v", calls)
	}
	if calls[0].ChatID != 555 {
		t.Fatalf("unexpected chat id: %d", calls[0].ChatID)
	}
}

func TestTelegramSendNoRetryOnTransportError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// A mangled body means the request reached the API and may have
		// been delivered; a blind retry could double-send.
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	gw, err := NewTelegram("test-token", WithAPIBase(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}

	delivered, err := gw.Send(context.Background(), 555, "*hello*", true)
	if err == nil {
		t.Fatal("expected error")
	}
	if delivered {
		t.Fatal("unexpected delivery report")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestNewTelegramRequiresToken(t *testing.T) {
	if _, err := NewTelegram("  "); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestDecodeStart(t *testing.T) {
	msg := func(text string) Update {
		return Update{Message: &Message{
			From: &Sender{ID: 42, Username: "jdoe", FirstName: "J"},
			Text: text,
		}}
	}

	ev, ok := DecodeStart(msg("/start a1b2c3"))
	if !ok {
		t.Fatal("expected claim event")
	}
	if ev.Token != "a1b2c3" || ev.Profile.ChannelID != 42 || ev.Profile.Username != "jdoe" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	for _, text := range []string{"/start", "/help", "hello there", "/start a b"} {
		if _, ok := DecodeStart(msg(text)); ok {
			t.Fatalf("unexpected claim event for %q", text)
		}
	}
	if _, ok := DecodeStart(Update{}); ok {
		t.Fatal("unexpected claim event for empty update")
	}
}
