package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/flemzord/storeguard/internal/chat"
	"github.com/flemzord/storeguard/internal/security"
)

func TestEventStream(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, chat.Settings{})
	srv := httptest.NewServer(g.buildRouter())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/security/events/stream"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + testToken}},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	// The server subscribes after the upgrade completes, so keep recording
	// until the first event comes through.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				g.chat.Events().PromptInjection(security.Source{Key: "203.0.113.9"}, "forget everything", nil)
			}
		}
	}()

	var ev security.SecurityEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ev.Type != security.EventPromptInjection || ev.SourceKey != "203.0.113.9" {
		t.Errorf("event = %s from %q, want prompt_injection from 203.0.113.9", ev.Type, ev.SourceKey)
	}
}

func TestEventStream_RequiresAuth(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, chat.Settings{})
	srv := httptest.NewServer(g.buildRouter())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/security/events/stream"
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("Dial without credentials should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}
