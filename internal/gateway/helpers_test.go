package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/storeguard/internal/chat"
	"github.com/flemzord/storeguard/internal/quota"
	"github.com/flemzord/storeguard/internal/security"
	"github.com/flemzord/storeguard/internal/security/securitytest"
)

const testToken = "test-admin-token"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestGateway builds a Gateway wired to a fresh chat pipeline, without
// binding a listener. The admin API is mounted with testToken.
func newTestGateway(t *testing.T, s chat.Settings) (*Gateway, func() []security.SecurityEvent) {
	t.Helper()

	events, recorded := securitytest.NewTestEventLog()
	gw, err := chat.NewGateway(chat.Options{
		Limiter:  security.NewRateLimiter(),
		Events:   events,
		Quota:    quota.NewTracker(quota.TrackerConfig{Limits: quota.DefaultLimits()}),
		Settings: s,
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	g := &Gateway{
		config: Config{Auth: AuthConfig{BearerToken: testToken}},
		logger: slog.New(slog.DiscardHandler),
		chat:   gw,
		now:    func() time.Time { return testNow },
	}
	g.config.defaults()
	g.startedAt = testNow.Add(-90 * time.Second)
	return g, recorded
}

func serve(g *Gateway, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rr, req)
	return rr
}

func chatRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/store-chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:51234"
	return req
}

func adminRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.RemoteAddr = "192.0.2.10:40000"
	return req
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// mustYAMLNode parses YAML text into a *yaml.Node for Configure calls.
func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}
