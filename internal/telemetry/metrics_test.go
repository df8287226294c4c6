package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/storeguard/internal/config"
	"github.com/flemzord/storeguard/internal/provider"
	"github.com/flemzord/storeguard/internal/quota"
	"github.com/flemzord/storeguard/internal/security"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ObserveChat(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.ObserveChat("answered", 20*time.Millisecond)
	m.ObserveChat("fallback", time.Millisecond)
	m.ObserveChat("rate_limited", time.Millisecond)
	m.ObserveChat("rate_limited", time.Millisecond)

	if got := testutil.ToFloat64(m.chatDecisions.WithLabelValues("rate_limited")); got != 2 {
		t.Errorf("rate_limited decisions = %v, want 2", got)
	}
	snap := m.Snapshot()
	if snap.Answered != 1 || snap.Fallbacks != 1 || snap.Rejected != 2 {
		t.Errorf("Snapshot = %+v, want 1 answered / 1 fallback / 2 rejected", snap)
	}
}

func TestMetrics_ObserveProvider(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.ObserveProvider("gemini", 300*time.Millisecond, nil)
	m.ObserveProvider("gemini", time.Second, provider.WithStatus(429, provider.ErrRateLimit))
	m.ObserveProvider("openai", time.Second, fmt.Errorf("dial: %w", provider.ErrProviderDown))

	tests := []struct {
		provider, outcome, code string
	}{
		{"gemini", "ok", "200"},
		{"gemini", "rate_limited", "429"},
		{"openai", "unavailable", "none"},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.providerRequests.WithLabelValues(tt.provider, tt.outcome, tt.code))
		if got != 1 {
			t.Errorf("requests{%s,%s,%s} = %v, want 1", tt.provider, tt.outcome, tt.code, got)
		}
	}
	if snap := m.Snapshot(); snap.UpstreamAttempts != 3 || snap.UpstreamFailures != 2 {
		t.Errorf("Snapshot = %+v, want 3 attempts / 2 failures", snap)
	}
}

func TestMetrics_ObserveEvent(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	log := security.NewSecurityEventLog(security.EventLogConfig{OnEvent: m.ObserveEvent})
	log.PromptInjection(security.Source{Key: "1.2.3.4"}, "ignore previous instructions", nil)
	log.RateLimited(security.Source{Key: "1.2.3.4"}, security.ScopeChatByIP, security.RateLimitResult{Limit: 5})

	if got := testutil.ToFloat64(m.securityEvents.WithLabelValues("prompt_injection", "high")); got != 1 {
		t.Errorf("prompt_injection/high = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.securityEvents.WithLabelValues("rate_limit", "low")); got != 1 {
		t.Errorf("rate_limit/low = %v, want 1", got)
	}
}

func TestMetrics_WatchQuota(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	tracker := quota.NewTracker(quota.TrackerConfig{Limits: quota.DefaultLimits()})
	tracker.RecordUsage(150)
	m.WatchQuota(tracker.Stats)
	m.WatchQuota(tracker.Stats) // second call is a no-op, must not panic

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"storeguard_quota_requests 1", "storeguard_quota_tokens 150", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics output missing %q", want)
		}
	}
}

func TestInitTracing_Disabled(t *testing.T) {
	t.Parallel()

	shutdown, err := InitTracing(context.Background(), config.TracingConfig{})
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestTracingDefaults(t *testing.T) {
	t.Parallel()

	if got := sampleRatio(0); got != 1 {
		t.Errorf("sampleRatio(0) = %v, want 1", got)
	}
	if got := sampleRatio(0.25); got != 0.25 {
		t.Errorf("sampleRatio(0.25) = %v, want 0.25", got)
	}
	if got := serviceName(""); got != DefaultServiceName {
		t.Errorf("serviceName(\"\") = %q, want %q", got, DefaultServiceName)
	}
}
