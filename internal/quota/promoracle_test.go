package quota

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePrometheus answers instant queries based on the query text.
type fakePrometheus struct {
	mu      sync.Mutex
	queries []string
	auth    string
}

func (f *fakePrometheus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.auth = r.Header.Get("Authorization")
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/v1/status/buildinfo":
		fmt.Fprint(w, `{"status":"success","data":{"version":"2.53.0","revision":"","branch":"","buildUser":"","buildDate":"","goVersion":"go1.22"}}`)
		return
	case "/api/v1/query":
	default:
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q := r.Form.Get("query")
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	sample := func(v string) string {
		return `{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1746086400,"` + v + `"]}]}}`
	}
	switch {
	case strings.Contains(q, "by (code)"):
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[`+
			`{"metric":{"code":"200"},"value":[1746086400,"95.4"]},`+
			`{"metric":{"code":"500"},"value":[1746086400,"4.6"]}]}}`)
	case strings.Contains(q, `outcome!="ok"`):
		fmt.Fprint(w, sample("4.6"))
	case strings.Contains(q, "duration"):
		fmt.Fprint(w, sample("0.25"))
	default:
		fmt.Fprint(w, sample("100.2"))
	}
}

func TestPrometheusOracle_Usage(t *testing.T) {
	t.Parallel()

	fake := &fakePrometheus{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	o, err := NewPrometheusOracle(PrometheusConfig{Address: srv.URL, BearerToken: "prom-token"})
	if err != nil {
		t.Fatalf("NewPrometheusOracle: %v", err)
	}

	end := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	w := Window{Start: end.Add(-24 * time.Hour), End: end}
	got, err := o.Usage(context.Background(), w)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}

	if got.RequestCount != 100 {
		t.Errorf("RequestCount = %d, want 100", got.RequestCount)
	}
	if got.ErrorCount != 5 {
		t.Errorf("ErrorCount = %d, want 5", got.ErrorCount)
	}
	if got.AverageLatency != 250*time.Millisecond {
		t.Errorf("AverageLatency = %v, want 250ms", got.AverageLatency)
	}
	if got.ResponseCodes["200"] != 95 || got.ResponseCodes["500"] != 5 {
		t.Errorf("ResponseCodes = %v, want 200:95 500:5", got.ResponseCodes)
	}
	if got.Window != w {
		t.Errorf("Window = %+v, want %+v", got.Window, w)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.queries) != 4 {
		t.Fatalf("issued %d queries, want 4", len(fake.queries))
	}
	for _, q := range fake.queries {
		if !strings.Contains(q, "[1d]") {
			t.Errorf("query %q does not use the window range [1d]", q)
		}
		if !strings.Contains(q, `provider="gemini"`) {
			t.Errorf("query %q is not scoped to the gemini provider", q)
		}
	}
	if fake.auth != "Bearer prom-token" {
		t.Errorf("Authorization = %q, want bearer token", fake.auth)
	}
}

func TestPrometheusOracle_DisabledQueries(t *testing.T) {
	t.Parallel()

	fake := &fakePrometheus{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	o, err := NewPrometheusOracle(PrometheusConfig{Address: srv.URL, LatencyQuery: "-", CodesQuery: "-"})
	if err != nil {
		t.Fatalf("NewPrometheusOracle: %v", err)
	}
	got, err := o.Usage(context.Background(), Window{Start: time.Now().Add(-time.Hour), End: time.Now()})
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if got.AverageLatency != 0 || got.ResponseCodes != nil {
		t.Errorf("disabled fields populated: %+v", got)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.queries) != 2 {
		t.Errorf("issued %d queries, want 2", len(fake.queries))
	}
}

func TestPrometheusOracle_Ping(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakePrometheus{})
	defer srv.Close()

	o, err := NewPrometheusOracle(PrometheusConfig{Address: srv.URL})
	if err != nil {
		t.Fatalf("NewPrometheusOracle: %v", err)
	}
	if err := o.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	srv.Close()
	if err := o.Ping(context.Background()); err == nil {
		t.Error("Ping against a closed server should fail")
	}
}

func TestPrometheusOracle_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"error","errorType":"bad_data","error":"parse error"}`)
	}))
	defer srv.Close()

	o, err := NewPrometheusOracle(PrometheusConfig{Address: srv.URL})
	if err != nil {
		t.Fatalf("NewPrometheusOracle: %v", err)
	}
	if _, err := o.Usage(context.Background(), Window{Start: time.Now().Add(-time.Hour), End: time.Now()}); err == nil {
		t.Error("expected error from failing server")
	}
}

func TestNewPrometheusOracle_RequiresAddress(t *testing.T) {
	t.Parallel()

	if _, err := NewPrometheusOracle(PrometheusConfig{}); !errors.Is(err, ErrNoAddress) {
		t.Errorf("err = %v, want ErrNoAddress", err)
	}
}

func TestPromRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{24 * time.Hour, "1d"},
		{90 * time.Minute, "1h30m"},
		{10 * time.Second, "1m"},
	}
	for _, tt := range tests {
		if got := promRange(tt.in); got != tt.want {
			t.Errorf("promRange(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
