package telemetry

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/flemzord/storeguard/internal/provider"
	"github.com/flemzord/storeguard/internal/quota"
	"github.com/flemzord/storeguard/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServiceName is the service registry key of *Metrics.
const MetricsServiceName = "telemetry.metrics"

const namespace = "storeguard"

// Metrics owns a private Prometheus registry and the pipeline collectors.
// It also keeps a few atomic totals for the JSON status endpoint.
type Metrics struct {
	registry *prometheus.Registry

	chatDecisions    *prometheus.CounterVec
	chatDuration     *prometheus.HistogramVec
	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	securityEvents   *prometheus.CounterVec

	quotaWatched atomic.Bool

	answered  atomic.Int64
	fallbacks atomic.Int64
	rejected  atomic.Int64
	upstream  atomic.Int64
	failures  atomic.Int64
}

// NewMetrics creates the collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chatDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_decisions_total",
			Help:      "Chat requests by pipeline outcome.",
		}, []string{"outcome"}),
		chatDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_duration_seconds",
			Help:      "Time spent evaluating and answering a chat request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Upstream completion attempts by provider, outcome and HTTP status.",
		}, []string{"provider", "outcome", "code"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Upstream completion latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"provider"}),
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Security events recorded, by type and severity.",
		}, []string{"type", "severity"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.chatDecisions,
		m.chatDuration,
		m.providerRequests,
		m.providerDuration,
		m.securityEvents,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveChat records one pipeline decision. It satisfies chat.Recorder.
func (m *Metrics) ObserveChat(outcome string, elapsed time.Duration) {
	m.chatDecisions.WithLabelValues(outcome).Inc()
	m.chatDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	switch outcome {
	case "answered":
		m.answered.Add(1)
	case "fallback":
		m.fallbacks.Add(1)
	default:
		m.rejected.Add(1)
	}
}

// ObserveProvider records one upstream attempt. It has the shape of
// provider.Observer.
func (m *Metrics) ObserveProvider(name string, elapsed time.Duration, err error) {
	code := "none"
	if c := provider.StatusCode(err); c != 0 {
		code = strconv.Itoa(c)
	} else if err == nil {
		code = "200"
	}
	m.providerRequests.WithLabelValues(name, provider.Outcome(err), code).Inc()
	m.providerDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	m.upstream.Add(1)
	if err != nil {
		m.failures.Add(1)
	}
}

// ObserveEvent counts a recorded security event. It has the shape of
// security.EventLogConfig.OnEvent.
func (m *Metrics) ObserveEvent(e security.SecurityEvent) {
	m.securityEvents.WithLabelValues(string(e.Type), string(e.Severity)).Inc()
}

// WatchQuota exports the tracker's counters as gauges. Only the first call
// registers; later calls are ignored.
func (m *Metrics) WatchQuota(stats func() quota.Stats) {
	if !m.quotaWatched.CompareAndSwap(false, true) {
		return
	}
	gauge := func(name, help string, f func(quota.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      name,
			Help:      help,
		}, func() float64 { return f(stats()) })
	}
	m.registry.MustRegister(
		gauge("requests", "Provider requests counted in the current quota window.",
			func(s quota.Stats) float64 { return float64(s.RequestCount) }),
		gauge("tokens", "Provider tokens counted in the current quota window.",
			func(s quota.Stats) float64 { return float64(s.TokenCount) }),
		gauge("request_ratio", "Fraction of the daily request ceiling used.",
			func(s quota.Stats) float64 { return s.RequestPercent / 100 }),
		gauge("token_ratio", "Fraction of the daily token ceiling used.",
			func(s quota.Stats) float64 { return s.TokenPercent / 100 }),
	)
}

// Snapshot returns the totals shown on /status.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Answered:         m.answered.Load(),
		Fallbacks:        m.fallbacks.Load(),
		Rejected:         m.rejected.Load(),
		UpstreamAttempts: m.upstream.Load(),
		UpstreamFailures: m.failures.Load(),
	}
}

// Snapshot is a serializable point-in-time view of the totals.
type Snapshot struct {
	Answered         int64 `json:"answered"`
	Fallbacks        int64 `json:"fallbacks"`
	Rejected         int64 `json:"rejected"`
	UpstreamAttempts int64 `json:"upstream_attempts"`
	UpstreamFailures int64 `json:"upstream_failures"`
}
