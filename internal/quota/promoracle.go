package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// windowPlaceholder is replaced with the PromQL range of the queried window.
const windowPlaceholder = "{{window}}"

// Default PromQL templates. They read the provider metrics exported by
// storeguard itself, so a Prometheus server scraping every instance
// yields the fleet-wide usage. The budget in Limits is Gemini's, so only
// the gemini provider counts; OpenAI failover traffic is billed elsewhere.
// Requests include failed attempts because ErrorRate divides by them.
const (
	DefaultRequestsQuery = `sum(increase(storeguard_provider_requests_total{provider="gemini"}[{{window}}]))`
	DefaultErrorsQuery   = `sum(increase(storeguard_provider_requests_total{provider="gemini",outcome!="ok"}[{{window}}]))`
	DefaultLatencyQuery  = `sum(rate(storeguard_provider_request_duration_seconds_sum{provider="gemini"}[{{window}}])) / sum(rate(storeguard_provider_request_duration_seconds_count{provider="gemini"}[{{window}}]))`
	DefaultCodesQuery    = `sum by (code) (increase(storeguard_provider_requests_total{provider="gemini"}[{{window}}]))`
)

// ErrNoAddress is returned when a PrometheusOracle has no server address.
var ErrNoAddress = errors.New("prometheus oracle: address is required")

// PrometheusConfig configures a PrometheusOracle. Empty queries take the
// defaults. LatencyQuery and CodesQuery can be disabled with "-".
type PrometheusConfig struct {
	Address       string `yaml:"address"`
	BearerToken   string `yaml:"bearer_token"`
	RequestsQuery string `yaml:"requests_query"`
	ErrorsQuery   string `yaml:"errors_query"`
	LatencyQuery  string `yaml:"latency_query"`
	CodesQuery    string `yaml:"codes_query"`
}

// PrometheusOracle is a UsageOracle backed by the Prometheus HTTP API.
type PrometheusOracle struct {
	api v1.API
	cfg PrometheusConfig
}

var (
	_ UsageOracle = (*PrometheusOracle)(nil)
	_ Pinger      = (*PrometheusOracle)(nil)
)

// NewPrometheusOracle creates an oracle querying cfg.Address.
func NewPrometheusOracle(cfg PrometheusConfig) (*PrometheusOracle, error) {
	if cfg.Address == "" {
		return nil, ErrNoAddress
	}
	setDefault := func(q *string, def string) {
		if *q == "" {
			*q = def
		}
	}
	setDefault(&cfg.RequestsQuery, DefaultRequestsQuery)
	setDefault(&cfg.ErrorsQuery, DefaultErrorsQuery)
	setDefault(&cfg.LatencyQuery, DefaultLatencyQuery)
	setDefault(&cfg.CodesQuery, DefaultCodesQuery)

	rt := api.DefaultRoundTripper
	if cfg.BearerToken != "" {
		rt = bearerRoundTripper{token: cfg.BearerToken, next: rt}
	}
	client, err := api.NewClient(api.Config{Address: cfg.Address, RoundTripper: rt})
	if err != nil {
		return nil, fmt.Errorf("prometheus oracle: %w", err)
	}
	return &PrometheusOracle{api: v1.NewAPI(client), cfg: cfg}, nil
}

// Usage runs the configured queries at w.End over the range of w.
func (o *PrometheusOracle) Usage(ctx context.Context, w Window) (ExternalUsage, error) {
	rng := promRange(w.Duration())
	out := ExternalUsage{Window: w}

	requests, err := o.scalar(ctx, o.cfg.RequestsQuery, rng, w.End)
	if err != nil {
		return ExternalUsage{}, fmt.Errorf("requests query: %w", err)
	}
	out.RequestCount = int64(math.Round(requests))

	errs, err := o.scalar(ctx, o.cfg.ErrorsQuery, rng, w.End)
	if err != nil {
		return ExternalUsage{}, fmt.Errorf("errors query: %w", err)
	}
	out.ErrorCount = int64(math.Round(errs))

	if o.cfg.LatencyQuery != "-" {
		secs, err := o.scalar(ctx, o.cfg.LatencyQuery, rng, w.End)
		if err != nil {
			return ExternalUsage{}, fmt.Errorf("latency query: %w", err)
		}
		if !math.IsNaN(secs) && !math.IsInf(secs, 0) {
			out.AverageLatency = time.Duration(secs * float64(time.Second))
		}
	}

	if o.cfg.CodesQuery != "-" {
		codes, err := o.byLabel(ctx, o.cfg.CodesQuery, rng, w.End, "code")
		if err != nil {
			return ExternalUsage{}, fmt.Errorf("codes query: %w", err)
		}
		out.ResponseCodes = codes
	}
	return out, nil
}

// Ping checks that the server answers its build-info endpoint.
func (o *PrometheusOracle) Ping(ctx context.Context) error {
	if _, err := o.api.Buildinfo(ctx); err != nil {
		return fmt.Errorf("prometheus oracle: %w", err)
	}
	return nil
}

func (o *PrometheusOracle) query(ctx context.Context, tmpl, rng string, at time.Time) (model.Value, error) {
	q := strings.ReplaceAll(tmpl, windowPlaceholder, rng)
	val, _, err := o.api.Query(ctx, q, at)
	if err != nil {
		return nil, err
	}
	return val, nil
}

// scalar returns the single value of a query, or 0 for an empty result.
func (o *PrometheusOracle) scalar(ctx context.Context, tmpl, rng string, at time.Time) (float64, error) {
	val, err := o.query(ctx, tmpl, rng, at)
	if err != nil {
		return 0, err
	}
	switch v := val.(type) {
	case *model.Scalar:
		return float64(v.Value), nil
	case model.Vector:
		if len(v) == 0 {
			return 0, nil
		}
		return float64(v[0].Value), nil
	default:
		return 0, fmt.Errorf("unexpected result type %s", val.Type())
	}
}

func (o *PrometheusOracle) byLabel(ctx context.Context, tmpl, rng string, at time.Time, label string) (map[string]int64, error) {
	val, err := o.query(ctx, tmpl, rng, at)
	if err != nil {
		return nil, err
	}
	vec, ok := val.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s", val.Type())
	}
	out := make(map[string]int64, len(vec))
	for _, s := range vec {
		out[string(s.Metric[model.LabelName(label)])] += int64(math.Round(float64(s.Value)))
	}
	return out, nil
}

// promRange renders d as a PromQL range, at least one minute.
func promRange(d time.Duration) string {
	d = max(d.Truncate(time.Second), time.Minute)
	return model.Duration(d).String()
}

type bearerRoundTripper struct {
	token string
	next  http.RoundTripper
}

func (b bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(req)
}
