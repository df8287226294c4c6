// Package quota tracks daily consumption of the upstream provider's
// request and token budget and decides when the chat gateway must fall
// back to canned answers instead of calling the provider.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrInvalidLimits is returned by Limits.Validate.
var ErrInvalidLimits = errors.New("invalid quota limits")

// Decision reasons.
const (
	ReasonRequestLimit = "Daily request limit approaching. Try again tomorrow."
	ReasonTokenLimit   = "Daily token limit approaching. Try again tomorrow."
)

// DefaultOracleTimeout bounds a single reconciliation query.
const DefaultOracleTimeout = 5 * time.Second

// Limits is the provider budget for one window. The gate closes once
// either counter reaches Threshold of its ceiling, leaving the rest as
// headroom for requests already in flight.
type Limits struct {
	MaxRequests int64         `yaml:"max_requests" json:"max_requests"`
	MaxTokens   int64         `yaml:"max_tokens" json:"max_tokens"`
	Window      time.Duration `yaml:"window" json:"window"`
	Threshold   float64       `yaml:"threshold" json:"threshold"`
}

// DefaultLimits mirrors the Gemini free tier.
func DefaultLimits() Limits {
	return Limits{
		MaxRequests: 1500,
		MaxTokens:   1_000_000,
		Window:      24 * time.Hour,
		Threshold:   0.9,
	}
}

// Validate checks that every field is in range.
func (l Limits) Validate() error {
	var errs []error
	if l.MaxRequests <= 0 {
		errs = append(errs, fmt.Errorf("%w: max_requests must be > 0", ErrInvalidLimits))
	}
	if l.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("%w: max_tokens must be > 0", ErrInvalidLimits))
	}
	if l.Window <= 0 {
		errs = append(errs, fmt.Errorf("%w: window must be > 0", ErrInvalidLimits))
	}
	if l.Threshold <= 0 || l.Threshold > 1 {
		errs = append(errs, fmt.Errorf("%w: threshold must be in (0, 1]", ErrInvalidLimits))
	}
	return errors.Join(errs...)
}

// UsageState is the process-wide counter for the current window.
type UsageState struct {
	RequestCount    int64     `json:"request_count"`
	TokenCount      int64     `json:"token_count"`
	WindowStartedAt time.Time `json:"window_started_at"`
}

// Decision is the result of CanProceed.
type Decision struct {
	Allowed bool
	Reason  string
}

// DataSource says where the reported counts come from.
type DataSource string

// Data sources.
const (
	SourceLocal    DataSource = "local"
	SourceExternal DataSource = "external"
	SourceHybrid   DataSource = "hybrid"
)

// Stats is a point-in-time view of the tracker.
type Stats struct {
	UsageState
	Limits         Limits     `json:"limits"`
	RequestPercent float64    `json:"request_percent"`
	TokenPercent   float64    `json:"token_percent"`
	NextReset      time.Time  `json:"next_reset"`
	DataSource     DataSource `json:"data_source"`
}

// EnhancedStats adds the oracle's view to Stats. External is nil when the
// oracle is unconfigured or failed.
type EnhancedStats struct {
	Stats
	External       *ExternalUsage `json:"external,omitempty"`
	ErrorRate      float64        `json:"error_rate"`
	AverageLatency time.Duration  `json:"average_latency"`
	LastSync       time.Time      `json:"last_sync,omitzero"`
}

// ConnectionStatus is the result of TestConnection.
type ConnectionStatus struct {
	Configured bool   `json:"configured"`
	Connected  bool   `json:"connected"`
	Error      string `json:"error,omitempty"`
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Limits Limits
	// Oracle defaults to NopOracle.
	Oracle UsageOracle
	// OracleTimeout defaults to DefaultOracleTimeout.
	OracleTimeout time.Duration
	Logger        *slog.Logger
	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Tracker owns the single UsageState. It is safe for concurrent use; the
// oracle is never queried while the lock is held.
type Tracker struct {
	oracleTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	limits   Limits
	oracle   UsageOracle
	state    UsageState
	lastSync time.Time
}

// NewTracker creates a tracker whose first window starts now.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Oracle == nil {
		cfg.Oracle = NopOracle{}
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = DefaultOracleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		oracleTimeout: cfg.OracleTimeout,
		logger:        cfg.Logger,
		now:           cfg.Now,
		limits:        cfg.Limits,
		oracle:        cfg.Oracle,
		state:         UsageState{WindowStartedAt: cfg.Now()},
	}
}

// SetLimits replaces the limits. Counters are kept.
func (t *Tracker) SetLimits(l Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits = l
}

// SetOracle replaces the oracle. A nil oracle restores NopOracle.
func (t *Tracker) SetOracle(o UsageOracle) {
	if o == nil {
		o = NopOracle{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.oracle = o
}

// resetIfExpiredLocked starts a new window once the current one has fully
// elapsed. Callers hold t.mu.
func (t *Tracker) resetIfExpiredLocked(now time.Time) {
	if now.Sub(t.state.WindowStartedAt) >= t.limits.Window {
		t.state = UsageState{WindowStartedAt: now}
	}
}

// CanProceed reports whether a real provider call may be made.
func (t *Tracker) CanProceed() Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfExpiredLocked(t.now())
	if float64(t.state.RequestCount) >= float64(t.limits.MaxRequests)*t.limits.Threshold {
		return Decision{Reason: ReasonRequestLimit}
	}
	if float64(t.state.TokenCount) >= float64(t.limits.MaxTokens)*t.limits.Threshold {
		return Decision{Reason: ReasonTokenLimit}
	}
	return Decision{Allowed: true}
}

// RecordUsage counts one billed provider call and the tokens it consumed.
func (t *Tracker) RecordUsage(tokens int) {
	t.mu.Lock()
	t.resetIfExpiredLocked(t.now())
	t.state.RequestCount++
	if tokens > 0 {
		t.state.TokenCount += int64(tokens)
	}
	st := t.state
	limits := t.limits
	t.mu.Unlock()

	t.logger.Debug("provider usage recorded",
		"requests", st.RequestCount, "max_requests", limits.MaxRequests,
		"tokens", st.TokenCount, "max_tokens", limits.MaxTokens)
}

// Stats returns the local view.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfExpiredLocked(t.now())
	return t.statsLocked(SourceLocal)
}

func (t *Tracker) statsLocked(src DataSource) Stats {
	return Stats{
		UsageState:     t.state,
		Limits:         t.limits,
		RequestPercent: percent(t.state.RequestCount, t.limits.MaxRequests),
		TokenPercent:   percent(t.state.TokenCount, t.limits.MaxTokens),
		NextReset:      t.state.WindowStartedAt.Add(t.limits.Window),
		DataSource:     src,
	}
}

func percent(n, of int64) float64 {
	if of <= 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

// Reconcile queries the oracle for the trailing window and raises the
// local request count to the external one when it is higher. Counts are
// never lowered, and a correction is dropped if the local window rolled
// over while the query was in flight. Oracle failures degrade to local.
func (t *Tracker) Reconcile(ctx context.Context) Stats {
	return t.reconcile(ctx).Stats
}

// EnhancedStats is Reconcile plus the oracle's error rate and latency.
func (t *Tracker) EnhancedStats(ctx context.Context) EnhancedStats {
	return t.reconcile(ctx)
}

func (t *Tracker) reconcile(ctx context.Context) EnhancedStats {
	t.mu.Lock()
	now := t.now()
	t.resetIfExpiredLocked(now)
	windowStart := t.state.WindowStartedAt
	oracle := t.oracle
	w := Window{Start: now.Add(-t.limits.Window), End: now}
	t.mu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, t.oracleTimeout)
	ext, err := oracle.Usage(qctx, w)
	cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfExpiredLocked(t.now())

	if err != nil {
		if !errors.Is(err, ErrOracleNotConfigured) {
			t.logger.Warn("usage oracle query failed, using local counts", "error", err)
		}
		return EnhancedStats{Stats: t.statsLocked(SourceLocal), LastSync: t.lastSync}
	}

	src := SourceExternal
	if t.state.WindowStartedAt.Equal(windowStart) && ext.RequestCount > t.state.RequestCount {
		t.logger.Info("raising local request count from usage oracle",
			"local", t.state.RequestCount, "external", ext.RequestCount)
		t.state.RequestCount = ext.RequestCount
		src = SourceHybrid
	}
	t.lastSync = t.now()

	return EnhancedStats{
		Stats:          t.statsLocked(src),
		External:       &ext,
		ErrorRate:      ext.ErrorRate(),
		AverageLatency: ext.AverageLatency,
		LastSync:       t.lastSync,
	}
}

// TestConnection reports whether the oracle is configured and reachable.
func (t *Tracker) TestConnection(ctx context.Context) ConnectionStatus {
	t.mu.Lock()
	oracle := t.oracle
	t.mu.Unlock()

	if _, ok := oracle.(NopOracle); ok {
		return ConnectionStatus{Error: ErrOracleNotConfigured.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, t.oracleTimeout)
	defer cancel()

	var err error
	if p, ok := oracle.(Pinger); ok {
		err = p.Ping(ctx)
	} else {
		now := t.now()
		_, err = oracle.Usage(ctx, Window{Start: now.Add(-time.Minute), End: now})
	}
	if err != nil {
		return ConnectionStatus{Configured: true, Error: err.Error()}
	}
	return ConnectionStatus{Configured: true, Connected: true}
}
