package quota

import (
	"context"
	"errors"
	"time"
)

// ErrOracleNotConfigured is returned by NopOracle. The tracker treats it
// as "local accounting only" rather than as a failure.
var ErrOracleNotConfigured = errors.New("usage oracle not configured")

// Window is a closed time range queried from an oracle.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// ExternalUsage is the aggregate an oracle reports for a window.
type ExternalUsage struct {
	RequestCount   int64            `json:"request_count"`
	ErrorCount     int64            `json:"error_count"`
	AverageLatency time.Duration    `json:"average_latency"`
	ResponseCodes  map[string]int64 `json:"response_codes,omitempty"`
	Window         Window           `json:"window"`
}

// ErrorRate returns errors as a percentage of requests, or 0 when no
// requests were observed.
func (u ExternalUsage) ErrorRate() float64 {
	if u.RequestCount <= 0 {
		return 0
	}
	return float64(u.ErrorCount) / float64(u.RequestCount) * 100
}

// UsageOracle reports provider usage observed outside this process.
type UsageOracle interface {
	Usage(ctx context.Context, w Window) (ExternalUsage, error)
}

// Pinger is implemented by oracles that can check connectivity cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NopOracle is the default oracle. It is never configured.
type NopOracle struct{}

// Usage always returns ErrOracleNotConfigured.
func (NopOracle) Usage(context.Context, Window) (ExternalUsage, error) {
	return ExternalUsage{}, ErrOracleNotConfigured
}
