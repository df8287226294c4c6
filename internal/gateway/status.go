package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/storeguard/internal/provider"
	"github.com/flemzord/storeguard/internal/quota"
	"github.com/flemzord/storeguard/internal/security"
	"github.com/flemzord/storeguard/internal/telemetry"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime         int64                      `json:"uptime_seconds"`
	Metrics        *telemetry.Snapshot        `json:"metrics,omitempty"`
	Providers      []provider.EntryStatus     `json:"providers"`
	Quota          quota.Stats                `json:"quota"`
	Events         map[security.EventType]int `json:"events"`
	TrackedKeys    int                        `json:"rate_limit_keys"`
	ActiveSenders  int                        `json:"active_senders"`
	LastReloadedAt *time.Time                 `json:"last_reloaded_at,omitempty"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:        int64(g.clock().Sub(g.startedAt).Seconds()),
			Providers:     g.chat.UpstreamStatus(),
			Quota:         g.chat.Quota().Stats(),
			Events:        g.chat.Events().Counts(),
			TrackedKeys:   g.chat.Limiter().Len(),
			ActiveSenders: g.chat.Activity().Len(),
		}
		if g.metrics != nil {
			snap := g.metrics.Snapshot()
			resp.Metrics = &snap
		}
		if g.reloader != nil {
			if at := g.reloader.LastReload(); !at.IsZero() {
				resp.LastReloadedAt = &at
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
