package gateway

import (
	"net/http"

	"github.com/flemzord/storeguard/internal/provider"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"` // "ok" or "degraded"
	Upstream  bool                   `json:"upstream"`
	Providers []provider.EntryStatus `json:"providers"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// The gateway keeps answering with the local fallback when no provider is
// usable, so a degraded upstream is reported but still returns 200.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:    "ok",
			Upstream:  g.chat.UpstreamConfigured(),
			Providers: g.chat.UpstreamStatus(),
		}
		if resp.Providers == nil {
			resp.Providers = []provider.EntryStatus{}
		}

		healthy := 0
		for _, p := range resp.Providers {
			if p.State == provider.HealthHealthy {
				healthy++
			}
		}
		if !resp.Upstream || healthy == 0 {
			resp.Status = "degraded"
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
