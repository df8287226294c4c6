package gateway

import (
	"net/http"
	"strconv"

	"github.com/flemzord/storeguard/internal/config"
	"github.com/flemzord/storeguard/internal/core"
	"github.com/flemzord/storeguard/internal/security"
)

// eventsResponse is the JSON response for GET /api/security/events.
type eventsResponse struct {
	Events   []security.SecurityEvent   `json:"events"`
	Total    int                        `json:"total"`
	Capacity int                        `json:"capacity"`
	Counts   map[security.EventType]int `json:"counts"`
}

// parseEventFilter reads type, severity, ip and limit from the query.
func parseEventFilter(r *http.Request) (security.EventFilter, string) {
	q := r.URL.Query()
	f := security.EventFilter{
		Type:      security.EventType(q.Get("type")),
		Severity:  security.Severity(q.Get("severity")),
		SourceKey: q.Get("ip"),
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, "unknown event type"
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return f, "unknown severity"
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, "limit must be a positive integer"
		}
		f.Limit = n
	}
	return f, ""
}

// handleListEvents returns retained security events, newest last.
func (g *Gateway) handleListEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, problem := parseEventFilter(r)
		if problem != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": problem})
			return
		}
		elog := g.chat.Events()
		events := elog.Query(f)
		if events == nil {
			events = []security.SecurityEvent{}
		}
		writeJSON(w, http.StatusOK, eventsResponse{
			Events:   events,
			Total:    elog.Len(),
			Capacity: elog.Capacity(),
			Counts:   elog.Counts(),
		})
	}
}

// handleClearEvents empties the event log.
func (g *Gateway) handleClearEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		g.chat.Events().Clear()
		g.logger.Info("security event log cleared")
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleUsage returns the tracker's stats merged with the oracle's view.
func (g *Gateway) handleUsage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, g.chat.Quota().EnhancedStats(r.Context()))
	}
}

// handleTestConnection probes the usage oracle.
func (g *Gateway) handleTestConnection() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, g.chat.Quota().TestConnection(r.Context()))
	}
}

// moduleJSON is a serializable module info snapshot.
type moduleJSON struct {
	ID        string   `json:"id"`
	Namespace string   `json:"namespace"`
	Name      string   `json:"name"`
	Hooks     []string `json:"hooks"`
}

// handleGetAllModules lists all compiled modules (for /api/modules).
func (g *Gateway) handleGetAllModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mods := core.GetModules()
		out := make([]moduleJSON, 0, len(mods))
		for _, m := range mods {
			out = append(out, moduleJSON{
				ID:        string(m.ID),
				Namespace: m.ID.Namespace(),
				Name:      m.ID.Name(),
				Hooks:     core.Hooks(m.New()),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleGetConfig returns the on-disk config with secrets redacted.
func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.reloader == nil || g.reloader.ConfigPath() == "" {
			http.Error(w, "config path not set", http.StatusServiceUnavailable)
			return
		}

		cfg, err := config.Load(g.reloader.ConfigPath())
		if err != nil {
			g.logger.Error("loading config for display failed", "error", err)
			http.Error(w, "failed to load config", http.StatusInternalServerError)
			return
		}

		generic, err := configView(cfg)
		if err != nil {
			http.Error(w, "failed to serialize config", http.StatusInternalServerError)
			return
		}
		if g.redactor != nil {
			g.redactor.RedactMap(generic)
		} else {
			security.NewRedactor().RedactMap(generic)
		}

		writeJSON(w, http.StatusOK, generic)
	}
}

// configView converts cfg to plain maps so it can be redacted and encoded.
func configView(cfg *config.Config) (map[string]any, error) {
	modules := make(map[string]any, len(cfg.Modules))
	for id, node := range cfg.Modules {
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		modules[id] = v
	}
	return map[string]any{
		"version": cfg.Version,
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
		"tracing": map[string]any{
			"endpoint":     cfg.Tracing.Endpoint,
			"insecure":     cfg.Tracing.Insecure,
			"sample_ratio": cfg.Tracing.SampleRatio,
			"service_name": cfg.Tracing.ServiceName,
		},
		"modules": modules,
	}, nil
}

// handleReloadConfig triggers a hot-reload of the configuration.
func (g *Gateway) handleReloadConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.reloader == nil {
			http.Error(w, "reload not available", http.StatusServiceUnavailable)
			return
		}

		if err := g.reloader.Reload(r.Context()); err != nil {
			g.logger.Error("config reload failed", "error", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	}
}
