package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	// Public storefront API, CORS-enabled.
	r.Group(func(r chi.Router) {
		r.Use(g.cors)
		r.Post("/api/store-chat", g.handleStoreChat())
		r.Options("/api/store-chat", handlePreflight)
		r.Get("/api/store-usage", g.handleStoreUsage())
		r.Options("/api/store-usage", handlePreflight)
	})

	r.Get("/health", g.handleHealth())

	// Admin endpoints, auth required. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(g.throttleAdmin)
			r.Use(authMiddleware(g.config.Auth, g.logger))
			r.Get("/status", g.handleStatus())
			if g.metrics != nil {
				r.Handle("/metrics", g.metrics.Handler())
			}
			r.Handle("/mcp", g.mcpHandler())
			r.Route("/api", func(r chi.Router) {
				r.Get("/security/events", g.handleListEvents())
				r.Delete("/security/events", g.handleClearEvents())
				r.Get("/security/events/stream", g.handleEventStream())
				r.Get("/usage", g.handleUsage())
				r.Post("/usage/test-connection", g.handleTestConnection())
				r.Get("/modules", g.handleGetAllModules())
				r.Get("/config", g.handleGetConfig())
				r.Post("/config/reload", g.handleReloadConfig())
			})
		})
	}

	return r
}
