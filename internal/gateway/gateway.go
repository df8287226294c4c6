// Package gateway exposes the storefront chat and usage endpoints together
// with the operator API (status, metrics, security events, usage, MCP).
// It binds to loopback by default and follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/storeguard/internal/chat"
	"github.com/flemzord/storeguard/internal/core"
	"github.com/flemzord/storeguard/internal/reload"
	"github.com/flemzord/storeguard/internal/security"
	"github.com/flemzord/storeguard/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// ErrChatUnavailable is returned by Start when no chat pipeline is registered.
var ErrChatUnavailable = errors.New("gateway: chat.gateway service not registered (is guard.chat configured?)")

func init() {
	core.RegisterModule(&Gateway{})
}

var (
	_ core.Module       = (*Gateway)(nil)
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Gateway is the HTTP gateway module. It is a leaf module: nothing
// imports it, and everything it serves is resolved from the service
// registry at Start.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	now       func() time.Time

	// Resolved at Start() via service registry.
	chat     *chat.Gateway
	metrics  *telemetry.Metrics
	redactor *security.Redactor
	reloader *reload.Handler
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	if g.config.Auth.BearerToken != "" {
		if store, ok := core.ServiceAs[*security.CredentialStore](ctx, security.CredentialServiceName); ok {
			store.Set("gateway.http.bearer_token", g.config.Auth.BearerToken)
		}
	}
	if g.config.Auth.BasicPass != "" {
		if store, ok := core.ServiceAs[*security.CredentialStore](ctx, security.CredentialServiceName); ok {
			store.Set("gateway.http.basic_pass", g.config.Auth.BasicPass)
		}
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	if err := g.resolve(); err != nil {
		return err
	}

	g.startedAt = g.clock()
	if !g.config.Auth.IsConfigured() {
		g.logger.Warn("no admin auth configured, operator API is not mounted")
	}

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// resolve binds registry services. Only the chat pipeline is required.
func (g *Gateway) resolve() error {
	if g.chat == nil {
		gw, ok := core.ServiceAs[*chat.Gateway](g.appCtx, chat.ServiceName)
		if !ok {
			return ErrChatUnavailable
		}
		g.chat = gw
	}
	if g.metrics == nil {
		g.metrics, _ = core.ServiceAs[*telemetry.Metrics](g.appCtx, telemetry.MetricsServiceName)
	}
	if g.redactor == nil {
		g.redactor, _ = core.ServiceAs[*security.Redactor](g.appCtx, security.RedactorServiceName)
	}
	if g.reloader == nil {
		g.reloader, _ = core.ServiceAs[*reload.Handler](g.appCtx, reload.ServiceName)
	}
	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

func (g *Gateway) clock() time.Time {
	if g.now != nil {
		return g.now()
	}
	return time.Now()
}
