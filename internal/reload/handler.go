package reload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/storeguard/internal/config"
	"github.com/flemzord/storeguard/internal/core"
)

// ServiceName is the service registry key of *Handler.
const ServiceName = "reload.handler"

// Handler reloads the configuration file and hands the new module sections
// to every core.Reloader. Reloads are serialized.
type Handler struct {
	app        *core.App
	appCtx     *core.AppContext
	logger     *slog.Logger
	configPath string

	mu         sync.Mutex
	lastReload time.Time
}

// NewHandler creates a reload handler. appCtx is the root context the
// modules were loaded with, so reloaded modules keep seeing the same
// services.
func NewHandler(app *core.App, appCtx *core.AppContext, logger *slog.Logger, configPath string) *Handler {
	return &Handler{
		app:        app,
		appCtx:     appCtx,
		logger:     logger,
		configPath: configPath,
	}
}

// ConfigPath returns the file this handler reloads from.
func (h *Handler) ConfigPath() string { return h.configPath }

// LastReload returns when the last successful reload finished.
func (h *Handler) LastReload() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReload
}

// Reload reloads from ConfigPath.
func (h *Handler) Reload(ctx context.Context) error {
	return h.HandleReload(ctx, h.configPath)
}

// HandleReload loads a fresh config from configPath, validates it, and
// calls Reload on all modules that implement core.Reloader.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.HandleReloadFromConfig(ctx, cfg)
}

// HandleReloadFromConfig reloads modules from an already validated config.
func (h *Handler) HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.app.ReloadModules(h.appCtx.WithModuleConfigs(cfg.Modules)); err != nil {
		return fmt.Errorf("reloading modules: %w", err)
	}
	h.lastReload = time.Now()
	h.logger.Info("configuration reloaded")
	return nil
}

// Watch reloads on every event from w until ctx is done. Failed reloads
// are logged and the running configuration is kept.
func (h *Handler) Watch(ctx context.Context, w *Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.Events():
			h.logger.Info("config file changed, reloading", "path", ev.ConfigPath)
			if err := h.HandleReload(ctx, ev.ConfigPath); err != nil {
				h.logger.Error("config reload failed, keeping running configuration", "error", err)
			}
		}
	}
}
