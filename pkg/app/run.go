// Package app provides the shared entry point for the storeguard binary,
// used both by the foreground "start" command and the system service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/flemzord/storeguard/internal/config"
	"github.com/flemzord/storeguard/internal/core"
	"github.com/flemzord/storeguard/internal/reload"
	"github.com/flemzord/storeguard/internal/security"
	"github.com/flemzord/storeguard/internal/telemetry"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// EnvFile is loaded into the environment before the config is expanded.
	// If empty, a .env next to the config file is loaded when present.
	EnvFile string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string
}

// Run loads configuration, starts all modules, and blocks until ctx is
// cancelled or a shutdown signal is received. SIGHUP and file-change
// events trigger a live configuration reload.
func Run(ctx context.Context, params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	if err := LoadEnv(params.EnvFile, cfgPath); err != nil {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	credStore := security.NewCredentialStore()
	redactor := security.NewRedactor()
	credStore.Bind(redactor)

	logHandler, err := security.NewLogHandler(os.Stderr, cfg.Log.Format, cfg.Log.Level, redactor)
	if err != nil {
		return err
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(security.CredentialServiceName, credStore)
	appCtx.RegisterService(security.RedactorServiceName, redactor)
	appCtx.RegisterService(telemetry.MetricsServiceName, telemetry.NewMetrics())

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return err
	}

	// Registered before Start so the gateway can resolve it.
	handler := reload.NewHandler(application, appCtx, logger, cfgPath)
	appCtx.RegisterService(reload.ServiceName, handler)

	if err := application.Start(); err != nil {
		return err
	}
	redactor.SyncCredentials(credStore)

	logger.Info("storeguard started",
		"version", params.Version,
		"commit", params.Commit,
		"config", cfgPath,
		"modules", len(ids),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	watcher := reload.NewWatcher(reload.WatcherConfig{ConfigPath: cfgPath})
	watcher.Start(watchCtx)
	defer watcher.Stop()
	go handler.Watch(watchCtx, watcher)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown requested")
			application.Stop()
			logger.Info("shutdown complete")
			return nil
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				if err := handler.Reload(watchCtx); err != nil {
					logger.Error("reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutdown signal received", "signal", sig.String())
			application.Stop()
			logger.Info("shutdown complete")
			return nil
		}
	}
}

// Check loads and validates the configuration at path, then loads and
// provisions every configured module without starting any. It returns
// the resolved module IDs in startup order.
func Check(path string) ([]string, error) {
	if err := LoadEnv("", path); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	appCtx := core.NewAppContext(logger, DefaultDataDir()).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(security.CredentialServiceName, security.NewCredentialStore())

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return nil, err
	}
	application.Stop()
	return ids, nil
}

// LoadEnv loads envFile into the process environment, or the optional
// .env beside cfgPath when envFile is empty. Variables already set are
// never overwritten.
func LoadEnv(envFile, cfgPath string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", envFile, err)
		}
		return nil
	}
	if cfgPath == "" {
		return nil
	}
	path := filepath.Join(filepath.Dir(cfgPath), ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/storeguard/storeguard.yaml, then
// ~/.config/storeguard/storeguard.yaml, then ./storeguard.yaml.
func ResolveConfigPath() (string, error) {
	candidates := ConfigCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// ConfigCandidates lists the config locations ResolveConfigPath checks.
func ConfigCandidates() []string {
	var candidates []string
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "storeguard", "storeguard.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "storeguard", "storeguard.yaml"))
	}
	return append(candidates, "storeguard.yaml")
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/storeguard if set, otherwise ~/.local/share/storeguard.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "storeguard")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "storeguard")
}
