package reload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/storeguard/internal/config"
	"github.com/flemzord/storeguard/internal/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type reloadingModule struct {
	maxHistory int
	service    bool
}

func (m *reloadingModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "guard.test",
		New: func() core.Module { return &reloadingModule{} },
	}
}

func (m *reloadingModule) Reload(ctx *core.AppContext) error {
	_, m.service = ctx.Service("shared.service")
	node, ok := ctx.ModuleConfig("guard.test")
	if !ok {
		return nil
	}
	var cfg struct {
		MaxHistory int `yaml:"max_history"`
	}
	if err := node.Decode(&cfg); err != nil {
		return err
	}
	m.maxHistory = cfg.MaxHistory
	return nil
}

func newTestHandler(t *testing.T, configPath string) (*Handler, *core.App) {
	t.Helper()
	logger := testLogger()
	appCtx := core.NewAppContext(logger, t.TempDir())
	appCtx.RegisterService("shared.service", struct{}{})
	a := core.NewApp(appCtx)
	return NewHandler(a, appCtx, logger, configPath), a
}

func TestHandler_ConfigPath(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, "/etc/storeguard.yaml")
	if got := h.ConfigPath(); got != "/etc/storeguard.yaml" {
		t.Errorf("ConfigPath() = %q, want %q", got, "/etc/storeguard.yaml")
	}
}

func TestHandler_HandleReload_FileNotFound(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, "")
	if err := h.HandleReload(context.Background(), "/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestHandler_HandleReload_InvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("modules: {}"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	h, _ := newTestHandler(t, path)
	if err := h.Reload(context.Background()); err == nil {
		t.Error("expected validation error")
	}
	if !h.LastReload().IsZero() {
		t.Error("LastReload should stay zero after a failed reload")
	}
}

func TestHandler_HandleReload_UnknownModule(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ok.yaml")
	content := "version: \"1\"\nmodules:\n  fake.mod: {}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	h, _ := newTestHandler(t, path)
	if err := h.HandleReload(context.Background(), path); err == nil {
		t.Error("expected validation error for unknown module")
	}
}

func TestHandler_HandleReloadFromConfig_CancelledContext(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.HandleReloadFromConfig(ctx, &config.Config{Version: "1"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestHandler_HandleReloadFromConfig_PassesModuleConfig(t *testing.T) {
	t.Parallel()

	h, a := newTestHandler(t, "")
	mod := &reloadingModule{}
	a.AppendModule("guard.test", mod)

	cfg := &config.Config{Version: "1"}
	if err := yaml.Unmarshal([]byte("modules:\n  guard.test:\n    max_history: 4\n"), cfg); err != nil {
		t.Fatal(err)
	}

	if err := h.HandleReloadFromConfig(context.Background(), cfg); err != nil {
		t.Fatalf("HandleReloadFromConfig: %v", err)
	}
	if mod.maxHistory != 4 {
		t.Errorf("maxHistory = %d, want 4", mod.maxHistory)
	}
	if !mod.service {
		t.Error("reloaded module should still see root services")
	}
	if h.LastReload().IsZero() {
		t.Error("LastReload should be set after a successful reload")
	}
}
