package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("STOREGUARD_TEST_KEY", "AIza-test")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"set variable", "key: ${STOREGUARD_TEST_KEY}", "key: AIza-test"},
		{"default used", "bind: ${STOREGUARD_TEST_UNSET:-127.0.0.1:8080}", "bind: 127.0.0.1:8080"},
		{"env wins over default", "key: ${STOREGUARD_TEST_KEY:-other}", "key: AIza-test"},
		{"empty default", "key: ${STOREGUARD_TEST_UNSET:-}", "key: "},
		{"no variables", "plain: value", "plain: value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnv([]byte(tt.in))
			if err != nil {
				t.Fatalf("expandEnv: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_Unresolved(t *testing.T) {
	_, err := expandEnv([]byte("a: ${STOREGUARD_MISSING_ONE}\nb: ${STOREGUARD_MISSING_TWO}"))
	if !errors.Is(err, ErrUnresolvedVariable) {
		t.Fatalf("expandEnv error = %v, want %v", err, ErrUnresolvedVariable)
	}
	for _, name := range []string{"STOREGUARD_MISSING_ONE", "STOREGUARD_MISSING_TWO"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error should mention %s: %v", name, err)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("STOREGUARD_TEST_BIND", "0.0.0.0:9000")

	dir := t.TempDir()
	path := filepath.Join(dir, "storeguard.yaml")
	content := `version: "1"
log:
  level: debug
  format: json
modules:
  gateway.http:
    bind: ${STOREGUARD_TEST_BIND}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != "1" {
		t.Errorf("Version = %q, want 1", cfg.Version)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want debug/json", cfg.Log)
	}
	node, ok := cfg.Modules["gateway.http"]
	if !ok {
		t.Fatal("gateway.http module missing")
	}
	var gw struct {
		Bind string `yaml:"bind"`
	}
	if err := node.Decode(&gw); err != nil {
		t.Fatalf("decoding module node: %v", err)
	}
	if gw.Bind != "0.0.0.0:9000" {
		t.Errorf("bind = %q, want expanded value", gw.Bind)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolve_LoadOrder(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(`modules:
  provider.gemini: {}
  gateway.http: {}
  guard.chat: {}
`), cfg); err != nil {
		t.Fatal(err)
	}
	got := Resolve(cfg)
	want := []string{"provider.gemini", "guard.chat", "gateway.http"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Resolve = %v, want %v", got, want)
	}
}

func TestLoad_RejectsUnknownSection(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "storeguard.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\nmodule:\n  guard.chat: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "module") {
		t.Errorf("Load error = %v, want unknown field module", err)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "storeguard.yaml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrEmptyConfig) {
		t.Errorf("Load error = %v, want %v", err, ErrEmptyConfig)
	}
}

func TestLoad_UnresolvedVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storeguard.yaml")
	content := "version: \"1\"\nmodules:\n  gateway.http:\n    auth:\n      bearer_token: ${STOREGUARD_TEST_NO_TOKEN}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrUnresolvedVariable) || !strings.Contains(err.Error(), "STOREGUARD_TEST_NO_TOKEN") {
		t.Errorf("Load error = %v, want unresolved STOREGUARD_TEST_NO_TOKEN", err)
	}
}
