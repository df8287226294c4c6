package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnresolvedVariable is returned when storeguard.yaml references an
// environment variable that is unset and has no default. Secrets such as
// ${STOREGUARD_ADMIN_TOKEN} usually live in the .env file next to the
// config, so this mostly means that file was not loaded.
var ErrUnresolvedVariable = errors.New("unresolved variable")

// ErrEmptyConfig is returned for a config file with no YAML document.
var ErrEmptyConfig = errors.New("config file is empty")

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads storeguard.yaml, expands ${VAR} references and decodes it.
// Unknown top-level keys are rejected so a misspelt "modules" or "tracing"
// section fails loudly instead of silently running with defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: %s: %w", path, ErrEmptyConfig)
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// expandEnv substitutes ${VAR} and ${VAR:-default}. Every unresolved name
// is reported in a single ErrUnresolvedVariable error.
func expandEnv(raw []byte) ([]byte, error) {
	var missing []string
	out := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		if subs[2] != nil {
			return subs[2]
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedVariable, strings.Join(missing, ", "))
	}
	return out, nil
}
