package config

import (
	"errors"
	"fmt"

	"github.com/flemzord/storeguard/internal/core"
)

// The HTTP gateway serves the chat pipeline and cannot run without it.
const (
	gatewayModule = "gateway.http"
	chatModule    = "guard.chat"
)

var (
	validLogLevels  = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"": true, "text": true, "json": true}
)

// Validate checks the structural validity of a Config.
// It verifies the version field, ensures modules are present, well-formed
// and registered, that gateway.http comes with guard.chat, and checks the
// log and tracing sections.
// All problems are reported together.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	for id := range cfg.Modules {
		if err := core.ModuleID(id).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: unknown module %q: %w", id, err))
			continue
		}
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}
	if _, gw := cfg.Modules[gatewayModule]; gw {
		if _, chat := cfg.Modules[chatModule]; !chat {
			errs = append(errs, fmt.Errorf("config: module %s requires %s", gatewayModule, chatModule))
		}
	}

	errs = append(errs, validateLog(cfg.Log)...)
	errs = append(errs, validateTracing(cfg.Tracing)...)

	return errors.Join(errs...)
}

func validateLog(l LogConfig) []error {
	var errs []error
	if !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", l.Level))
	}
	if !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("config: log.format %q is not one of text, json", l.Format))
	}
	return errs
}

func validateTracing(t TracingConfig) []error {
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return []error{fmt.Errorf("config: tracing.sample_ratio %v must be within [0, 1]", t.SampleRatio)}
	}
	return nil
}
