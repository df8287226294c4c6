package config

import (
	"slices"

	"github.com/flemzord/storeguard/internal/core"
)

// Resolve returns the configured module IDs in load order: providers,
// then guard modules, then the HTTP gateway, each group sorted by ID.
// Stop runs in reverse, so the gateway drains before the pipeline goes.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return core.CompareLoadOrder(core.ModuleID(a), core.ModuleID(b))
	})
	return ids
}
