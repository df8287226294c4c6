package core

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// registry holds the modules compiled into the binary. Modules register
// themselves from init, so it is written once at startup and read after.
type registry struct {
	mu   sync.RWMutex
	byID map[ModuleID]ModuleInfo
}

var modules = &registry{byID: make(map[ModuleID]ModuleInfo)}

// RegisterModule adds a module to the registry. It panics when the ID is
// invalid, the constructor is missing or the ID is taken; all three are
// programming errors caught at process start.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if err := info.ID.Validate(); err != nil {
		panic(err)
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New must not be nil", info.ID))
	}

	modules.mu.Lock()
	defer modules.mu.Unlock()
	if _, taken := modules.byID[info.ID]; taken {
		panic(fmt.Sprintf("module %s registered twice", info.ID))
	}
	modules.byID[info.ID] = info
}

// GetModule returns the ModuleInfo for id.
func GetModule(id string) (ModuleInfo, bool) {
	modules.mu.RLock()
	defer modules.mu.RUnlock()
	info, ok := modules.byID[ModuleID(id)]
	return info, ok
}

// GetModules returns every registered module in load order: by namespace
// phase, then by ID.
func GetModules() []ModuleInfo {
	modules.mu.RLock()
	out := make([]ModuleInfo, 0, len(modules.byID))
	for _, info := range modules.byID {
		out = append(out, info)
	}
	modules.mu.RUnlock()

	slices.SortFunc(out, func(a, b ModuleInfo) int {
		return CompareLoadOrder(a.ID, b.ID)
	})
	return out
}

// CompareLoadOrder orders module IDs by namespace phase, then by ID.
func CompareLoadOrder(a, b ModuleID) int {
	if c := cmp.Compare(a.Phase(), b.Phase()); c != 0 {
		return c
	}
	return cmp.Compare(a, b)
}

// resetRegistry clears the registry. Tests only.
func resetRegistry() {
	modules.mu.Lock()
	defer modules.mu.Unlock()
	modules.byID = make(map[ModuleID]ModuleInfo)
}
