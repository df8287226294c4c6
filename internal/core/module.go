package core

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Module namespaces, in the order their modules are loaded and started.
// Providers come first so guard.chat can build its chain from them; the
// HTTP gateway comes last so it only accepts traffic once the pipeline is up.
const (
	NamespaceProvider = "provider"
	NamespaceGuard    = "guard"
	NamespaceGateway  = "gateway"
)

var namespaceOrder = []string{NamespaceProvider, NamespaceGuard, NamespaceGateway}

// ErrInvalidModuleID is returned for IDs that are not "namespace.name" with a
// known namespace.
var ErrInvalidModuleID = errors.New("invalid module ID")

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ModuleID is a dotted identifier such as "gateway.http" or "provider.gemini".
// The first segment is the namespace.
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// Name returns the part of the ID after the first dot, or the whole ID
// when it has no namespace.
func (id ModuleID) Name() string {
	_, name, found := strings.Cut(string(id), ".")
	if !found {
		return string(id)
	}
	return name
}

// Validate checks that id is "<namespace>.<name>" with a known namespace
// and a lowercase name.
func (id ModuleID) Validate() error {
	ns, name, found := strings.Cut(string(id), ".")
	if !found || name == "" {
		return fmt.Errorf("%w %q: want <namespace>.<name>", ErrInvalidModuleID, id)
	}
	if !slices.Contains(namespaceOrder, ns) {
		return fmt.Errorf("%w %q: namespace must be one of %s", ErrInvalidModuleID, id, strings.Join(namespaceOrder, ", "))
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w %q: name must match %s", ErrInvalidModuleID, id, namePattern)
	}
	return nil
}

// Phase is the position of id's namespace in the load order. Unknown
// namespaces sort last.
func (id ModuleID) Phase() int {
	if i := slices.Index(namespaceOrder, id.Namespace()); i >= 0 {
		return i
	}
	return len(namespaceOrder)
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is implemented by every component loaded through the registry.
type Module interface {
	ModuleInfo() ModuleInfo
}
