package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Hooks a module can implement. App calls them in this order: Configure
// with the module's section of storeguard.yaml, then Provision, Validate
// and Start. Stop runs in reverse start order; Reload runs on SIGHUP, a
// config file change or POST /api/config/reload.

// Configurable modules receive their raw section of the modules map. A
// module without a section is not configured and keeps its defaults.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner modules apply defaults, build their components and register
// shared services (guard.chat registers the pipeline, limiter and quota
// tracker here).
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator modules reject incomplete configuration. Validate must not
// change state.
type Validator interface {
	Validate() error
}

// Starter modules launch listeners, jobs or resolve services registered by
// other modules.
type Starter interface {
	Start() error
}

// Stopper modules release what Start acquired.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader modules re-read their section and apply what can change without
// a restart.
type Reloader interface {
	Reload(ctx *AppContext) error
}

// Hooks lists the lifecycle hooks m implements, in call order.
func Hooks(m Module) []string {
	var out []string
	if _, ok := m.(Configurable); ok {
		out = append(out, "configure")
	}
	if _, ok := m.(Provisioner); ok {
		out = append(out, "provision")
	}
	if _, ok := m.(Validator); ok {
		out = append(out, "validate")
	}
	if _, ok := m.(Starter); ok {
		out = append(out, "start")
	}
	if _, ok := m.(Stopper); ok {
		out = append(out, "stop")
	}
	if _, ok := m.(Reloader); ok {
		out = append(out, "reload")
	}
	return out
}
