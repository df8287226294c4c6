// Package openai implements the provider.openai module, an OpenAI-compatible
// Chat Completions backend used as the storefront's secondary upstream.
package openai

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/flemzord/storeguard/internal/core"
	"github.com/flemzord/storeguard/internal/provider"
	"github.com/flemzord/storeguard/internal/security"
	"gopkg.in/yaml.v3"
)

// ModuleID is the module and service name of the OpenAI provider.
const ModuleID = "provider.openai"

const apiKeyEnv = "OPENAI_API_KEY"

func init() {
	core.RegisterModule(&Provider{})
}

// Compile-time interface guards.
var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
	_ core.Module            = (*Provider)(nil)
	_ core.Configurable      = (*Provider)(nil)
	_ core.Provisioner       = (*Provider)(nil)
	_ core.Validator         = (*Provider)(nil)
)

// Provider implements the OpenAI Chat Completions API as a storeguard
// provider module.
type Provider struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

// ModuleInfo implements core.Module.
func (p *Provider) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Provider{} },
	}
}

// Configure implements core.Configurable.
func (p *Provider) Configure(node *yaml.Node) error {
	return node.Decode(&p.config)
}

// Provision implements core.Provisioner. Without an API key the provider
// stays unregistered.
func (p *Provider) Provision(ctx *core.AppContext) error {
	p.logger = ctx.Logger
	p.config.defaults()
	p.client = &http.Client{Timeout: p.config.Timeout}

	if p.config.APIKey == "" {
		p.config.APIKey = os.Getenv(apiKeyEnv)
	}
	if p.config.APIKey == "" {
		p.logger.Warn("no api key configured, provider disabled", "env", apiKeyEnv)
		return nil
	}
	if store, ok := core.ServiceAs[*security.CredentialStore](ctx, security.CredentialServiceName); ok {
		store.Set(ModuleID+".api_key", p.config.APIKey)
	}

	ctx.RegisterService(ModuleID, p)
	p.logger.Info("provider ready", "model", p.config.Model, "base_url", p.config.BaseURL)
	return nil
}

// Validate implements core.Validator.
func (p *Provider) Validate() error {
	if p.config.Model == "" {
		return errors.New(ModuleID + ": model is required")
	}
	return p.config.validate()
}
