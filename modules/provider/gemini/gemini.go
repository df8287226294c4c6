// Package gemini implements the provider.gemini module, the storefront's
// primary upstream: Google's Gemini API through google.golang.org/genai.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/flemzord/storeguard/internal/core"
	"github.com/flemzord/storeguard/internal/provider"
	"github.com/flemzord/storeguard/internal/security"
	"google.golang.org/genai"
	"gopkg.in/yaml.v3"
)

// ModuleID is the module and service name of the Gemini provider.
const ModuleID = "provider.gemini"

// apiKeyEnv is consulted when api_key is not set in the configuration.
const apiKeyEnv = "GOOGLE_GENERATIVE_AI_API_KEY"

func init() {
	core.RegisterModule(&Gemini{})
}

// Interface guards.
var (
	_ core.Module            = (*Gemini)(nil)
	_ core.Configurable      = (*Gemini)(nil)
	_ core.Provisioner       = (*Gemini)(nil)
	_ core.Validator         = (*Gemini)(nil)
	_ provider.Provider      = (*Gemini)(nil)
	_ provider.HealthChecker = (*Gemini)(nil)
)

// Gemini is the provider.gemini module. Without an API key it stays
// unregistered and the chat pipeline answers from its fallback table.
type Gemini struct {
	config Config
	client *genai.Client
	logger *slog.Logger

	// httpClient overrides the transport, for tests.
	httpClient *http.Client
}

// ModuleInfo implements core.Module.
func (g *Gemini) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Gemini{} },
	}
}

// Configure implements core.Configurable.
func (g *Gemini) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	return nil
}

// Provision implements core.Provisioner.
func (g *Gemini) Provision(ctx *core.AppContext) error {
	g.logger = ctx.Logger
	g.config.defaults()

	if g.config.APIKey == "" {
		g.config.APIKey = os.Getenv(apiKeyEnv)
	}
	if g.config.APIKey == "" {
		g.logger.Warn("no api key configured, provider disabled", "env", apiKeyEnv)
		return nil
	}

	if store, ok := core.ServiceAs[*security.CredentialStore](ctx, security.CredentialServiceName); ok {
		store.Set(ModuleID+".api_key", g.config.APIKey)
	}

	if err := g.connect(context.Background()); err != nil {
		return err
	}
	ctx.RegisterService(ModuleID, g)
	g.logger.Info("provider ready", "model", g.config.Model)
	return nil
}

func (g *Gemini) connect(ctx context.Context) error {
	cc := &genai.ClientConfig{
		APIKey:     g.config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	}
	if g.config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return fmt.Errorf("%s: creating client: %w", ModuleID, err)
	}
	g.client = client
	return nil
}

// Validate implements core.Validator.
func (g *Gemini) Validate() error {
	if g.config.Model == "" {
		return errors.New(ModuleID + ": model must not be empty")
	}
	return g.config.validate()
}

// Enabled reports whether an API key was found and the client is ready.
func (g *Gemini) Enabled() bool {
	return g.client != nil
}

// ModelName implements provider.Provider.
func (g *Gemini) ModelName() string {
	return g.config.Model
}
