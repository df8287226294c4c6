package provider

import "context"

// Provider is an upstream chat-completion backend. Concrete implementations
// live in modules/provider/* and register themselves as services under
// their module ID.
type Provider interface {
	// Complete sends the conversation and returns the generated answer.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}

// HealthChecker is implemented by providers that can be probed while the
// chain holds them in cooldown.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
