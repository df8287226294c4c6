// Package providertest provides test helpers for the provider package.
package providertest

import (
	"context"
	"sync"

	"github.com/flemzord/storeguard/internal/provider"
)

// MockProvider is a configurable test double for provider.Provider.
// Unset CompleteFunc answers "ok"; unset HealthCheckFunc reports healthy.
// All methods are safe for concurrent use.
type MockProvider struct {
	Model           string
	CompleteFunc    func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error)
	HealthCheckFunc func(ctx context.Context) error

	mu       sync.Mutex
	requests []provider.CompletionRequest
	probes   int
}

// Reply returns a MockProvider that always answers content with the given
// token usage.
func Reply(content string, prompt, completion int) *MockProvider {
	return &MockProvider{
		CompleteFunc: func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{
				Content:      content,
				FinishReason: provider.FinishReasonStop,
				Usage: provider.TokenUsage{
					PromptTokens:     prompt,
					CompletionTokens: completion,
					TotalTokens:      prompt + completion,
				},
			}, nil
		},
	}
}

// Failing returns a MockProvider whose every call fails with err.
func Failing(err error) *MockProvider {
	return &MockProvider{
		CompleteFunc: func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, err
		},
		HealthCheckFunc: func(context.Context) error { return err },
	}
}

// Complete records req and delegates to CompleteFunc.
func (m *MockProvider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.CompleteFunc
	m.mu.Unlock()
	if fn == nil {
		return provider.CompletionResponse{Content: "ok", FinishReason: provider.FinishReasonStop}, nil
	}
	return fn(ctx, req)
}

// ModelName returns Model, or "mock".
func (m *MockProvider) ModelName() string {
	if m.Model == "" {
		return "mock"
	}
	return m.Model
}

// HealthCheck delegates to HealthCheckFunc and counts probes.
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	m.probes++
	fn := m.HealthCheckFunc
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// Calls returns the number of Complete calls.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockProvider) Requests() []provider.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]provider.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Probes returns the number of HealthCheck calls.
func (m *MockProvider) Probes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probes
}

// Interface guards.
var (
	_ provider.Provider      = (*MockProvider)(nil)
	_ provider.HealthChecker = (*MockProvider)(nil)
)
