package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flemzord/storeguard/internal/provider"
)

// maxResponseSize is the maximum response body size (1 MB).
// Protects against OOM from malformed or huge responses.
const maxResponseSize = 1 << 20

// buildChatRequest creates an OpenAI API chat request, letting
// request-level overrides win over config defaults.
func (p *Provider) buildChatRequest(req provider.CompletionRequest) chatRequest {
	cr := chatRequest{
		Model:       p.config.Model,
		Messages:    toMessages(req.System, req.Messages),
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	}
	if req.MaxTokens > 0 {
		cr.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		cr.Temperature = req.Temperature
	}
	return cr
}

// doPost sends an authenticated POST and returns the response body and
// status code. The response body is limited to maxResponseSize bytes.
func (p *Provider) doPost(ctx context.Context, path string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, 0, mapConnectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("openai: read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// Complete sends a completion request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	if p.config.APIKey == "" {
		return provider.CompletionResponse{}, provider.ErrNoProvider
	}

	body, statusCode, err := p.doPost(ctx, "/chat/completions", p.buildChatRequest(req))
	if err != nil {
		return provider.CompletionResponse{}, err
	}
	if httpErr := mapHTTPError(statusCode, body); httpErr != nil {
		return provider.CompletionResponse{}, fmt.Errorf("openai: %w", httpErr)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("openai: unmarshal response: %w", err)
	}

	out := fromResponse(&resp)
	if strings.TrimSpace(out.Content) == "" {
		return out, provider.ErrEmptyResponse
	}
	return out, nil
}

// HealthCheck validates the provider with a minimal 1-token completion.
// This tests authentication, model access, and quota in one call.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Complete(ctx, provider.CompletionRequest{
		Messages:  []provider.Message{{Role: provider.MessageRoleUser, Content: "hi"}},
		MaxTokens: 1,
	})
	if errors.Is(err, provider.ErrEmptyResponse) {
		return nil
	}
	return err
}

// ModelName returns the configured model identifier.
func (p *Provider) ModelName() string {
	return p.config.Model
}
