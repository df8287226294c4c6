package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/flemzord/storeguard/internal/provider"
	"google.golang.org/genai"
)

// Complete implements provider.Provider. The call is bounded by the
// configured timeout in addition to ctx. An ErrEmptyResponse still carries
// the usage Gemini reported, since a blocked prompt is billed.
func (g *Gemini) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	if g.client == nil {
		return provider.CompletionResponse{}, provider.ErrNoProvider
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.config.Model, toContents(req.Messages), g.buildConfig(req))
	if err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("gemini: %w", mapError(err))
	}
	return fromResponse(resp)
}

// HealthCheck implements provider.HealthChecker by fetching the model
// metadata, which exercises the key without spending generation quota.
func (g *Gemini) HealthCheck(ctx context.Context) error {
	if g.client == nil {
		return provider.ErrNoProvider
	}
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()
	if _, err := g.client.Models.Get(ctx, g.config.Model, nil); err != nil {
		return fmt.Errorf("gemini: %w", mapError(err))
	}
	return nil
}

func (g *Gemini) buildConfig(req provider.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(g.config.MaxOutputTokens),
		Temperature:     genai.Ptr(float32(*g.config.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	return cfg
}

// toContents maps conversation turns onto Gemini's two roles.
func toContents(msgs []provider.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == provider.MessageRoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}

func fromResponse(resp *genai.GenerateContentResponse) (provider.CompletionResponse, error) {
	var out provider.CompletionResponse
	if resp.UsageMetadata != nil {
		out.Usage = provider.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			out.FinishReason = provider.FinishReasonFiltering
		}
		return out, provider.ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	out.FinishReason = mapFinishReason(candidate.FinishReason)
	if candidate.Content != nil {
		var b strings.Builder
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				b.WriteString(part.Text)
			}
		}
		out.Content = b.String()
	}
	if strings.TrimSpace(out.Content) == "" {
		return out, provider.ErrEmptyResponse
	}
	return out, nil
}

func mapFinishReason(reason genai.FinishReason) provider.FinishReason {
	switch reason {
	case genai.FinishReasonMaxTokens:
		return provider.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReasonStop
	}
}
