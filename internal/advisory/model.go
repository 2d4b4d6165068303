package advisory

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/vigil/internal/accounting"
	"github.com/MikeSquared-Agency/vigil/internal/anthropic"
)

// ModelRequest is one generation call. System is the static preamble and is
// marked cacheable when CacheSystem is set.
type ModelRequest struct {
	System      string
	CacheSystem bool
	Prompt      string
	MaxTokens   int
}

type ModelResponse struct {
	Text  string
	Usage accounting.Usage
}

// Model is a generative model provider.
type Model interface {
	Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// AnthropicModel adapts the Messages API client.
type AnthropicModel struct {
	client *anthropic.Client
}

func NewAnthropicModel(client *anthropic.Client) *AnthropicModel {
	return &AnthropicModel{client: client}
}

func (m *AnthropicModel) Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	res, err := m.client.Complete(ctx, anthropic.Request{
		System:      req.System,
		CacheSystem: req.CacheSystem,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic complete: %w", err)
	}
	return &ModelResponse{
		Text: res.Text,
		Usage: accounting.Usage{
			InputTokens:      res.Usage.InputTokens,
			OutputTokens:     res.Usage.OutputTokens,
			CacheWriteTokens: res.Usage.CacheCreationInputTokens,
			CacheReadTokens:  res.Usage.CacheReadInputTokens,
		},
	}, nil
}
