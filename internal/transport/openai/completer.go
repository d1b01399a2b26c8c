package openai

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/domain"
)

// CompleterConfig holds completion provider settings.
type CompleterConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Completer produces deterministic JSON completions for classification
// prompts. Temperature is pinned to zero so identical queries classify
// identically across calls.
type Completer struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewCompleter creates a completion provider.
func NewCompleter(cfg CompleterConfig, logger *zap.Logger) *Completer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Completer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}
}

// Complete sends a system+user prompt pair and returns the raw completion.
func (c *Completer) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", providerError(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewProviderError(
			domain.CodeInvalidResponse, "completion response has no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}
