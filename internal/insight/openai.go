package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// ErrNoChoices is returned when the backend answers without any choice.
var ErrNoChoices = errors.New("openai returned no choices")

// OpenAIBackend sends requests to the OpenAI chat completions API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend builds a backend. baseURL may be empty for the public API.
func NewOpenAIBackend(apiKey, model, baseURL string) (*OpenAIBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai api key not set")
	}
	if model == "" {
		model = DefaultModel
		slog.Warn("insight model not set, using default", "model", model)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	slog.Info("initializing openai insight backend", "model", model)
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Model returns the configured model name.
func (o *OpenAIBackend) Model() string { return o.model }

// Complete implements Completer.
func (o *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	slog.Debug("requesting insight completion", "model", o.model)
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

var _ Completer = (*OpenAIBackend)(nil)
