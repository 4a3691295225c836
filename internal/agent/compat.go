package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

// Base URLs for servers that speak the OpenAI chat completions protocol.
const (
	OllamaBaseURL     = "http://localhost:11434/v1/"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1/"
)

// CompatProvider talks to any chat-completions compatible server (ollama,
// openrouter). It is the only backend that honours Seed.
type CompatProvider struct {
	name   string
	client *openai.Client
	logger *slog.Logger
}

func NewCompatProvider(name, apiKey, baseURL string) (*CompatProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%s: base URL required", name)
	}
	if apiKey == "" {
		// ollama ignores the key but the client insists on one
		apiKey = name
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	)
	return &CompatProvider{
		name:   name,
		client: &client,
		logger: slog.Default().With("component", name+"_provider"),
	}, nil
}

func (p *CompatProvider) Name() string {
	return p.name
}

func (p *CompatProvider) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", statusError(apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("%s generate: %w", p.name, err)
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%s: %w", p.name, core.ErrEmptyResponse)
	}

	p.logger.Debug("chat completion finished",
		"model", req.Model,
		"prompt_tokens", completion.Usage.PromptTokens,
		"completion_tokens", completion.Usage.CompletionTokens)

	return completion.Choices[0].Message.Content, nil
}
