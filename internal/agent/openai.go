package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

// OpenAIProvider serves openai://<model> routes through the Responses API.
type OpenAIProvider struct {
	client *openai.Client
	logger *slog.Logger
}

func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", core.ErrNoAPIKey)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		client: &client,
		logger: slog.Default().With("component", "openai_provider"),
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	items := make(responses.ResponseInputParam, 0, 2)
	if req.System != "" {
		items = append(items, responses.ResponseInputItemParamOfMessage(req.System, responses.EasyInputMessageRoleSystem))
	}
	items = append(items, responses.ResponseInputItemParamOfMessage(req.Prompt, responses.EasyInputMessageRoleUser))

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(req.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
		MaxOutputTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	result, err := p.client.Responses.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", statusError(apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("openai generate: %w", err)
	}

	text := result.OutputText()
	p.logger.Debug("openai request completed",
		"model", req.Model,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
		"total_tokens", result.Usage.TotalTokens)

	if text == "" {
		return "", fmt.Errorf("openai: %w", core.ErrEmptyResponse)
	}
	return text, nil
}
