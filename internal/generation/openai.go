package generation

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/scheme-qna/backend/pkg/retry"
)

// OpenAI uses the chat completions API. BaseURL may point at any
// OpenAI-compatible server.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, model, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is not set")
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

func (o *OpenAI) Name() string { return BackendOpenAI }

func (o *OpenAI) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxOutputLength,
	})
	if err != nil {
		berr := &BackendError{Backend: BackendOpenAI, Err: err}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			berr.StatusCode = apiErr.HTTPStatusCode
			if apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != http.StatusTooManyRequests {
				return "", retry.Permanent(berr)
			}
		}
		return "", berr
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
