package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/af-corp/kinsafe/internal/config"
)

// OpenAIBackend calls any OpenAI-compatible chat completions API.
// repeat_penalty has no counterpart there and is not sent.
type OpenAIBackend struct {
	name   string
	client *openai.Client
}

func NewOpenAIBackend(name string, cfg config.BackendConfig, httpClient *http.Client) *OpenAIBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	for k, v := range cfg.Headers {
		if v != "" {
			opts = append(opts, option.WithHeader(k, v))
		}
	}
	return &OpenAIBackend{name: name, client: openai.NewClient(opts...)}
}

func (b *OpenAIBackend) Name() string { return b.name }

func (b *OpenAIBackend) Type() string { return "openai" }

func (b *OpenAIBackend) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.F(req.Model),
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		}),
		Temperature: openai.F(req.Temperature),
		TopP:        openai.F(req.TopP),
		MaxTokens:   openai.F(int64(req.MaxTokens)),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Backend: b.name, StatusCode: apiErr.StatusCode, Body: truncate(apiErr.Error(), 512)}
		}
		return nil, fmt.Errorf("send openai request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, &EnvelopeError{Backend: b.name, Err: errors.New("no choices in response")}
	}

	return &GenerateResponse{Text: resp.Choices[0].Message.Content, Model: resp.Model}, nil
}
