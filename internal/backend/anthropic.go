package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/af-corp/kinsafe/internal/config"
)

const anthropicVersion = "2023-06-01"

// AnthropicBackend handles communication with the Anthropic Messages API.
type AnthropicBackend struct {
	name   string
	cfg    config.BackendConfig
	client *http.Client
}

func NewAnthropicBackend(name string, cfg config.BackendConfig, client *http.Client) *AnthropicBackend {
	return &AnthropicBackend{name: name, cfg: cfg, client: client}
}

func (b *AnthropicBackend) Name() string { return b.name }

func (b *AnthropicBackend) Type() string { return "anthropic" }

func (b *AnthropicBackend) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	temperature := req.Temperature
	topP := req.TopP
	body := anthropicRequestBody{
		Model:       req.Model,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", b.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	for k, v := range b.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send anthropic request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Backend: b.name, StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	var antResp anthropicResponseBody
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		return nil, &EnvelopeError{Backend: b.name, Err: err}
	}

	var content string
	for _, block := range antResp.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}

	return &GenerateResponse{Text: content, Model: antResp.Model}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
}

type anthropicResponseBody struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}
