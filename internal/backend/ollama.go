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

const ollamaGeneratePath = "/api/generate"

// OllamaBackend talks to a local model server exposing the Ollama
// generate API.
type OllamaBackend struct {
	name   string
	cfg    config.BackendConfig
	client *http.Client
}

func NewOllamaBackend(name string, cfg config.BackendConfig, client *http.Client) *OllamaBackend {
	return &OllamaBackend{name: name, cfg: cfg, client: client}
}

func (b *OllamaBackend) Name() string { return b.name }

func (b *OllamaBackend) Type() string { return "ollama" }

func (b *OllamaBackend) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body := ollamaRequestBody{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature:   req.Temperature,
			TopP:          req.TopP,
			MaxTokens:     req.MaxTokens,
			NumPredict:    req.MaxTokens,
			RepeatPenalty: req.RepeatPenalty,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+ollamaGeneratePath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Cache-Control", "no-store")
	for k, v := range b.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send ollama request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Backend: b.name, StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	var out ollamaResponseBody
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &EnvelopeError{Backend: b.name, Err: err}
	}

	model := out.Model
	if model == "" {
		model = req.Model
	}
	return &GenerateResponse{Text: out.Response, Model: model}, nil
}

type ollamaOptions struct {
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	MaxTokens     int     `json:"max_tokens"`
	NumPredict    int     `json:"num_predict"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

type ollamaRequestBody struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponseBody struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}
