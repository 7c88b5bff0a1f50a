// Package backend drives the text-generation services that score messages:
// a local model server or a hosted LLM API, selected by configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrNoBackend is returned when no configured backend can serve a route.
var ErrNoBackend = errors.New("no backend available")

// GenerateRequest is a single non-streaming completion call.
type GenerateRequest struct {
	Model         string
	Prompt        string
	Temperature   float64
	MaxTokens     int
	TopP          float64
	RepeatPenalty float64
}

// GenerateResponse carries the generated text extracted from the
// backend's response envelope.
type GenerateResponse struct {
	Text  string
	Model string
}

// Backend is implemented by every driver.
type Backend interface {
	Name() string
	Type() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// StatusError reports a non-2xx answer from a backend.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.StatusCode, e.Body)
}

// EnvelopeError reports a 2xx answer whose envelope could not be decoded.
type EnvelopeError struct {
	Backend string
	Err     error
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("decode %s response: %v", e.Backend, e.Err)
}

func (e *EnvelopeError) Unwrap() error { return e.Err }

// truncate keeps error bodies loggable.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
