// Package llm provides structured JSON completions from Gemini or OpenAI.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"newsdigest/internal/config"
)

var (
	// ErrMissingAPIKey is returned when the selected provider has no key configured
	ErrMissingAPIKey = errors.New("missing API key")
	// ErrEmptyResponse is returned when the model produced no text
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrUnknownProvider is returned for a provider other than gemini or openai
	ErrUnknownProvider = errors.New("unknown AI provider")
)

// Request is a single structured completion call. The model is asked to
// reply with a JSON object holding exactly Fields, each a string.
type Request struct {
	System string
	Prompt string
	Fields []string
}

// Completer returns the raw JSON text produced by a model.
type Completer interface {
	CompleteJSON(ctx context.Context, req Request) (string, error)
	Name() string
}

// New creates the completer selected by cfg.Provider.
func New(ctx context.Context, cfg config.AI) (Completer, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(ctx, GeminiOptions{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			Timeout:     config.Duration(cfg.Gemini.Timeout, 60*time.Second),
			MaxTokens:   cfg.Gemini.MaxTokens,
			Temperature: cfg.Gemini.Temperature,
		})
	case "openai":
		return NewOpenAIClient(OpenAIOptions{
			APIKey:      cfg.OpenAI.APIKey,
			Model:       cfg.OpenAI.Model,
			BaseURL:     cfg.OpenAI.BaseURL,
			Timeout:     config.Duration(cfg.OpenAI.Timeout, 60*time.Second),
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// StripCodeFence removes a ```json fence some models wrap around JSON output.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
