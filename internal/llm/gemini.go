package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiOptions configures a GeminiClient.
type GeminiOptions struct {
	APIKey      string
	Model       string
	BaseURL     string // overrides the API endpoint, used in tests
	Timeout     time.Duration
	MaxTokens   int32
	Temperature float32
}

// GeminiClient requests JSON output constrained by a response schema.
type GeminiClient struct {
	gClient *genai.Client
	opts    GeminiOptions
}

// NewGeminiClient creates a client for the Gemini API.
func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w (set GEMINI_API_KEY or ai.gemini.api_key)", ErrMissingAPIKey)
	}
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	gClient, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{gClient: gClient, opts: opts}, nil
}

// Name identifies the provider and model.
func (c *GeminiClient) Name() string {
	return "gemini/" + c.opts.Model
}

// CompleteJSON sends the prompt with a schema requiring every field.
func (c *GeminiClient) CompleteJSON(ctx context.Context, req Request) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: req.Prompt}},
		Role:  "user",
	}}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   objectSchema(req.Fields),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if c.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = c.opts.MaxTokens
	}
	if c.opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(c.opts.Temperature)
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.opts.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return StripCodeFence(text), nil
}

// objectSchema describes an object whose fields are all required strings.
func objectSchema(fields []string) *genai.Schema {
	if len(fields) == 0 {
		return nil
	}
	props := make(map[string]*genai.Schema, len(fields))
	for _, f := range fields {
		props[f] = &genai.Schema{Type: genai.TypeString}
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   fields,
	}
}
