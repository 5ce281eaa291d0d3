package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIOptions configures an OpenAIClient.
type OpenAIOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	MaxTokens   int64
	Temperature float64
}

// OpenAIClient requests JSON output through the json_object response format.
type OpenAIClient struct {
	client openai.Client
	opts   OpenAIOptions
}

// NewOpenAIClient creates a client for the chat completions API.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: %w (set OPENAI_API_KEY or ai.openai.api_key)", ErrMissingAPIKey)
	}
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	return &OpenAIClient{
		client: openai.NewClient(reqOpts...),
		opts:   opts,
	}, nil
}

// Name identifies the provider and model.
func (c *OpenAIClient) Name() string {
	return "openai/" + c.opts.Model
}

// CompleteJSON sends a system and user message and returns the JSON reply.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, req Request) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	system := req.System
	if len(req.Fields) > 0 {
		// json_object mode requires the word JSON in the messages
		system = strings.TrimSpace(system + "\nRespond with a JSON object containing only the string fields: " + strings.Join(req.Fields, ", ") + ".")
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.opts.Model),
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if c.opts.Temperature > 0 {
		params.Temperature = openai.Float(c.opts.Temperature)
	}
	if c.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(c.opts.MaxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return StripCodeFence(content), nil
}
