// Package summarize turns ranked articles into a digest with one LLM call.
package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"newsdigest/internal/core"
	"newsdigest/internal/llm"
	"newsdigest/internal/logger"
	"newsdigest/internal/ratelimit"
	"newsdigest/internal/relevance"
	"newsdigest/internal/sanitize"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

var (
	// ErrNoArticles is returned when there is nothing to summarize
	ErrNoArticles = errors.New("no articles to summarize")
	// ErrInvalidResponse is returned when the model output is not the expected JSON object
	ErrInvalidResponse = errors.New("invalid response format from model")
)

// SummarizationError wraps every failure of GenerateDigest.
type SummarizationError struct {
	Err error
}

func (e *SummarizationError) Error() string {
	return "failed to generate AI digest: " + e.Err.Error()
}

func (e *SummarizationError) Unwrap() error {
	return e.Err
}

// Composed is the generated digest before it is stored.
type Composed struct {
	Title     string
	Content   string
	WordCount int
}

// RateLimiter is consulted before each model call.
type RateLimiter interface {
	TryConsume(category string) bool
}

// Composer builds the prompt, calls the model and normalizes its reply.
type Composer struct {
	llm     llm.Completer
	limiter RateLimiter
	opts    PromptOptions
	log     *slog.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithPromptOptions replaces the default prompt options.
func WithPromptOptions(opts PromptOptions) Option {
	return func(c *Composer) { c.opts = opts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) { c.log = l }
}

// NewComposer creates a Composer. A nil limiter allows every call.
func NewComposer(completer llm.Completer, limiter RateLimiter, options ...Option) *Composer {
	c := &Composer{
		llm:     completer,
		limiter: limiter,
		opts:    DefaultPromptOptions(),
		log:     logger.Get(),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

type digestPayload struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// GenerateDigest summarizes ranked articles. Every failure is a
// *SummarizationError; no placeholder content is ever returned.
func (c *Composer) GenerateDigest(ctx context.Context, ranked []relevance.Ranked) (Composed, error) {
	if len(ranked) == 0 {
		return Composed{}, &SummarizationError{Err: ErrNoArticles}
	}
	if c.limiter != nil && !c.limiter.TryConsume(ratelimit.CategoryAI) {
		return Composed{}, &SummarizationError{Err: ratelimit.Exceeded(ratelimit.CategoryAI)}
	}

	req := llm.Request{
		System: SystemPrompt,
		Prompt: BuildDigestPrompt(ranked, c.opts),
		Fields: []string{"title", "content"},
	}

	c.log.Info("Requesting digest summary", "model", c.llm.Name(), "articles", len(ranked))

	text, err := c.llm.CompleteJSON(ctx, req)
	if err != nil {
		return Composed{}, &SummarizationError{Err: err}
	}

	return parseDigest(text)
}

func parseDigest(text string) (Composed, error) {
	var payload digestPayload
	if err := json.Unmarshal([]byte(llm.StripCodeFence(text)), &payload); err != nil {
		return Composed{}, &SummarizationError{Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	if payload.Title == nil || strings.TrimSpace(*payload.Title) == "" {
		return Composed{}, &SummarizationError{Err: fmt.Errorf("%w: missing title", ErrInvalidResponse)}
	}
	if payload.Content == nil || strings.TrimSpace(*payload.Content) == "" {
		return Composed{}, &SummarizationError{Err: fmt.Errorf("%w: missing content", ErrInvalidResponse)}
	}

	content := NormalizeContent(*payload.Content)
	return Composed{
		Title:     NormalizeTitle(*payload.Title),
		Content:   content,
		WordCount: WordCount(content),
	}, nil
}

var tagRegex = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)

// NormalizeContent renders Markdown when the reply has no HTML tags and
// then sanitizes the HTML.
func NormalizeContent(content string) string {
	content = strings.TrimSpace(content)
	if !tagRegex.MatchString(content) {
		content = renderMarkdown(content)
	}
	return sanitize.HTML(content)
}

// NormalizeTitle strips markup and caps the title length.
func NormalizeTitle(title string) string {
	title = sanitize.Text(title)
	return strings.TrimSpace(sanitize.Truncate(title, core.MaxDigestTitleLength))
}

// WordCount counts whitespace separated tokens after stripping tags.
// Adjacent block elements count as separate words.
func WordCount(content string) int {
	return len(strings.Fields(sanitize.StripTags(tagRegex.ReplaceAllString(content, " "))))
}

// renderMarkdown converts markdown text to HTML
func renderMarkdown(md string) string {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	p := parser.NewWithExtensions(extensions)

	htmlFlags := html.CommonFlags | html.HrefTargetBlank
	opts := html.RendererOptions{Flags: htmlFlags}
	renderer := html.NewRenderer(opts)

	return string(markdown.ToHTML([]byte(md), p, renderer))
}
