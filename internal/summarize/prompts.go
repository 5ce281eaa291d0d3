package summarize

import (
	"fmt"
	"strings"

	"newsdigest/internal/relevance"
	"newsdigest/internal/sanitize"
)

// PromptContentLimit caps each article's content inside the prompt
const PromptContentLimit = 500

// SystemPrompt frames the model as the digest editor
const SystemPrompt = "You are an expert news editor specializing in creating engaging, accurate news digests. Always respond with valid JSON."

// PromptOptions configures prompt generation
type PromptOptions struct {
	Audience    string // e.g. "Malaysian readers"
	SourceName  string // e.g. "Free Malaysia Today"
	TargetWords int
}

// DefaultPromptOptions returns the options used for the scheduled digest
func DefaultPromptOptions() PromptOptions {
	return PromptOptions{
		Audience:    "Malaysian readers",
		SourceName:  "Free Malaysia Today",
		TargetWords: 500,
	}
}

// BuildDigestPrompt creates the single prompt for a digest. The first
// ranked article is named as the top story.
func BuildDigestPrompt(ranked []relevance.Ranked, opts PromptOptions) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("You are a professional news editor creating a digest for %s.\n\n", opts.Audience))
	prompt.WriteString(fmt.Sprintf("Analyze the following %d news articles from %s and write a cohesive digest of about %d words.\n\n",
		len(ranked), opts.SourceName, opts.TargetWords))

	if len(ranked) > 0 {
		prompt.WriteString(fmt.Sprintf("**Top story:** %s\n", ranked[0].Article.Title))
		prompt.WriteString("Lead with the top story, then cover the remaining articles.\n\n")
	}

	prompt.WriteString("Requirements:\n")
	prompt.WriteString("1. A compelling title of at most 50 characters that captures the key themes\n")
	prompt.WriteString("2. Summarize the most important stories while keeping facts accurate\n")
	prompt.WriteString("3. Group related stories into coherent sections\n")
	prompt.WriteString("4. Use clear language suitable for an email newsletter and an objective tone\n")
	prompt.WriteString("5. Format the content as simple HTML using <h2>, <h3>, <p>, <ul> and <li> only\n\n")

	prompt.WriteString("Articles:\n")
	for i, r := range ranked {
		prompt.WriteString(fmt.Sprintf("%d. %s\n%s\n\n", i+1, r.Article.Title, sanitize.Truncate(r.Article.Content, PromptContentLimit)))
	}

	prompt.WriteString("Respond with JSON in exactly this format:\n")
	prompt.WriteString(`{"title": "digest title", "content": "digest body as HTML"}`)
	prompt.WriteString("\n")

	return prompt.String()
}
