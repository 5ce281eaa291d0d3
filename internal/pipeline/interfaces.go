package pipeline

import (
	"context"

	"newsdigest/internal/core"
	"newsdigest/internal/email"
	"newsdigest/internal/fetch"
	"newsdigest/internal/relevance"
	"newsdigest/internal/summarize"
)

// NewsFetcher collects the latest articles and picks the lead image
type NewsFetcher interface {
	// FetchLatestNews returns at most limit articles from the configured sections
	FetchLatestNews(ctx context.Context, limit int) (fetch.Result, error)

	// SelectLeadImage finds and embeds the picture of the top story
	SelectLeadImage(ctx context.Context, article core.Article) (fetch.LeadImage, error)
}

// ArticleRanker orders articles by relevance
type ArticleRanker interface {
	Rank(articles []core.Article) []relevance.Ranked
}

// DigestComposer writes the digest with one model call
type DigestComposer interface {
	GenerateDigest(ctx context.Context, ranked []relevance.Ranked) (summarize.Composed, error)
}

// EmailDispatcher delivers the digest, one result per recipient
type EmailDispatcher interface {
	SendDigest(ctx context.Context, digest core.Digest, recipients []string, opts ...email.SendOption) ([]email.Result, error)
}
