package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"newsdigest/internal/config"
	"newsdigest/internal/email"
	"newsdigest/internal/fetch"
	"newsdigest/internal/llm"
	"newsdigest/internal/logger"
	"newsdigest/internal/ratelimit"
	"newsdigest/internal/relevance"
	"newsdigest/internal/store"
	"newsdigest/internal/summarize"
)

// Builder helps construct a fully configured Pipeline
type Builder struct {
	cfg       *config.Config
	repo      store.Repository
	limiter   *ratelimit.Limiter
	completer llm.Completer
	transport email.Transport
	config    *Config
	log       *slog.Logger
}

// NewBuilder creates a new pipeline builder from the application config
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{
		cfg:    cfg,
		config: &Config{ArticleLimit: cfg.News.ArticleLimit},
		log:    logger.Get(),
	}
}

// WithStore sets the repository
func (b *Builder) WithStore(repo store.Repository) *Builder {
	b.repo = repo
	return b
}

// WithLimiter shares a rate limiter between pipelines
func (b *Builder) WithLimiter(l *ratelimit.Limiter) *Builder {
	b.limiter = l
	return b
}

// WithCompleter overrides the LLM client built from config
func (b *Builder) WithCompleter(c llm.Completer) *Builder {
	b.completer = c
	return b
}

// WithTransport overrides the SMTP transport built from config
func (b *Builder) WithTransport(t email.Transport) *Builder {
	b.transport = t
	return b
}

// WithDryRun skips email delivery
func (b *Builder) WithDryRun(dryRun bool) *Builder {
	b.config.DryRun = dryRun
	return b
}

// WithLogger sets the logger passed to every component
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.log = l
	return b
}

// Limiter returns the limiter in use, creating it from config if needed
func (b *Builder) Limiter() *ratelimit.Limiter {
	if b.limiter == nil {
		b.limiter = ratelimit.FromConfig(b.cfg.RateLimits)
	}
	return b.limiter
}

// Build constructs a fully configured Pipeline
func (b *Builder) Build(ctx context.Context) (*Pipeline, error) {
	if b.repo == nil {
		return nil, fmt.Errorf("store is required")
	}
	limiter := b.Limiter()

	completer := b.completer
	if completer == nil {
		c, err := llm.New(ctx, b.cfg.AI)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		completer = c
	}

	transport := b.transport
	if transport == nil && !b.config.DryRun {
		t, err := email.NewSMTPTransport(b.cfg.Email.SMTP)
		if err != nil {
			return nil, fmt.Errorf("failed to create email transport: %w", err)
		}
		transport = t
	}

	loc := b.cfg.Location()
	fetcher := fetch.New(fetch.OptionsFromConfig(b.cfg.News, loc), limiter, fetch.WithLogger(b.log))
	ranker := relevance.FromConfig(b.cfg.Relevance)
	composer := summarize.NewComposer(completer, limiter, summarize.WithLogger(b.log))
	dispatcher := email.NewDispatcher(transport, limiter,
		email.WithSender(b.cfg.Email.FromAddress, b.cfg.Email.FromName),
		email.WithSubjectPrefix(b.cfg.Email.SubjectPrefix),
		email.WithLocation(loc),
		email.WithLogger(b.log),
	)

	return NewPipeline(fetcher, ranker, composer, dispatcher, b.repo, b.config, WithLogger(b.log)), nil
}
