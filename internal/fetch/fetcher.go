// Package fetch scrapes listing pages and article bodies from the news site.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"newsdigest/internal/config"
	"newsdigest/internal/core"
	"newsdigest/internal/logger"
	"newsdigest/internal/ratelimit"
	"newsdigest/internal/sanitize"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultLimit is used when FetchLatestNews is called with limit <= 0
	DefaultLimit = 10
	// minTitleLength drops navigation links and other short non-headlines
	minTitleLength = 10
)

// Section kinds
const (
	KindHTML = "html"
	KindRSS  = "rss"
)

// Section is one listing page. The first configured section is the primary one.
type Section struct {
	Name     string
	URL      string
	Category core.Category
	Kind     string
}

// Options control what is fetched and how.
type Options struct {
	Sections         []Section
	Retention        time.Duration
	ArticleTimeout   time.Duration
	ListingTimeout   time.Duration
	UserAgent        string
	MediaPath        string
	MaxConcurrency   int
	MaxImageBytes    int64
	ContentSelectors []string
	Location         *time.Location
}

// OptionsFromConfig converts the news configuration.
func OptionsFromConfig(cfg config.News, loc *time.Location) Options {
	sections := make([]Section, 0, len(cfg.Sections))
	for _, s := range cfg.Sections {
		sections = append(sections, Section{
			Name:     s.Name,
			URL:      s.URL,
			Category: core.Category(s.Category),
			Kind:     s.Kind,
		})
	}
	return Options{
		Sections:         sections,
		Retention:        config.Duration(cfg.RetentionWindow, 6*time.Hour),
		ArticleTimeout:   config.Duration(cfg.ArticleTimeout, 10*time.Second),
		ListingTimeout:   config.Duration(cfg.ListingTimeout, 30*time.Second),
		UserAgent:        cfg.UserAgent,
		MediaPath:        cfg.MediaPath,
		MaxConcurrency:   cfg.MaxConcurrency,
		MaxImageBytes:    cfg.MaxImageBytes,
		ContentSelectors: cfg.ContentSelectors,
		Location:         loc,
	}
}

// RateLimiter is consulted before every outbound request.
type RateLimiter interface {
	TryConsume(category string) bool
}

// Result is the outcome of one fetch cycle.
type Result struct {
	Articles   []core.Article
	Candidates int // listing entries kept before content fetch
}

// Fetcher retrieves candidate articles from the configured sections.
type Fetcher struct {
	opts    Options
	client  *http.Client
	limiter RateLimiter
	feeds   *gofeed.Parser
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New creates a Fetcher. A nil limiter allows every request.
func New(opts Options, limiter RateLimiter, options ...Option) *Fetcher {
	if opts.Retention <= 0 {
		opts.Retention = 6 * time.Hour
	}
	if opts.ArticleTimeout <= 0 {
		opts.ArticleTimeout = 10 * time.Second
	}
	if opts.ListingTimeout <= 0 {
		opts.ListingTimeout = 30 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 5
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 5 << 20
	}
	if len(opts.ContentSelectors) == 0 {
		opts.ContentSelectors = defaultContentSelectors
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; NewsDigest/1.0)"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	f := &Fetcher{
		opts:    opts,
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: limiter,
		feeds:   gofeed.NewParser(),
		log:     logger.Get(),
		now:     time.Now,
	}
	for _, o := range options {
		o(f)
	}
	return f
}

// FetchLatestNews collects up to limit articles from the configured sections.
// It fails with *FetchError only when the primary listing page cannot be read.
func (f *Fetcher) FetchLatestNews(ctx context.Context, limit int) (Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(f.opts.Sections) == 0 {
		return Result{}, &FetchError{Err: fmt.Errorf("no sections configured")}
	}

	now := f.now()
	listings := make([][]candidate, len(f.opts.Sections))

	g, gctx := errgroup.WithContext(ctx)
	for i, section := range f.opts.Sections {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, f.opts.ListingTimeout)
			defer cancel()

			entries, err := f.fetchListing(lctx, section, now)
			if err != nil {
				if i == 0 {
					return err
				}
				f.log.Warn("Skipping section", "section", section.Name, "error", sanitize.Error(err))
				return nil
			}
			listings[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var candidates []candidate
	for _, entries := range listings {
		for _, c := range entries {
			if now.Sub(c.PublishedAt) > f.opts.Retention {
				continue
			}
			candidates = append(candidates, c)
		}
	}
	if len(candidates) > 2*limit {
		candidates = candidates[:2*limit]
	}

	f.log.Info("Fetched listings", "sections", len(f.opts.Sections), "candidates", len(candidates))

	articles := f.fetchContents(ctx, candidates)

	out := make([]core.Article, 0, limit)
	for _, a := range articles {
		if utf8.RuneCountInString(a.Title) <= minTitleLength {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}

	return Result{Articles: out, Candidates: len(candidates)}, nil
}

// fetchContents downloads article bodies concurrently. Failures fall back
// to the title and never abort the batch.
func (f *Fetcher) fetchContents(ctx context.Context, candidates []candidate) []core.Article {
	articles := make([]core.Article, len(candidates))

	var g errgroup.Group
	g.SetLimit(f.opts.MaxConcurrency)
	for i, c := range candidates {
		g.Go(func() error {
			raw, err := f.fetchArticleContent(ctx, c.URL)
			if err != nil || raw == "" {
				if err != nil {
					f.log.Warn("Article content unavailable, using title", "error", sanitize.Error(err))
				}
				raw = c.Title
			}
			articles[i] = core.Article{
				Title:       c.Title,
				URL:         c.URL,
				RawContent:  raw,
				Content:     sanitize.Truncate(sanitize.Text(raw), core.MaxContentLength),
				PublishedAt: c.PublishedAt,
				Category:    c.Category,
			}
			return nil
		})
	}
	_ = g.Wait()

	return articles
}

// get performs a rate limited GET and checks the status code.
// The caller must close the response body.
func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	if f.limiter != nil && !f.limiter.TryConsume(ratelimit.CategoryHTTP) {
		return nil, &FetchError{URL: url, Err: ratelimit.Exceeded(ratelimit.CategoryHTTP)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
