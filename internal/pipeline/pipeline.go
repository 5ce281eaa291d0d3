// Package pipeline runs one digest generation end to end: fetch, rank,
// summarize, store, deliver and record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/email"
	"newsdigest/internal/fetch"
	"newsdigest/internal/logger"
	"newsdigest/internal/metrics"
	"newsdigest/internal/relevance"
	"newsdigest/internal/sanitize"
	"newsdigest/internal/store"
)

var (
	// ErrNoArticles is returned when the fetch stage produced nothing
	ErrNoArticles = errors.New("no articles fetched")
	// ErrNoRecipients is returned when the recipient list is missing or empty
	ErrNoRecipients = errors.New("no recipients configured")
)

// Pipeline stages, used in error logs and metrics.
const (
	StageStart      = "start"
	StageFetch      = "fetch"
	StageRank       = "rank"
	StageSummarize  = "summarize"
	StagePersist    = "persist"
	StageRecipients = "recipients"
	StageDispatch   = "dispatch"
	StageRecord     = "record"
)

// Config holds pipeline configuration
type Config struct {
	ArticleLimit int
	DryRun       bool // generate and store the digest without sending it
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		ArticleLimit: fetch.DefaultLimit,
	}
}

// RunReport summarizes one pipeline run.
type RunReport struct {
	DigestID  string        `json:"digest_id,omitempty"`
	Title     string        `json:"title,omitempty"`
	Articles  int           `json:"articles"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	DryRun    bool          `json:"dry_run,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Pipeline orchestrates the digest generation workflow
type Pipeline struct {
	fetcher    NewsFetcher
	ranker     ArticleRanker
	composer   DigestComposer
	dispatcher EmailDispatcher
	repo       store.Repository

	config *Config
	now    func() time.Time
	log    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// NewPipeline creates a new pipeline with all dependencies
func NewPipeline(
	fetcher NewsFetcher,
	ranker ArticleRanker,
	composer DigestComposer,
	dispatcher EmailDispatcher,
	repo store.Repository,
	config *Config,
	opts ...Option,
) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ArticleLimit <= 0 {
		config.ArticleLimit = fetch.DefaultLimit
	}

	p := &Pipeline{
		fetcher:    fetcher,
		ranker:     ranker,
		composer:   composer,
		dispatcher: dispatcher,
		repo:       repo,
		config:     config,
		now:        time.Now,
		log:        logger.Get(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes the pipeline once. Every failure is recorded as an error
// system log, moves the digest (if one was stored) to failed and is
// returned; a panic in any stage is converted to an error.
func (p *Pipeline) Run(ctx context.Context) (report *RunReport, err error) {
	report = &RunReport{StartedAt: p.now(), DryRun: p.config.DryRun}
	stage := StageStart

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during %s stage: %v", stage, r)
		}
		report.Duration = p.now().Sub(report.StartedAt)

		if err != nil {
			p.fail(ctx, stage, report.DigestID, err)
			metrics.RecordRun("failed", report.Articles, report.Duration.Seconds())
			return
		}
		metrics.RecordRun("success", report.Articles, report.Duration.Seconds())
	}()

	p.systemLog(ctx, core.LogInfo, "Digest generation started", nil)

	stage = StageFetch
	p.systemLog(ctx, core.LogInfo, "Fetching news articles", nil)
	result, err := p.fetcher.FetchLatestNews(ctx, p.config.ArticleLimit)
	if err != nil {
		return report, fmt.Errorf("failed to fetch news: %w", err)
	}
	if len(result.Articles) == 0 {
		return report, ErrNoArticles
	}
	report.Articles = len(result.Articles)
	p.systemLog(ctx, core.LogInfo, fmt.Sprintf("Fetched %d articles", len(result.Articles)), map[string]any{
		"articles":   len(result.Articles),
		"candidates": result.Candidates,
	})

	stage = StageRank
	ranked := p.ranker.Rank(result.Articles)
	image := p.leadImage(ctx, ranked[0].Article)

	stage = StageSummarize
	p.systemLog(ctx, core.LogInfo, "Starting AI digest generation", map[string]any{"articles": len(ranked)})
	composed, err := p.composer.GenerateDigest(ctx, ranked)
	if err != nil {
		return report, err
	}
	p.systemLog(ctx, core.LogInfo, "AI summary generated", map[string]any{
		"title":      composed.Title,
		"word_count": composed.WordCount,
	})

	stage = StagePersist
	digest := &core.Digest{
		Title:     composed.Title,
		Content:   composed.Content,
		WordCount: composed.WordCount,
		Articles:  relevance.Articles(ranked),
		ImageURL:  image.SourceURL,
		Status:    core.DigestGenerated,
		CreatedAt: p.now().UTC(),
	}
	if err := p.repo.CreateDigest(ctx, digest); err != nil {
		return report, fmt.Errorf("failed to store digest: %w", err)
	}
	report.DigestID = digest.ID
	report.Title = digest.Title

	if p.config.DryRun {
		p.systemLog(ctx, core.LogInfo, "Dry run: email delivery skipped", map[string]any{"digest_id": digest.ID})
		return report, nil
	}

	stage = StageRecipients
	recipients, err := store.Recipients(ctx, p.repo)
	if err != nil {
		return report, fmt.Errorf("failed to load recipients: %w", err)
	}
	if len(recipients) == 0 {
		return report, ErrNoRecipients
	}

	stage = StageDispatch
	p.systemLog(ctx, core.LogInfo, fmt.Sprintf("Sending digest to %d recipients", len(recipients)), map[string]any{"digest_id": digest.ID})
	results, err := p.dispatcher.SendDigest(ctx, *digest, recipients, email.WithImage(image.Src()))
	if err != nil {
		return report, err
	}

	stage = StageRecord
	for _, r := range results {
		if err := p.repo.CreateEmailLog(ctx, emailLog(digest.ID, r, p.now().UTC())); err != nil {
			return report, fmt.Errorf("failed to store email log: %w", err)
		}
		if r.Success {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	metrics.RecordEmails(report.Sent, report.Failed)

	status := core.DigestFailed
	if report.Sent > 0 {
		status = core.DigestSent
	}
	if err := p.repo.UpdateDigestStatus(ctx, digest.ID, status); err != nil {
		return report, fmt.Errorf("failed to update digest status: %w", err)
	}
	if err := p.repo.SetSetting(ctx, core.SettingLastDigestTime, p.now().UTC().Format(time.RFC3339)); err != nil {
		return report, fmt.Errorf("failed to record digest time: %w", err)
	}

	p.systemLog(ctx, core.LogInfo,
		fmt.Sprintf("Digest sent to %d of %d recipients", report.Sent, len(recipients)),
		map[string]any{
			"digest_id": digest.ID,
			"sent":      report.Sent,
			"failed":    report.Failed,
			"status":    string(status),
		})

	return report, nil
}

// leadImage selects the top story's picture. Failure only costs the image.
func (p *Pipeline) leadImage(ctx context.Context, top core.Article) fetch.LeadImage {
	image, err := p.fetcher.SelectLeadImage(ctx, top)
	if err == nil {
		return image
	}
	if errors.Is(err, fetch.ErrNoImage) {
		p.log.Debug("No lead image found", "url", top.URL)
	} else {
		p.systemLog(ctx, core.LogWarning, "Lead image unavailable", map[string]any{"error": sanitize.Error(err)})
	}
	return fetch.LeadImage{}
}

func emailLog(digestID string, r email.Result, now time.Time) *core.EmailLog {
	l := &core.EmailLog{
		DigestID:  digestID,
		Recipient: r.Recipient,
		Subject:   r.Subject,
		Status:    core.EmailFailed,
		CreatedAt: now,
	}
	if r.Success {
		sentAt := r.SentAt
		l.Status = core.EmailSent
		l.SentAt = &sentAt
	} else {
		errText := r.Error
		l.Error = &errText
	}
	return l
}

// fail records a failed run and moves the digest to failed when possible.
func (p *Pipeline) fail(ctx context.Context, stage, digestID string, err error) {
	ctx = context.WithoutCancel(ctx)
	metrics.RecordError(stage)
	msg := sanitize.Error(err)
	p.log.Error("Digest generation failed", "stage", stage, "error", msg)

	details := map[string]any{"stage": stage, "error": msg}
	if digestID != "" {
		details["digest_id"] = digestID
	}
	p.systemLog(ctx, core.LogError, "Digest generation failed: "+msg, details)

	if digestID == "" {
		return
	}
	if uerr := p.repo.UpdateDigestStatus(ctx, digestID, core.DigestFailed); uerr != nil && !errors.Is(uerr, store.ErrInvalidTransition) {
		p.log.Warn("Failed to mark digest as failed", "digest_id", digestID, "error", sanitize.Error(uerr))
	}
}

// systemLog appends a sanitized system log. A storage failure is only
// reported to the process log.
func (p *Pipeline) systemLog(ctx context.Context, logType core.LogType, message string, details map[string]any) {
	entry := &core.SystemLog{
		Type:      logType,
		Message:   sanitize.Message(message),
		Details:   details,
		CreatedAt: p.now().UTC(),
	}
	if err := p.repo.CreateSystemLog(ctx, entry); err != nil {
		p.log.Warn("Failed to write system log", "message", entry.Message, "error", sanitize.Error(err))
	}
}
