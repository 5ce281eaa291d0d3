package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/logger"
	"newsdigest/internal/ratelimit"
	"newsdigest/internal/sanitize"
)

// Message is one outgoing email.
type Message struct {
	From     string
	FromName string
	To       string
	Subject  string
	HTML     string
	Text     string
}

// Transport delivers messages.
type Transport interface {
	Verify(ctx context.Context) error
	Send(ctx context.Context, msg Message) error
}

// RateLimiter is consulted once per recipient.
type RateLimiter interface {
	TryConsume(category string) bool
}

// Result is the delivery outcome for one recipient.
type Result struct {
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"` // sanitized
	SentAt    time.Time `json:"sent_at,omitempty"`
}

// EmailServiceError is returned when the transport cannot be reached.
// No recipient is attempted in that case.
type EmailServiceError struct {
	Err error
}

func (e *EmailServiceError) Error() string {
	return "email service connection failed: " + e.Err.Error()
}

func (e *EmailServiceError) Unwrap() error {
	return e.Err
}

// Dispatcher renders a digest once and sends it to each recipient in turn.
type Dispatcher struct {
	transport     Transport
	limiter       RateLimiter
	from          string
	fromName      string
	subjectPrefix string
	template      *EmailTemplate
	loc           *time.Location
	now           func() time.Time
	log           *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSender sets the From address and display name.
func WithSender(address, name string) Option {
	return func(d *Dispatcher) {
		d.from = address
		d.fromName = name
	}
}

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) Option {
	return func(d *Dispatcher) {
		if prefix != "" {
			d.subjectPrefix = prefix
		}
	}
}

// WithTemplate selects the email template.
func WithTemplate(t *EmailTemplate) Option {
	return func(d *Dispatcher) { d.template = t }
}

// WithLocation sets the timezone used for the generation date.
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) { d.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher creates a Dispatcher. A nil limiter allows every send.
func NewDispatcher(transport Transport, limiter RateLimiter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport:     transport,
		limiter:       limiter,
		subjectPrefix: DefaultSubjectPrefix,
		template:      GetDefaultEmailTemplate(),
		loc:           time.UTC,
		now:           time.Now,
		log:           logger.Get(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SendOption adjusts a single SendDigest call.
type SendOption func(*sendOptions)

type sendOptions struct {
	imageSrc string
}

// WithImage adds a lead image block. src is a data URI or an absolute URL.
func WithImage(src string) SendOption {
	return func(o *sendOptions) { o.imageSrc = src }
}

// Subject returns the subject line used for d.
func (d *Dispatcher) Subject(digest core.Digest) string {
	return GenerateSubject(d.subjectPrefix, digest.Title)
}

// SendDigest delivers the digest to every recipient. The returned slice
// has one entry per recipient, in the same order. A failure for one
// recipient never stops the batch; only an unreachable transport does,
// and then an *EmailServiceError is returned before any attempt.
func (d *Dispatcher) SendDigest(ctx context.Context, digest core.Digest, recipients []string, opts ...SendOption) ([]Result, error) {
	var so sendOptions
	for _, o := range opts {
		o(&so)
	}

	if err := d.transport.Verify(ctx); err != nil {
		d.log.Error("Email service connection test failed", "error", sanitize.Error(err))
		return nil, &EmailServiceError{Err: err}
	}

	data := ConvertDigestToEmail(digest, so.imageSrc, d.now(), d.loc)
	htmlBody, err := RenderHTMLEmail(data, d.template)
	if err != nil {
		return nil, err
	}
	textBody := renderPlainText(data, d.template.FooterText)
	subject := d.Subject(digest)

	results := make([]Result, len(recipients))
	for i, to := range recipients {
		results[i] = d.sendOne(ctx, Message{
			From:     d.from,
			FromName: d.fromName,
			To:       to,
			Subject:  subject,
			HTML:     htmlBody,
			Text:     textBody,
		})
	}
	return results, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, msg Message) Result {
	res := Result{Recipient: msg.To, Subject: msg.Subject}
	masked := sanitize.MaskEmail(msg.To)

	if d.limiter != nil && !d.limiter.TryConsume(ratelimit.CategoryEmail) {
		res.Error = sanitize.Error(ratelimit.Exceeded(ratelimit.CategoryEmail))
		d.log.Warn("Email rate limit exceeded", "recipient", masked)
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Error = sanitize.Error(fmt.Errorf("send cancelled: %w", err))
		return res
	}

	if err := d.transport.Send(ctx, msg); err != nil {
		res.Error = sanitize.Error(err)
		d.log.Error("Error sending email", "recipient", masked, "error", res.Error)
		return res
	}

	res.Success = true
	res.SentAt = d.now()
	d.log.Info("Digest email sent", "recipient", masked)
	return res
}
