// Package ratelimit keeps fixed-window counters for outbound calls.
package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"newsdigest/internal/config"
)

// Categories of outbound calls.
const (
	CategoryHTTP  = "http"
	CategoryAI    = "ai"
	CategoryEmail = "email"
)

// ErrLimitExceeded is returned when a category has no calls left in its window.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// ExceededError names the category that refused a call.
type ExceededError struct {
	Category string
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded", e.Category)
}

func (e *ExceededError) Unwrap() error {
	return ErrLimitExceeded
}

// Exceeded returns the error for a refused consume in category.
func Exceeded(category string) error {
	return &ExceededError{Category: category}
}

// Limit is the allowance for one category.
type Limit struct {
	Max    int
	Window time.Duration
}

type tracker struct {
	limit         Limit
	count         int
	windowResetAt time.Time
}

// Usage reports the state of one category.
type Usage struct {
	Category      string    `json:"category"`
	Count         int       `json:"count"`
	Limit         int       `json:"limit"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

// Limiter is an in-memory fixed-window rate limiter keyed by category.
type Limiter struct {
	mu       sync.Mutex
	trackers map[string]*tracker
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter for the given categories.
func New(limits map[string]Limit, opts ...Option) *Limiter {
	l := &Limiter{
		trackers: make(map[string]*tracker, len(limits)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	for category, limit := range limits {
		l.trackers[category] = &tracker{limit: limit}
	}
	return l
}

// FromConfig builds a limiter with the http, ai and email categories.
func FromConfig(cfg config.RateLimits, opts ...Option) *Limiter {
	return New(map[string]Limit{
		CategoryHTTP:  {Max: cfg.HTTP.Limit, Window: config.Duration(cfg.HTTP.Window, time.Hour)},
		CategoryAI:    {Max: cfg.AI.Limit, Window: config.Duration(cfg.AI.Window, time.Hour)},
		CategoryEmail: {Max: cfg.Email.Limit, Window: config.Duration(cfg.Email.Window, 24*time.Hour)},
	}, opts...)
}

// TryConsume takes one call from category. It returns false when the
// window is exhausted or the category is unknown.
func (l *Limiter) TryConsume(category string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.trackers[category]
	if !ok {
		return false
	}

	now := l.now()
	if now.After(t.windowResetAt) {
		t.count = 0
		t.windowResetAt = now.Add(t.limit.Window)
	}
	if t.count >= t.limit.Max {
		return false
	}
	t.count++
	return true
}

// Snapshot returns the current usage of every category, sorted by name.
func (l *Limiter) Snapshot() []Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Usage, 0, len(l.trackers))
	now := l.now()
	for category, t := range l.trackers {
		count := t.count
		if now.After(t.windowResetAt) {
			count = 0
		}
		out = append(out, Usage{
			Category:      category,
			Count:         count,
			Limit:         t.limit.Max,
			WindowResetAt: t.windowResetAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
