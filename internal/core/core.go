package core

import "time"

// Category marks which site section an article was listed under.
type Category string

const (
	CategoryDomestic      Category = "domestic"
	CategoryInternational Category = "international"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryDomestic || c == CategoryInternational
}

// Article represents a news article collected during a single fetch cycle.
// Articles are not stored on their own; they survive only inside a Digest.
type Article struct {
	Title       string    `json:"title"`        // Headline as shown on the listing page
	URL         string    `json:"url"`          // Absolute article URL
	RawContent  string    `json:"-"`            // Scraped body text before sanitization
	Content     string    `json:"content"`      // Sanitized body text, at most MaxContentLength runes
	PublishedAt time.Time `json:"published_at"` // Resolved publish time (fetch time when unknown)
	Category    Category  `json:"category"`     // Section the article came from
}

// MaxContentLength caps the sanitized article content.
const MaxContentLength = 2000

// MaxDigestTitleLength caps the AI generated digest title.
const MaxDigestTitleLength = 50

// DigestStatus is the delivery state of a digest.
type DigestStatus string

const (
	DigestGenerated DigestStatus = "generated"
	DigestSent      DigestStatus = "sent"
	DigestFailed    DigestStatus = "failed"
)

// CanTransition reports whether a digest may move from s to next.
// Only generated -> sent and generated -> failed are allowed.
func (s DigestStatus) CanTransition(next DigestStatus) bool {
	return s == DigestGenerated && (next == DigestSent || next == DigestFailed)
}

// Digest represents one generated news summary and the articles it was built from.
type Digest struct {
	ID        string       `json:"id"`                  // Unique identifier for the digest
	Title     string       `json:"title"`               // AI generated title
	Content   string       `json:"content"`             // HTML body
	WordCount int          `json:"word_count"`          // Whitespace token count of the body text
	Articles  []Article    `json:"articles"`            // Ranked article snapshots used for generation
	ImageURL  string       `json:"image_url,omitempty"` // Source URL of the lead image, if any
	Status    DigestStatus `json:"status"`              // generated, sent or failed
	CreatedAt time.Time    `json:"created_at"`
}

// EmailStatus is the outcome recorded for one recipient.
type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSent    EmailStatus = "sent"
	EmailFailed  EmailStatus = "failed"
)

// EmailLog records one delivery attempt of a digest to one recipient.
type EmailLog struct {
	ID        string      `json:"id"`
	DigestID  string      `json:"digest_id"`
	Recipient string      `json:"recipient"`
	Subject   string      `json:"subject"`
	Status    EmailStatus `json:"status"`
	Error     *string     `json:"error"`
	SentAt    *time.Time  `json:"sent_at"`
	CreatedAt time.Time   `json:"created_at"`
}

// LogType classifies system log entries.
type LogType string

const (
	LogInfo    LogType = "info"
	LogWarning LogType = "warning"
	LogError   LogType = "error"
)

// SystemLog is an append-only operational record shown on the dashboard.
type SystemLog struct {
	ID        string         `json:"id"`
	Type      LogType        `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// Setting is a persisted key/value pair.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Well known setting keys.
const (
	SettingScheduleEnabled  = "schedule_enabled"
	SettingScheduleInterval = "schedule_interval"
	SettingEmailRecipients  = "email_recipients"
	SettingLastDigestTime   = "last_digest_time"
)

// DigestStats summarizes the store for the dashboard.
type DigestStats struct {
	TotalDigests   int     `json:"total_digests"`
	SuccessRate    float64 `json:"success_rate"`
	NextDigestTime string  `json:"next_digest_time"`
	LastDigestTime string  `json:"last_digest_time"`
	SystemStatus   string  `json:"system_status"`
}
