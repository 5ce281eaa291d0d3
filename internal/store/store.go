// Package store persists digests, email logs, system logs and settings.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"newsdigest/internal/config"
	"newsdigest/internal/core"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a digest status would move backwards
	ErrInvalidTransition = errors.New("invalid digest status transition")
)

// Default values for list queries
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ListOptions provides pagination. Lists are always newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

// normalize clamps the limit into (0, MaxListLimit] and the offset to >= 0.
func (o ListOptions) normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Repository is the single source of truth for the service.
type Repository interface {
	// CreateDigest inserts a digest, assigning ID, CreatedAt and the
	// generated status when they are empty
	CreateDigest(ctx context.Context, digest *core.Digest) error

	// GetDigest retrieves a digest by ID
	GetDigest(ctx context.Context, id string) (*core.Digest, error)

	// ListDigests retrieves digests, newest first
	ListDigests(ctx context.Context, opts ListOptions) ([]core.Digest, error)

	// UpdateDigestStatus moves a digest forward; anything else is ErrInvalidTransition
	UpdateDigestStatus(ctx context.Context, id string, status core.DigestStatus) error

	// CreateEmailLog inserts an immutable email log row
	CreateEmailLog(ctx context.Context, log *core.EmailLog) error

	// ListEmailLogs retrieves email logs, newest first
	ListEmailLogs(ctx context.Context, opts ListOptions) ([]core.EmailLog, error)

	// ListEmailLogsByDigest retrieves the logs of one digest in insertion order
	ListEmailLogsByDigest(ctx context.Context, digestID string) ([]core.EmailLog, error)

	// CreateSystemLog appends a system log entry
	CreateSystemLog(ctx context.Context, log *core.SystemLog) error

	// ListSystemLogs retrieves system logs, newest first
	ListSystemLogs(ctx context.Context, opts ListOptions) ([]core.SystemLog, error)

	// GetSetting retrieves a setting or ErrNotFound
	GetSetting(ctx context.Context, key string) (*core.Setting, error)

	// SetSetting writes a setting; last write wins
	SetSetting(ctx context.Context, key, value string) error

	// ListSettings retrieves every setting ordered by key
	ListSettings(ctx context.Context) ([]core.Setting, error)

	// Stats computes the dashboard counters. NextDigestTime is left empty;
	// the scheduler owns it.
	Stats(ctx context.Context) (*core.DigestStats, error)

	Close() error
}

// Open creates the repository selected by cfg.Driver and seeds defaults.
func Open(ctx context.Context, cfg config.Storage, defaults map[string]string) (Repository, error) {
	var (
		repo Repository
		err  error
	)
	switch cfg.Driver {
	case "", "memory":
		repo = NewMemoryStore()
	case "sqlite", "sqlite3":
		repo, err = NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	if err := SeedDefaults(ctx, repo, defaults); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

// DefaultSettings returns the settings written on first start.
func DefaultSettings(cfg *config.Config, now time.Time) map[string]string {
	recipients := cfg.Email.DefaultRecipients
	if recipients == nil {
		recipients = []string{}
	}
	encoded, _ := json.Marshal(recipients)

	interval := cfg.Schedule.DefaultInterval
	if interval < 1 || interval > 24 {
		interval = 3
	}

	return map[string]string{
		core.SettingScheduleEnabled:  fmt.Sprintf("%t", cfg.Schedule.Enabled),
		core.SettingScheduleInterval: fmt.Sprintf("%d", interval),
		core.SettingEmailRecipients:  string(encoded),
		core.SettingLastDigestTime:   now.UTC().Format(time.RFC3339),
	}
}

// SeedDefaults writes every default whose key is not set yet.
func SeedDefaults(ctx context.Context, repo Repository, defaults map[string]string) error {
	for key, value := range defaults {
		_, err := repo.GetSetting(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to read setting %s: %w", key, err)
		}
		if err := repo.SetSetting(ctx, key, value); err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}
	return nil
}

// Recipients decodes the email_recipients setting. A missing setting
// yields an empty list.
func Recipients(ctx context.Context, repo Repository) ([]string, error) {
	setting, err := repo.GetSetting(ctx, core.SettingEmailRecipients)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if setting.Value == "" {
		return nil, nil
	}

	var recipients []string
	if err := json.Unmarshal([]byte(setting.Value), &recipients); err != nil {
		return nil, fmt.Errorf("invalid %s setting: %w", core.SettingEmailRecipients, err)
	}
	return recipients, nil
}

// SetRecipients stores the recipient list as JSON.
func SetRecipients(ctx context.Context, repo Repository, recipients []string) error {
	if recipients == nil {
		recipients = []string{}
	}
	encoded, err := json.Marshal(recipients)
	if err != nil {
		return err
	}
	return repo.SetSetting(ctx, core.SettingEmailRecipients, string(encoded))
}

// Status strings reported on the dashboard.
const (
	StatusHealthy  = "Healthy"
	StatusDegraded = "Degraded"
)

// buildStats assembles the counters shared by every backend.
func buildStats(totalDigests, sentLogs, totalLogs int, lastDigest string, latest core.LogType) *core.DigestStats {
	rate := 100.0
	if totalLogs > 0 {
		rate = math.Round(float64(sentLogs)/float64(totalLogs)*1000) / 10
	}
	status := StatusHealthy
	if latest == core.LogError {
		status = StatusDegraded
	}
	return &core.DigestStats{
		TotalDigests:   totalDigests,
		SuccessRate:    rate,
		LastDigestTime: lastDigest,
		SystemStatus:   status,
	}
}

func checkTransition(id string, from, to core.DigestStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("digest %s: %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}
	return nil
}
