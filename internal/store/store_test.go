package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"newsdigest/internal/config"
	"newsdigest/internal/core"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// backends returns a fresh repository of every kind, each with a frozen clock.
func backends(t *testing.T) map[string]Repository {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	sqlite.now = func() time.Time { return fixedNow }
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Repository{
		"memory": NewMemoryStore(WithMemoryClock(func() time.Time { return fixedNow })),
		"sqlite": sqlite,
	}
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "newsdigest.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should be created")
	}
	if s.Path() != dbPath {
		t.Errorf("Expected path %s, got %s", dbPath, s.Path())
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.Storage{Driver: "postgres"}, nil)
	if err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestDigestLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			d := &core.Digest{
				Title:     "Reform bill passes",
				Content:   "<p>The bill passed.</p>",
				WordCount: 3,
				ImageURL:  "https://example.com/a.jpg",
				Articles: []core.Article{
					{Title: "Parliament passes reform bill", URL: "https://example.com/1", Category: core.CategoryDomestic, PublishedAt: fixedNow},
				},
			}
			if err := repo.CreateDigest(ctx, d); err != nil {
				t.Fatalf("CreateDigest failed: %v", err)
			}
			if d.ID == "" {
				t.Fatal("Expected ID to be assigned")
			}
			if d.Status != core.DigestGenerated {
				t.Errorf("Expected status generated, got %s", d.Status)
			}

			got, err := repo.GetDigest(ctx, d.ID)
			if err != nil {
				t.Fatalf("GetDigest failed: %v", err)
			}
			if got.Title != d.Title || got.ImageURL != d.ImageURL || got.WordCount != 3 {
				t.Errorf("Unexpected digest %+v", got)
			}
			if len(got.Articles) != 1 || got.Articles[0].URL != "https://example.com/1" {
				t.Errorf("Expected article snapshot to round-trip, got %+v", got.Articles)
			}
			if !got.CreatedAt.Equal(fixedNow) {
				t.Errorf("Expected CreatedAt %v, got %v", fixedNow, got.CreatedAt)
			}

			if err := repo.UpdateDigestStatus(ctx, d.ID, core.DigestSent); err != nil {
				t.Fatalf("UpdateDigestStatus failed: %v", err)
			}
			if err := repo.UpdateDigestStatus(ctx, d.ID, core.DigestFailed); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Expected ErrInvalidTransition for sent -> failed, got %v", err)
			}
			if err := repo.UpdateDigestStatus(ctx, d.ID, core.DigestGenerated); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Expected ErrInvalidTransition for sent -> generated, got %v", err)
			}

			got, _ = repo.GetDigest(ctx, d.ID)
			if got.Status != core.DigestSent {
				t.Errorf("Expected status to stay sent, got %s", got.Status)
			}
		})
	}
}

func TestUpdateDigestStatusConcurrentCallersHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			d := &core.Digest{Title: "Race", Content: "<p>x</p>"}
			if err := repo.CreateDigest(ctx, d); err != nil {
				t.Fatalf("CreateDigest failed: %v", err)
			}

			const callers = 8
			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					status := core.DigestSent
					if i%2 == 1 {
						status = core.DigestFailed
					}
					errs[i] = repo.UpdateDigestStatus(ctx, d.ID, status)
				}()
			}
			wg.Wait()

			wins := 0
			for _, err := range errs {
				switch {
				case err == nil:
					wins++
				case !errors.Is(err, ErrInvalidTransition):
					t.Errorf("Expected ErrInvalidTransition for losing callers, got %v", err)
				}
			}
			if wins != 1 {
				t.Errorf("Expected exactly one successful transition, got %d", wins)
			}
		})
	}
}

func TestDigestNotFound(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := repo.GetDigest(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
			if err := repo.UpdateDigestStatus(ctx, "missing", core.DigestSent); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestListDigestsNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, title := range []string{"first", "second", "third"} {
				d := &core.Digest{Title: title, Content: "<p>x</p>", CreatedAt: fixedNow.Add(time.Duration(i) * time.Minute)}
				if err := repo.CreateDigest(ctx, d); err != nil {
					t.Fatalf("CreateDigest failed: %v", err)
				}
			}

			all, err := repo.ListDigests(ctx, ListOptions{})
			if err != nil {
				t.Fatalf("ListDigests failed: %v", err)
			}
			if len(all) != 3 || all[0].Title != "third" || all[2].Title != "first" {
				t.Errorf("Expected newest first, got %v", titles(all))
			}

			page, _ := repo.ListDigests(ctx, ListOptions{Limit: 1, Offset: 1})
			if len(page) != 1 || page[0].Title != "second" {
				t.Errorf("Expected second page to hold 'second', got %v", titles(page))
			}

			empty, _ := repo.ListDigests(ctx, ListOptions{Offset: 10})
			if len(empty) != 0 {
				t.Errorf("Expected empty page, got %d", len(empty))
			}
		})
	}
}

func titles(ds []core.Digest) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Title
	}
	return out
}

func TestEmailLogs(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			d := &core.Digest{Title: "t", Content: "c"}
			if err := repo.CreateDigest(ctx, d); err != nil {
				t.Fatalf("CreateDigest failed: %v", err)
			}

			sentAt := fixedNow
			errText := "550 mailbox unavailable"
			logs := []core.EmailLog{
				{DigestID: d.ID, Recipient: "a@example.com", Subject: "s", Status: core.EmailSent, SentAt: &sentAt},
				{DigestID: d.ID, Recipient: "b@example.com", Subject: "s", Status: core.EmailFailed, Error: &errText},
			}
			for i := range logs {
				if err := repo.CreateEmailLog(ctx, &logs[i]); err != nil {
					t.Fatalf("CreateEmailLog failed: %v", err)
				}
			}

			byDigest, err := repo.ListEmailLogsByDigest(ctx, d.ID)
			if err != nil {
				t.Fatalf("ListEmailLogsByDigest failed: %v", err)
			}
			if len(byDigest) != 2 || byDigest[0].Recipient != "a@example.com" || byDigest[1].Recipient != "b@example.com" {
				t.Fatalf("Expected logs in insertion order, got %+v", byDigest)
			}
			if byDigest[0].SentAt == nil || !byDigest[0].SentAt.Equal(fixedNow) || byDigest[0].Error != nil {
				t.Errorf("Unexpected sent log %+v", byDigest[0])
			}
			if byDigest[1].Error == nil || *byDigest[1].Error != errText || byDigest[1].SentAt != nil {
				t.Errorf("Unexpected failed log %+v", byDigest[1])
			}

			recent, _ := repo.ListEmailLogs(ctx, ListOptions{})
			if len(recent) != 2 || recent[0].Recipient != "b@example.com" {
				t.Errorf("Expected newest email log first, got %+v", recent)
			}

			none, _ := repo.ListEmailLogsByDigest(ctx, "other")
			if none == nil || len(none) != 0 {
				t.Errorf("Expected empty non-nil list, got %v", none)
			}
		})
	}
}

func TestSystemLogsKeepInsertionOrderWithinSameInstant(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, msg := range []string{"started", "fetched", "finished"} {
				l := &core.SystemLog{Type: core.LogInfo, Message: msg, Details: map[string]any{"stage": msg}}
				if err := repo.CreateSystemLog(ctx, l); err != nil {
					t.Fatalf("CreateSystemLog failed: %v", err)
				}
			}

			logs, err := repo.ListSystemLogs(ctx, ListOptions{Limit: 10})
			if err != nil {
				t.Fatalf("ListSystemLogs failed: %v", err)
			}
			if len(logs) != 3 || logs[0].Message != "finished" || logs[2].Message != "started" {
				t.Fatalf("Expected newest first by sequence, got %+v", logs)
			}
			if logs[0].Details["stage"] != "finished" {
				t.Errorf("Expected details to round-trip, got %v", logs[0].Details)
			}
		})
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := repo.GetSetting(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}

			if err := repo.SetSetting(ctx, core.SettingScheduleInterval, "3"); err != nil {
				t.Fatalf("SetSetting failed: %v", err)
			}
			if err := repo.SetSetting(ctx, core.SettingScheduleInterval, "6"); err != nil {
				t.Fatalf("SetSetting failed: %v", err)
			}
			s, err := repo.GetSetting(ctx, core.SettingScheduleInterval)
			if err != nil {
				t.Fatalf("GetSetting failed: %v", err)
			}
			if s.Value != "6" {
				t.Errorf("Expected last write to win, got %s", s.Value)
			}

			_ = repo.SetSetting(ctx, core.SettingEmailRecipients, "[]")
			all, _ := repo.ListSettings(ctx)
			if len(all) != 2 || all[0].Key != core.SettingEmailRecipients {
				t.Errorf("Expected settings ordered by key, got %+v", all)
			}
		})
	}
}

func TestSeedDefaultsKeepsExistingValues(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{}
	cfg.Schedule.DefaultInterval = 3
	cfg.Schedule.Enabled = true
	cfg.Email.DefaultRecipients = []string{"admin@example.com"}
	defaults := DefaultSettings(cfg, fixedNow)

	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = repo.SetSetting(ctx, core.SettingScheduleInterval, "12")

			if err := SeedDefaults(ctx, repo, defaults); err != nil {
				t.Fatalf("SeedDefaults failed: %v", err)
			}

			interval, _ := repo.GetSetting(ctx, core.SettingScheduleInterval)
			if interval.Value != "12" {
				t.Errorf("Expected existing interval to be kept, got %s", interval.Value)
			}
			enabled, _ := repo.GetSetting(ctx, core.SettingScheduleEnabled)
			if enabled.Value != "true" {
				t.Errorf("Expected schedule_enabled=true, got %s", enabled.Value)
			}

			recipients, err := Recipients(ctx, repo)
			if err != nil {
				t.Fatalf("Recipients failed: %v", err)
			}
			if len(recipients) != 1 || recipients[0] != "admin@example.com" {
				t.Errorf("Expected seeded recipients, got %v", recipients)
			}
		})
	}
}

func TestRecipients(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore()

	got, err := Recipients(ctx, repo)
	if err != nil || len(got) != 0 {
		t.Errorf("Expected no recipients without setting, got %v, %v", got, err)
	}

	if err := SetRecipients(ctx, repo, []string{"a@example.com", "b@example.com"}); err != nil {
		t.Fatalf("SetRecipients failed: %v", err)
	}
	got, _ = Recipients(ctx, repo)
	if len(got) != 2 || got[1] != "b@example.com" {
		t.Errorf("Unexpected recipients %v", got)
	}

	_ = repo.SetSetting(ctx, core.SettingEmailRecipients, "not json")
	if _, err := Recipients(ctx, repo); err == nil {
		t.Error("Expected error for malformed recipients setting")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			stats, err := repo.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats failed: %v", err)
			}
			if stats.TotalDigests != 0 || stats.SuccessRate != 100 || stats.SystemStatus != StatusHealthy {
				t.Errorf("Unexpected empty stats %+v", stats)
			}

			d := &core.Digest{Title: "t", Content: "c"}
			_ = repo.CreateDigest(ctx, d)
			for _, status := range []core.EmailStatus{core.EmailSent, core.EmailFailed, core.EmailFailed} {
				_ = repo.CreateEmailLog(ctx, &core.EmailLog{DigestID: d.ID, Recipient: "x@example.com", Subject: "s", Status: status})
			}
			_ = repo.SetSetting(ctx, core.SettingLastDigestTime, "2024-05-01T12:00:00Z")
			_ = repo.CreateSystemLog(ctx, &core.SystemLog{Type: core.LogInfo, Message: "ok"})
			_ = repo.CreateSystemLog(ctx, &core.SystemLog{Type: core.LogError, Message: "boom"})

			stats, err = repo.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats failed: %v", err)
			}
			if stats.TotalDigests != 1 {
				t.Errorf("Expected 1 digest, got %d", stats.TotalDigests)
			}
			if stats.SuccessRate != 33.3 {
				t.Errorf("Expected success rate 33.3, got %v", stats.SuccessRate)
			}
			if stats.SystemStatus != StatusDegraded {
				t.Errorf("Expected Degraded after an error log, got %s", stats.SystemStatus)
			}
			if stats.LastDigestTime != "2024-05-01T12:00:00Z" {
				t.Errorf("Unexpected last digest time %s", stats.LastDigestTime)
			}
		})
	}
}
