package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"newsdigest/internal/config"
	"newsdigest/internal/core"
	"newsdigest/internal/logger"
	"newsdigest/internal/pipeline"
	"newsdigest/internal/ratelimit"
	"newsdigest/internal/scheduler"
	"newsdigest/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 1, 30, 0, 0, time.UTC)

type stubRunner struct {
	report *pipeline.RunReport
	err    error
}

func (r *stubRunner) Run(context.Context) (*pipeline.RunReport, error) {
	return r.report, r.err
}

type testEnv struct {
	repo   *store.MemoryStore
	sched  *scheduler.Scheduler
	runner *stubRunner
	server *Server
}

func newTestEnv(t *testing.T, cfg config.Server) *testEnv {
	t.Helper()
	clock := func() time.Time { return testNow }

	repo := store.NewMemoryStore(store.WithMemoryClock(clock))
	runner := &stubRunner{report: &pipeline.RunReport{DigestID: "d-1", Sent: 1}}
	sched := scheduler.New(runner, repo, scheduler.WithClock(clock), scheduler.WithLogger(logger.Discard()))
	t.Cleanup(func() { sched.StopSchedule(context.Background()) })

	return &testEnv{
		repo:   repo,
		sched:  sched,
		runner: runner,
		server: New(repo, sched, cfg, WithLogger(logger.Discard()), WithClock(clock)),
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.Server{})

	rec := env.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Checks["store"])
	assert.Equal(t, "idle", resp.Checks["scheduler"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, config.Server{})
	ctx := context.Background()

	rec := env.do(t, http.MethodGet, "/api/dashboard/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[core.DigestStats](t, rec)
	assert.Equal(t, 0, stats.TotalDigests)
	assert.Equal(t, 100.0, stats.SuccessRate)
	assert.Empty(t, stats.NextDigestTime)

	require.NoError(t, env.sched.StartSchedule(ctx, 6))
	rec = env.do(t, http.MethodGet, "/api/dashboard/stats", "")
	stats = decode[core.DigestStats](t, rec)
	// Scheduler runs in UTC here: 01:30 -> 06:00.
	assert.Equal(t, "2024-05-01T06:00:00Z", stats.NextDigestTime)
}

func TestStatsIncludesRateLimits(t *testing.T) {
	repo := store.NewMemoryStore(store.WithMemoryClock(func() time.Time { return testNow }))
	sched := scheduler.New(&stubRunner{}, repo, scheduler.WithLogger(logger.Discard()))
	limiter := ratelimit.New(map[string]ratelimit.Limit{
		ratelimit.CategoryAI: {Max: 5, Window: time.Hour},
	}, ratelimit.WithClock(func() time.Time { return testNow }))
	require.True(t, limiter.TryConsume(ratelimit.CategoryAI))

	srv := New(repo, sched, config.Server{}, WithLogger(logger.Discard()), WithRateLimits(limiter))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		TotalDigests int               `json:"total_digests"`
		RateLimits   []ratelimit.Usage `json:"rate_limits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.RateLimits, 1)
	assert.Equal(t, "ai", resp.RateLimits[0].Category)
	assert.Equal(t, 1, resp.RateLimits[0].Count)
	assert.Equal(t, 5, resp.RateLimits[0].Limit)
	assert.Equal(t, 0, resp.TotalDigests)
}

func TestDigestEndpoints(t *testing.T) {
	env := newTestEnv(t, config.Server{})
	ctx := context.Background()

	rec := env.do(t, http.MethodGet, "/api/digests", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	digest := &core.Digest{Title: "Budget passes", Content: "<p>Body</p>", WordCount: 1}
	require.NoError(t, env.repo.CreateDigest(ctx, digest))
	require.NoError(t, env.repo.CreateEmailLog(ctx, &core.EmailLog{
		DigestID: digest.ID, Recipient: "a@example.com", Subject: "s", Status: core.EmailSent,
	}))

	rec = env.do(t, http.MethodGet, "/api/digests?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.Digest](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/digests/"+digest.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		ID        string          `json:"id"`
		Title     string          `json:"title"`
		EmailLogs []core.EmailLog `json:"email_logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, digest.ID, detail.ID)
	assert.Equal(t, "Budget passes", detail.Title)
	require.Len(t, detail.EmailLogs, 1)
	assert.Equal(t, "a@example.com", detail.EmailLogs[0].Recipient)

	rec = env.do(t, http.MethodGet, "/api/digests/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Digest not found", decode[ErrorResponse](t, rec).Error.Message)
}

func TestListRejectsBadParams(t *testing.T) {
	env := newTestEnv(t, config.Server{})

	for _, path := range []string{"/api/digests?limit=abc", "/api/logs?offset=-1", "/api/email-logs?limit=-5"} {
		rec := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestLogEndpoints(t *testing.T) {
	env := newTestEnv(t, config.Server{})
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, env.repo.CreateSystemLog(ctx, &core.SystemLog{Type: core.LogInfo, Message: msg}))
	}

	rec := env.do(t, http.MethodGet, "/api/logs?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[[]core.SystemLog](t, rec)
	require.Len(t, logs, 2)
	assert.Equal(t, "third", logs[0].Message)
	assert.Equal(t, "second", logs[1].Message)

	rec = env.do(t, http.MethodGet, "/api/email-logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestTrigger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t, config.Server{})
		rec := env.do(t, http.MethodPost, "/api/digest/trigger", "")

		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[scheduler.TriggerResult](t, rec)
		assert.True(t, res.Success)
		assert.Equal(t, "d-1", res.DigestID)
	})

	t.Run("failure is sanitized", func(t *testing.T) {
		env := newTestEnv(t, config.Server{})
		env.runner.err = errors.New("openai rejected key sk-abcdefghijklmnop")

		rec := env.do(t, http.MethodPost, "/api/digest/trigger", "")

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		res := decode[scheduler.TriggerResult](t, rec)
		assert.False(t, res.Success)
		assert.NotContains(t, res.Message, "sk-abcdefghijklmnop")
	})

	t.Run("throttled per client", func(t *testing.T) {
		env := newTestEnv(t, config.Server{TriggerPerHour: 1})

		first := env.do(t, http.MethodPost, "/api/digest/trigger", "")
		second := env.do(t, http.MethodPost, "/api/digest/trigger", "")

		assert.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.Equal(t, "3600", second.Header().Get("Retry-After"))
	})
}

func TestScheduleInterval(t *testing.T) {
	env := newTestEnv(t, config.Server{})
	ctx := context.Background()

	for _, body := range []string{`{"interval": 0}`, `{"interval": 25}`, `{}`, `{"interval": "six"}`, `not json`} {
		rec := env.do(t, http.MethodPost, "/api/schedule/interval", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, invalidIntervalMessage, decode[ErrorResponse](t, rec).Error.Message)
	}

	rec := env.do(t, http.MethodPost, "/api/schedule/interval", `{"interval": 6}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, decode[IntervalResponse](t, rec).Interval)

	setting, err := env.repo.GetSetting(ctx, core.SettingScheduleInterval)
	require.NoError(t, err)
	assert.Equal(t, "6", setting.Value)
	assert.Equal(t, scheduler.StateIdle, env.sched.Status().State, "disabled schedule stays idle")
}

func TestScheduleIntervalRestartsEnabledSchedule(t *testing.T) {
	env := newTestEnv(t, config.Server{})
	require.NoError(t, env.sched.StartSchedule(context.Background(), 3))

	rec := env.do(t, http.MethodPost, "/api/schedule/interval", `{"interval": 8}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 8, env.sched.Status().Interval)
}

func TestScheduleToggle(t *testing.T) {
	env := newTestEnv(t, config.Server{})
	ctx := context.Background()
	require.NoError(t, env.repo.SetSetting(ctx, core.SettingScheduleInterval, "4"))

	rec := env.do(t, http.MethodPost, "/api/schedule/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ToggleResponse](t, rec).Enabled)
	assert.Equal(t, 4, env.sched.Status().Interval)

	rec = env.do(t, http.MethodGet, "/api/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sched := decode[ScheduleResponse](t, rec)
	assert.True(t, sched.Enabled)
	assert.True(t, sched.IsActive)
	assert.Equal(t, []string{"00:00", "04:00", "08:00", "12:00", "16:00", "20:00"}, sched.Times)
	assert.NotEmpty(t, sched.NextRun)

	rec = env.do(t, http.MethodPost, "/api/schedule/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[ToggleResponse](t, rec).Enabled)
	assert.Equal(t, scheduler.StateIdle, env.sched.Status().State)

	setting, err := env.repo.GetSetting(ctx, core.SettingScheduleEnabled)
	require.NoError(t, err)
	assert.Equal(t, "false", setting.Value)
}

func TestRecipients(t *testing.T) {
	env := newTestEnv(t, config.Server{})

	rec := env.do(t, http.MethodGet, "/api/recipients", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/recipients", `{"recipients": ["ok@example.com", "broken@nowhere"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	msg := decode[ErrorResponse](t, rec).Error.Message
	assert.Contains(t, msg, "Invalid email addresses")
	assert.NotContains(t, msg, "broken@nowhere")

	rec = env.do(t, http.MethodPost, "/api/recipients", `{"recipients": "a@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/recipients", `{"recipients": ["a@example.com", " b@example.com "]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/recipients", "")
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, decode[[]string](t, rec))
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t, config.Server{})
	require.NoError(t, env.repo.SetSetting(context.Background(), core.SettingScheduleInterval, "3"))

	rec := env.do(t, http.MethodGet, "/api/settings", "")

	require.Equal(t, http.StatusOK, rec.Code)
	settings := decode[[]core.Setting](t, rec)
	require.Len(t, settings, 1)
	assert.Equal(t, core.SettingScheduleInterval, settings[0].Key)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, config.Server{})

	rec := env.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "newsdigest_schedule_active")
}
