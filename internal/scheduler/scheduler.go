// Package scheduler triggers digest runs on aligned hourly boundaries and on
// demand, and guarantees that at most one run is active at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/logger"
	"newsdigest/internal/metrics"
	"newsdigest/internal/pipeline"
	"newsdigest/internal/sanitize"
	"newsdigest/internal/store"
)

const (
	MinInterval     = 1
	MaxInterval     = 24
	DefaultInterval = 3
)

var (
	// ErrInvalidInterval is returned for an interval outside 1-24 hours
	ErrInvalidInterval = errors.New("invalid interval: must be between 1 and 24 hours")
	// ErrRunInProgress is returned when a digest run is already active
	ErrRunInProgress = errors.New("a digest run is already in progress")
)

// State is the schedule state.
type State string

const (
	StateIdle      State = "idle"
	StateScheduled State = "scheduled"
)

// Runner executes one digest run.
type Runner interface {
	Run(ctx context.Context) (*pipeline.RunReport, error)
}

// TriggerResult is the outcome of a manual trigger.
type TriggerResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	DigestID string `json:"digest_id,omitempty"`
}

// Status describes the scheduler at one instant.
type Status struct {
	State    State      `json:"state"`
	Interval int        `json:"interval,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	Running  bool       `json:"running"`
	LastRun  *time.Time `json:"last_run,omitempty"`
}

// Scheduler owns the schedule timer and the running flag.
type Scheduler struct {
	runner Runner
	repo   store.Repository
	loc    *time.Location
	now    func() time.Time
	log    *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interval int
	nextRun  time.Time
	lastRun  time.Time

	running atomic.Bool
	runs    sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the timezone used for boundary alignment.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New creates an idle scheduler.
func New(runner Runner, repo store.Repository, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner: runner,
		repo:   repo,
		loc:    time.UTC,
		now:    time.Now,
		log:    logger.Get(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ValidInterval reports whether hours is an accepted schedule interval.
func ValidInterval(hours int) bool {
	return hours >= MinInterval && hours <= MaxInterval
}

// NextBoundary returns the first instant strictly after now whose local hour
// in loc is a multiple of hours, at minute zero.
func NextBoundary(now time.Time, hours int, loc *time.Location) time.Time {
	if !ValidInterval(hours) {
		hours = DefaultInterval
	}
	local := now.In(loc)
	y, m, d := local.Date()
	for day := 0; day <= 1; day++ {
		for h := 0; h < 24; h += hours {
			c := time.Date(y, m, d+day, h, 0, 0, 0, loc)
			if c.After(now) {
				return c
			}
		}
	}
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// DailyTimes lists the local trigger times of one day for an interval.
func DailyTimes(hours int) []string {
	if !ValidInterval(hours) {
		return nil
	}
	var times []string
	for h := 0; h < 24; h += hours {
		times = append(times, fmt.Sprintf("%02d:00", h))
	}
	return times
}

// StartSchedule replaces any active schedule with one firing every hours
// hours, aligned to local midnight, and persists it.
func (s *Scheduler) StartSchedule(ctx context.Context, hours int) error {
	if !ValidInterval(hours) {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	previous := s.stopLocked()
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.interval = hours
	s.nextRun = NextBoundary(s.now(), hours, s.loc)
	done := s.done
	s.mu.Unlock()

	if previous != nil {
		<-previous
	}
	go s.loop(loopCtx, hours, done)
	metrics.SetScheduleActive(true)

	if err := s.repo.SetSetting(ctx, core.SettingScheduleEnabled, "true"); err != nil {
		return fmt.Errorf("failed to persist schedule state: %w", err)
	}
	if err := s.repo.SetSetting(ctx, core.SettingScheduleInterval, strconv.Itoa(hours)); err != nil {
		return fmt.Errorf("failed to persist schedule interval: %w", err)
	}

	s.log.Info("Digest schedule started", "interval_hours", hours)
	s.systemLog(ctx, core.LogInfo, fmt.Sprintf("Digest schedule started: every %d hours", hours), map[string]any{
		"interval_hours": hours,
		"times":          DailyTimes(hours),
		"timezone":       s.loc.String(),
	})
	return nil
}

// StopSchedule cancels the timer. A run already in progress completes.
func (s *Scheduler) StopSchedule(ctx context.Context) {
	s.mu.Lock()
	previous := s.stopLocked()
	s.mu.Unlock()

	if previous != nil {
		<-previous
		metrics.SetScheduleActive(false)
		s.log.Info("Digest schedule stopped")
		s.systemLog(ctx, core.LogInfo, "Digest schedule stopped", nil)
	}
}

// stopLocked cancels the active loop and returns its done channel, or nil
// when idle. The caller waits on the channel after releasing mu.
func (s *Scheduler) stopLocked() chan struct{} {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	done := s.done
	s.cancel = nil
	s.done = nil
	s.interval = 0
	s.nextRun = time.Time{}
	return done
}

// Restore starts the persisted schedule when it is enabled.
func (s *Scheduler) Restore(ctx context.Context) error {
	enabled, err := s.repo.GetSetting(ctx, core.SettingScheduleEnabled)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if enabled.Value != "true" {
		return nil
	}
	return s.StartSchedule(ctx, StoredInterval(ctx, s.repo))
}

// StoredInterval reads the persisted interval, falling back to the default.
func StoredInterval(ctx context.Context, repo store.Repository) int {
	setting, err := repo.GetSetting(ctx, core.SettingScheduleInterval)
	if err != nil {
		return DefaultInterval
	}
	hours, err := strconv.Atoi(setting.Value)
	if err != nil || !ValidInterval(hours) {
		return DefaultInterval
	}
	return hours
}

// Shutdown stops the schedule and waits for an active run to finish.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	previous := s.stopLocked()
	s.mu.Unlock()
	if previous != nil {
		<-previous
		metrics.SetScheduleActive(false)
	}

	finished := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, hours int, done chan struct{}) {
	defer close(done)
	for {
		next := NextBoundary(s.now(), hours, s.loc)
		s.mu.Lock()
		if s.done == done {
			s.nextRun = next
		}
		s.mu.Unlock()

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
		s.tick(ctx)
	}
}

// tick starts a scheduled run unless one is already active.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.RecordSkippedTick()
		s.log.Warn("Skipping scheduled run, previous run still active")
		s.systemLog(ctx, core.LogWarning, "Scheduled digest skipped: previous run still in progress", nil)
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.running.Store(false)
		s.systemLog(ctx, core.LogInfo, "Scheduled digest task started", nil)
		// Stopping the schedule must not abort a run halfway through.
		if _, err := s.execute(context.WithoutCancel(ctx)); err != nil {
			s.log.Error("Scheduled digest run failed", "error", sanitize.Error(err))
		}
	}()
}

// ManualTrigger runs the pipeline once, independent of the schedule.
func (s *Scheduler) ManualTrigger(ctx context.Context) TriggerResult {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("Manual trigger rejected, run in progress")
		return TriggerResult{Success: false, Message: ErrRunInProgress.Error()}
	}
	s.runs.Add(1)
	defer s.runs.Done()
	defer s.running.Store(false)

	s.systemLog(ctx, core.LogInfo, "Manual digest generation triggered", nil)

	report, err := s.execute(ctx)
	if err != nil {
		res := TriggerResult{Success: false, Message: "Failed to generate digest: " + sanitize.Error(err)}
		if report != nil {
			res.DigestID = report.DigestID
		}
		return res
	}

	msg := "Digest generated and sent successfully"
	switch {
	case report.DryRun:
		msg = "Digest generated (dry run, not sent)"
	case report.Sent == 0:
		msg = fmt.Sprintf("Digest generated but delivery failed for all %d recipients", report.Failed)
	}
	return TriggerResult{Success: true, Message: msg, DigestID: report.DigestID}
}

func (s *Scheduler) execute(ctx context.Context) (*pipeline.RunReport, error) {
	report, err := s.runner.Run(ctx)

	s.mu.Lock()
	s.lastRun = s.now()
	s.mu.Unlock()
	return report, err
}

// Running reports whether a digest run is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Active reports whether a schedule is installed.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// NextRun returns the next scheduled trigger, or zero when idle.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: StateIdle, Running: s.running.Load()}
	if s.cancel != nil {
		st.State = StateScheduled
		st.Interval = s.interval
		next := s.nextRun
		st.NextRun = &next
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		st.LastRun = &last
	}
	return st
}

func (s *Scheduler) systemLog(ctx context.Context, logType core.LogType, message string, details map[string]any) {
	entry := &core.SystemLog{
		Type:      logType,
		Message:   sanitize.Message(message),
		Details:   details,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateSystemLog(context.WithoutCancel(ctx), entry); err != nil {
		s.log.Warn("Failed to write system log", "message", entry.Message, "error", sanitize.Error(err))
	}
}
