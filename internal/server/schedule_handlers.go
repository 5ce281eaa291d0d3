package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/sanitize"
	"newsdigest/internal/scheduler"
	"newsdigest/internal/store"
)

// ScheduleResponse describes the persisted and live schedule state
type ScheduleResponse struct {
	Enabled    bool     `json:"enabled"`
	Interval   int      `json:"interval"`
	Times      []string `json:"times"`
	Recipients []string `json:"recipients"`
	IsActive   bool     `json:"is_active"`
	Running    bool     `json:"running"`
	NextRun    string   `json:"next_run,omitempty"`
}

// ToggleResponse is returned by POST /api/schedule/toggle
type ToggleResponse struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// IntervalRequest is the body of POST /api/schedule/interval
type IntervalRequest struct {
	Interval *int `json:"interval"`
}

// IntervalResponse is returned by POST /api/schedule/interval
type IntervalResponse struct {
	Interval int    `json:"interval"`
	Message  string `json:"message"`
}

// RecipientsRequest is the body of POST /api/recipients
type RecipientsRequest struct {
	Recipients []string `json:"recipients"`
}

// RecipientsResponse is returned by POST /api/recipients
type RecipientsResponse struct {
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
}

const invalidIntervalMessage = "Invalid interval. Must be between 1 and 24 hours."

// scheduleEnabled reads the persisted schedule flag
func (s *Server) scheduleEnabled(r *http.Request) (bool, error) {
	setting, err := s.repo.GetSetting(r.Context(), core.SettingScheduleEnabled)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return setting.Value == "true", nil
}

// handleGetSchedule handles GET /api/schedule
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	enabled, err := s.scheduleEnabled(r)
	if err != nil {
		s.log.Error("Failed to read schedule state", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch schedule settings")
		return
	}
	recipients, err := store.Recipients(ctx, s.repo)
	if err != nil {
		s.log.Error("Failed to read recipients", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch schedule settings")
		return
	}

	interval := scheduler.StoredInterval(ctx, s.repo)
	st := s.scheduler.Status()
	resp := ScheduleResponse{
		Enabled:    enabled,
		Interval:   interval,
		Times:      scheduler.DailyTimes(interval),
		Recipients: orEmpty(recipients),
		IsActive:   st.State == scheduler.StateScheduled,
		Running:    st.Running,
	}
	if st.NextRun != nil {
		resp.NextRun = st.NextRun.UTC().Format(time.RFC3339)
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// handleToggleSchedule handles POST /api/schedule/toggle
func (s *Server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	enabled, err := s.scheduleEnabled(r)
	if err != nil {
		s.log.Error("Failed to read schedule state", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to toggle schedule")
		return
	}

	if enabled {
		if err := s.repo.SetSetting(ctx, core.SettingScheduleEnabled, "false"); err != nil {
			s.log.Error("Failed to persist schedule state", "error", err)
			s.respondError(w, http.StatusInternalServerError, "Failed to toggle schedule")
			return
		}
		s.scheduler.StopSchedule(ctx)
		s.respondJSON(w, http.StatusOK, ToggleResponse{Enabled: false, Message: "Schedule disabled"})
		return
	}

	if err := s.scheduler.StartSchedule(ctx, scheduler.StoredInterval(ctx, s.repo)); err != nil {
		s.log.Error("Failed to start schedule", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to toggle schedule")
		return
	}
	s.respondJSON(w, http.StatusOK, ToggleResponse{Enabled: true, Message: "Schedule enabled"})
}

// handleSetInterval handles POST /api/schedule/interval
func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IntervalRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Interval == nil || !scheduler.ValidInterval(*req.Interval) {
		s.respondError(w, http.StatusBadRequest, invalidIntervalMessage)
		return
	}
	hours := *req.Interval

	if err := s.repo.SetSetting(ctx, core.SettingScheduleInterval, strconv.Itoa(hours)); err != nil {
		s.log.Error("Failed to persist schedule interval", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to update schedule interval")
		return
	}

	enabled, err := s.scheduleEnabled(r)
	if err != nil {
		s.log.Error("Failed to read schedule state", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to update schedule interval")
		return
	}
	if enabled {
		if err := s.scheduler.StartSchedule(ctx, hours); err != nil {
			s.log.Error("Failed to restart schedule", "error", err)
			s.respondError(w, http.StatusInternalServerError, "Failed to update schedule interval")
			return
		}
	}

	s.respondJSON(w, http.StatusOK, IntervalResponse{Interval: hours, Message: "Schedule interval updated"})
}

// handleGetRecipients handles GET /api/recipients
func (s *Server) handleGetRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := store.Recipients(r.Context(), s.repo)
	if err != nil {
		s.log.Error("Failed to read recipients", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch recipients")
		return
	}
	s.respondJSON(w, http.StatusOK, orEmpty(recipients))
}

// handleSetRecipients handles POST /api/recipients
func (s *Server) handleSetRecipients(w http.ResponseWriter, r *http.Request) {
	var req RecipientsRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Recipients == nil {
		s.respondError(w, http.StatusBadRequest, "Recipients must be an array")
		return
	}

	recipients := make([]string, 0, len(req.Recipients))
	var invalid []string
	for _, addr := range req.Recipients {
		addr = strings.TrimSpace(addr)
		if !sanitize.ValidEmail(addr) {
			invalid = append(invalid, sanitize.MaskEmail(addr))
			continue
		}
		recipients = append(recipients, addr)
	}
	if len(invalid) > 0 {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid email addresses: %s", strings.Join(invalid, ", ")))
		return
	}

	if err := store.SetRecipients(r.Context(), s.repo, recipients); err != nil {
		s.log.Error("Failed to persist recipients", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to update recipients")
		return
	}

	s.log.Info("Recipients updated", "recipients", sanitize.MaskEmails(recipients))
	s.respondJSON(w, http.StatusOK, RecipientsResponse{
		Recipients: recipients,
		Message:    "Recipients updated successfully",
	})
}
