package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/ratelimit"
	"newsdigest/internal/scheduler"
	"newsdigest/internal/store"
)

// HealthResponse is returned by /health
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// StatsResponse is returned by /api/dashboard/stats
type StatsResponse struct {
	*core.DigestStats
	RateLimits []ratelimit.Usage `json:"rate_limits,omitempty"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the status and a sanitized message
type ErrorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

var errBadListParam = errors.New("limit and offset must be non-negative integers")

// handleHealth handles the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"scheduler": string(s.scheduler.Status().State),
	}

	if _, err := s.repo.Stats(r.Context()); err != nil {
		s.log.Error("Health check failed", "error", err)
		checks["store"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Checks: checks,
		})
		return
	}

	checks["store"] = "ok"
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Checks: checks,
	})
}

// handleStats handles GET /api/dashboard/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.repo.Stats(r.Context())
	if err != nil {
		s.log.Error("Failed to compute stats", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch dashboard stats")
		return
	}

	st := s.scheduler.Status()
	if st.State == scheduler.StateScheduled && st.NextRun != nil {
		stats.NextDigestTime = st.NextRun.UTC().Format(time.RFC3339)
	}

	resp := StatsResponse{DigestStats: stats}
	if s.limits != nil {
		resp.RateLimits = s.limits.Snapshot()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleListSettings handles GET /api/settings
func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.repo.ListSettings(r.Context())
	if err != nil {
		s.log.Error("Failed to list settings", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch settings")
		return
	}
	s.respondJSON(w, http.StatusOK, orEmpty(settings))
}

// listOptions reads limit and offset from the query string. Missing values
// fall back to the store defaults.
func listOptions(r *http.Request) (store.ListOptions, error) {
	var opts store.ListOptions
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errBadListParam
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errBadListParam
		}
		opts.Offset = n
	}
	return opts, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error: ErrorBody{Status: status, Message: message},
	})
}
