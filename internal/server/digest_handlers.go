package server

import (
	"context"
	"errors"
	"net/http"

	"newsdigest/internal/core"
	"newsdigest/internal/sanitize"
	"newsdigest/internal/scheduler"
	"newsdigest/internal/store"

	"github.com/go-chi/chi/v5"
)

// DigestDetailResponse is a digest with its delivery attempts
type DigestDetailResponse struct {
	*core.Digest
	EmailLogs []core.EmailLog `json:"email_logs"`
}

// handleListDigests handles GET /api/digests
func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	digests, err := s.repo.ListDigests(r.Context(), opts)
	if err != nil {
		s.log.Error("Failed to list digests", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch digests")
		return
	}

	s.respondJSON(w, http.StatusOK, orEmpty(digests))
}

// handleGetDigest handles GET /api/digests/{id}
func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	digest, err := s.repo.GetDigest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "Digest not found")
		return
	}
	if err != nil {
		s.log.Error("Failed to get digest", "digest_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch digest")
		return
	}

	logs, err := s.repo.ListEmailLogsByDigest(ctx, id)
	if err != nil {
		s.log.Error("Failed to list email logs for digest", "digest_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch digest")
		return
	}

	s.respondJSON(w, http.StatusOK, DigestDetailResponse{
		Digest:    digest,
		EmailLogs: orEmpty(logs),
	})
}

// handleListSystemLogs handles GET /api/logs
func (s *Server) handleListSystemLogs(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := s.repo.ListSystemLogs(r.Context(), opts)
	if err != nil {
		s.log.Error("Failed to list system logs", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch system logs")
		return
	}

	s.respondJSON(w, http.StatusOK, orEmpty(logs))
}

// handleListEmailLogs handles GET /api/email-logs
func (s *Server) handleListEmailLogs(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := s.repo.ListEmailLogs(r.Context(), opts)
	if err != nil {
		s.log.Error("Failed to list email logs", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch email logs")
		return
	}

	s.respondJSON(w, http.StatusOK, orEmpty(logs))
}

// handleTrigger handles POST /api/digest/trigger. The run is detached from
// the request so a client disconnect does not abort it.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	result := s.scheduler.ManualTrigger(context.WithoutCancel(r.Context()))
	result.Message = sanitize.Message(result.Message)

	switch {
	case result.Success:
		s.respondJSON(w, http.StatusOK, result)
	case result.Message == scheduler.ErrRunInProgress.Error():
		s.respondJSON(w, http.StatusConflict, result)
	default:
		s.respondJSON(w, http.StatusInternalServerError, result)
	}
}
