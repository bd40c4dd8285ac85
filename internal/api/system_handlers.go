package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/LunchTimeCode/handball/internal/audit"
	"github.com/LunchTimeCode/handball/internal/auth"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stage":  s.stage,
		"audit":  s.auditBackend,
	})
}

// GET /api/v1/audit/logins - List login events with optional filtering
// Query params: limit, offset, outcome, subject, since (RFC 3339)
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	offset := 0
	if o := q.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	opts := audit.ListOptions{
		Limit:   limit,
		Offset:  offset,
		Outcome: audit.Outcome(q.Get("outcome")),
		Subject: q.Get("subject"),
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid since", "expected RFC 3339 timestamp")
			return
		}
		opts.Since = &since
	}

	events, total, err := s.auditLogger.List(r.Context(), opts)
	if err != nil {
		s.writeErr(r.Context(), w, http.StatusInternalServerError, "failed to list login events", err.Error())
		return
	}
	if events == nil {
		events = []*audit.LoginEvent{}
	}

	if user := auth.UserFromContext(r.Context()); user != nil {
		s.logger.InfoContext(r.Context(), "login events read",
			"subject", user.Subject,
			"returned", len(events),
		)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleAuditDisabled answers the audit API when sessions are presence-only.
func (s *Server) handleAuditDisabled(w http.ResponseWriter, r *http.Request) {
	s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "login audit API requires signed sessions")
}
