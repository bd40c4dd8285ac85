package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/LunchTimeCode/handball/internal/audit"
	"github.com/LunchTimeCode/handball/internal/auth"
	"github.com/LunchTimeCode/handball/internal/observability"
)

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server holds what every handler shares: the mux, logging, metrics and
// the login audit trail.
type Server struct {
	mux          *http.ServeMux
	logger       observability.Logger
	metrics      *observability.Metrics
	auditLogger  audit.AuditLogger
	auditBackend string
	frontend     http.Handler
	proxies      *TrustedProxyConfig
	stage        string
}

// NewServer creates a new HTTP server with the given dependencies.
// If logger is nil, a default logger will be used.
// If metrics is nil, metrics collection is disabled.
// If auditLogger is nil, a memory-based audit logger will be used.
func NewServer(mux *http.ServeMux, logger observability.Logger, metrics *observability.Metrics, auditLogger audit.AuditLogger) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	if auditLogger == nil {
		auditLogger = audit.NewMemoryAuditLogger()
	}
	return &Server{
		mux:          mux,
		logger:       logger,
		metrics:      metrics,
		auditLogger:  auditLogger,
		auditBackend: audit.BackendMemory,
		frontend:     http.NotFoundHandler(),
	}
}

// SetFrontend sets the handler serving the single page app.
func (s *Server) SetFrontend(h http.Handler) {
	if h != nil {
		s.frontend = h
	}
}

// SetAuditBackend records the backend name reported by /healthz.
func (s *Server) SetAuditBackend(name string) { s.auditBackend = name }

// SetTrustedProxies sets the proxies whose X-Forwarded-For is believed
// when recording client addresses.
func (s *Server) SetTrustedProxies(tc *TrustedProxyConfig) { s.proxies = tc }

// SetStage records the deployment stage reported by /healthz.
func (s *Server) SetStage(stage string) { s.stage = stage }

func (s *Server) writeErr(ctx context.Context, w http.ResponseWriter, code int, msg string, detail string) {
	fields := []any{
		"status", code,
		"error", msg,
	}
	if detail != "" {
		fields = append(fields, "detail", detail)
	}
	if code >= 500 {
		s.logger.ErrorContext(ctx, "request failed", fields...)
		hub := sentry.GetHubFromContext(ctx)
		if hub == nil {
			hub = sentry.CurrentHub()
		}
		hub.CaptureMessage(fmt.Sprintf("HTTP %d: %s (detail: %s)", code, msg, detail))
	} else {
		s.logger.WarnContext(ctx, "request failed", fields...)
	}
	writeJSON(w, code, apiError{Error: msg, Detail: detail})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) { s.status = code; s.ResponseWriter.WriteHeader(code) }

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// RegisterRoutes registers the operational endpoints and the frontend.
// The index is protected by guard and redirects to /login without a
// session; error pages and everything else are public. The login audit
// API answers 404 unless guard verifies signed sessions.
func (s *Server) RegisterRoutes(guard *auth.Guard) {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	requireRedirect := RequireSessionMiddleware(guard, auth.FailRedirectToLogin, s.logger.Slog())
	requireSession := RequireSessionMiddleware(guard, auth.FailUnauthorized, s.logger.Slog())

	// A presence-only cookie can be forged, so the audit trail is only
	// readable behind signed sessions.
	if guard.Signed() {
		s.mux.Handle("GET /api/v1/audit/logins", requireSession(http.HandlerFunc(s.handleAuditList)))
	} else {
		s.mux.HandleFunc("GET /api/v1/audit/logins", s.handleAuditDisabled)
	}
	s.mux.Handle("GET /{$}", requireRedirect(s.frontend))
	s.mux.Handle("GET /error/{page}", s.frontend)
	s.mux.Handle("/", s.frontend)
}
