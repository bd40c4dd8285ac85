package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/LunchTimeCode/handball/internal/audit"
	"github.com/LunchTimeCode/handball/internal/auth"
	"github.com/LunchTimeCode/handball/internal/auth/oidc"
	"github.com/LunchTimeCode/handball/internal/observability"
)

// ProviderErrorPath is where a provider reported error sends the user.
const ProviderErrorPath = "/error/email_not_verified"

// LoginProvider is the part of *oidc.Provider the login handlers use.
type LoginProvider interface {
	AuthCodeURL(state string, extra url.Values) string
	Exchange(ctx context.Context, code string) (*oidc.Token, error)
}

// AuthServer extends Server with the login and callback endpoints.
type AuthServer struct {
	*Server
	provider   LoginProvider
	sessions   *auth.SessionCodec
	loginLimit Middleware
	logger     observability.Logger
}

// NewAuthServer creates a new AuthServer. The provider is built once at
// startup and shared read-only by every request.
func NewAuthServer(s *Server, provider LoginProvider, sessions *auth.SessionCodec) *AuthServer {
	return &AuthServer{
		Server:     s,
		provider:   provider,
		sessions:   sessions,
		loginLimit: func(next http.Handler) http.Handler { return next },
		logger:     s.logger.WithComponent("auth"),
	}
}

// SetLoginRateLimit wraps both login endpoints with mw.
func (as *AuthServer) SetLoginRateLimit(mw Middleware) {
	if mw != nil {
		as.loginLimit = mw
	}
}

// RegisterAuthRoutes registers GET /login and GET /login/finalize.
func (as *AuthServer) RegisterAuthRoutes() {
	as.mux.Handle("GET /login", as.loginLimit(http.HandlerFunc(as.handleLogin)))
	as.mux.Handle("GET /login/finalize", as.loginLimit(http.HandlerFunc(as.handleFinalize)))
}

// handleLogin redirects to the provider's authorization endpoint.
// GET /login?invitation=xxx&organization=xxx&state=/path
//
// state is only honoured as a path on this origin. Absolute URLs and
// protocol-relative targets are dropped, and finalize sends the user to /.
func (as *AuthServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var extra url.Values
	if q.Has("invitation") && q.Has("organization") {
		extra = url.Values{
			"invitation":   {q.Get("invitation")},
			"organization": {q.Get("organization")},
		}
	}

	state := ""
	if raw := q.Get("state"); raw != "" {
		if target, ok := localRedirectTarget(raw); ok {
			state = target
		} else {
			as.logger.WarnContext(r.Context(), "ignoring non-local login state", "state", raw)
		}
	}

	http.Redirect(w, r, as.provider.AuthCodeURL(state, extra), http.StatusFound)
}

type callbackShape int

const (
	callbackMalformed callbackShape = iota
	callbackProviderError
	callbackCode
)

// callbackParams is the parsed query of a provider redirect. Exactly one
// shape applies.
type callbackParams struct {
	shape            callbackShape
	code             string
	state            string
	errCode          string
	errorDescription string
}

func parseCallback(q url.Values) callbackParams {
	p := callbackParams{
		code:             q.Get("code"),
		state:            q.Get("state"),
		errCode:          q.Get("error"),
		errorDescription: q.Get("error_description"),
	}
	switch {
	case q.Has("code"):
		p.shape = callbackCode
	case q.Has("error") && q.Has("error_description"):
		p.shape = callbackProviderError
	default:
		p.shape = callbackMalformed
	}
	return p
}

// handleFinalize completes a login: it exchanges the code, issues the
// session cookie and sends the user back to state (or /).
// GET /login/finalize?code=xxx&state=xxx or ?error=xxx&error_description=xxx
func (as *AuthServer) handleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := parseCallback(r.URL.Query())

	switch params.shape {
	case callbackProviderError:
		as.logger.WarnContext(ctx, "provider returned error",
			"error", params.errCode,
			"error_description", params.errorDescription,
		)
		as.recordLogin(r, &audit.LoginEvent{
			Outcome:    audit.OutcomeProviderError,
			Reason:     params.errCode,
			StatusCode: http.StatusFound,
		})
		http.Redirect(w, r, ProviderErrorPath, http.StatusFound)
		return
	case callbackMalformed:
		as.recordLogin(r, &audit.LoginEvent{
			Outcome:    audit.OutcomeMalformed,
			Reason:     "callback without code or complete error pair",
			StatusCode: http.StatusUnauthorized,
		})
		as.writeErr(ctx, w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	token, err := as.provider.Exchange(ctx, params.code)
	if err != nil {
		as.logExchangeFailure(ctx, err)
		as.recordLogin(r, &audit.LoginEvent{
			Outcome:    audit.OutcomeRejected,
			Reason:     oidc.KindOf(err).String(),
			StatusCode: http.StatusUnauthorized,
		})
		as.writeErr(ctx, w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	if !token.Decoded() {
		as.recordLogin(r, &audit.LoginEvent{
			Outcome:    audit.OutcomeInternalError,
			Reason:     "exchange succeeded without a decoded id token",
			StatusCode: http.StatusInternalServerError,
		})
		as.writeErr(ctx, w, http.StatusInternalServerError, "internal error", "")
		return
	}

	if err := as.sessions.Issue(w, token.Claims.Subject); err != nil {
		as.recordLogin(r, &audit.LoginEvent{
			Outcome:    audit.OutcomeInternalError,
			Subject:    token.Claims.Subject,
			Reason:     "session cookie could not be issued",
			StatusCode: http.StatusInternalServerError,
		})
		as.logger.ErrorContext(ctx, "failed to issue session", "error", err.Error())
		as.writeErr(ctx, w, http.StatusInternalServerError, "internal error", "")
		return
	}

	target, ok := localRedirectTarget(params.state)
	if !ok {
		as.logger.WarnContext(ctx, "ignoring non-local redirect target", "state", params.state)
	}

	as.recordLogin(r, &audit.LoginEvent{
		Outcome:    audit.OutcomeSuccess,
		Subject:    token.Claims.Subject,
		Email:      token.Claims.Email,
		StatusCode: http.StatusFound,
	})
	as.logger.InfoContext(ctx, "login completed", "subject", token.Claims.Subject)
	http.Redirect(w, r, target, http.StatusFound)
}

func (as *AuthServer) logExchangeFailure(ctx context.Context, err error) {
	attrs := []any{
		"kind", oidc.KindOf(err).String(),
		"error", err.Error(),
	}
	if errors.Is(err, oidc.ErrMissingIDToken) {
		// The code flow always asks for openid, so this is a provider fault.
		as.logger.ErrorContext(ctx, "no id_token found", attrs...)
		return
	}
	as.logger.WarnContext(ctx, "token exchange failed", attrs...)
}

// recordLogin writes the audit event and counts the outcome. Audit
// failures are logged and never change the response.
func (as *AuthServer) recordLogin(r *http.Request, event *audit.LoginEvent) {
	ctx := r.Context()
	as.metrics.RecordLoginOutcome(string(event.Outcome))

	event.RequestID = RequestIDFromContext(ctx)
	event.IPAddress = clientKeyWithProxies(r, as.proxies)
	if err := as.auditLogger.Log(ctx, event); err != nil {
		as.logger.ErrorContext(ctx, "failed to record login event",
			"outcome", string(event.Outcome),
			"error", err.Error(),
		)
	}
}

// localRedirectTarget returns state when it is a path on this origin, "/"
// when state is empty, and ("/", false) for anything that would leave it.
func localRedirectTarget(state string) (string, bool) {
	if state == "" {
		return "/", true
	}
	if !strings.HasPrefix(state, "/") || strings.HasPrefix(state, "//") || strings.HasPrefix(state, `/\`) {
		return "/", false
	}
	u, err := url.Parse(state)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/", false
	}
	return state, true
}

var _ LoginProvider = (*oidc.Provider)(nil)
