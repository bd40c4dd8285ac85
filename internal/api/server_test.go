package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LunchTimeCode/handball/internal/audit"
	"github.com/LunchTimeCode/handball/internal/auth"
	"github.com/LunchTimeCode/handball/internal/observability"
)

func newSystemServer(t *testing.T, auditLog audit.AuditLogger) http.Handler {
	t.Helper()
	stub := stubProvider{}
	return newTestServer(t, stub, auth.NewSessionCodec(nil), auditLog, observability.NewMetrics(observability.DefaultMetricsConfig()))
}

func doGet(h http.Handler, target string, withSession bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if withSession {
		req.AddCookie(&http.Cookie{Name: auth.CookieName})
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	h := newSystemServer(t, nil)

	rr := doGet(h, "/healthz", false)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["stage"])
	assert.Equal(t, audit.BackendMemory, body["audit"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newSystemServer(t, nil)

	doGet(h, "/login/finalize", false)
	rr := doGet(h, "/metrics", false)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `handball_login_outcomes_total{outcome="malformed"} 1`)
}

var testSessionKey = []byte("0123456789abcdef0123456789abcdef")

func getWithCookie(h http.Handler, target string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func issuedCookie(t *testing.T, codec *auth.SessionCodec, subject string) *http.Cookie {
	t.Helper()
	rr := httptest.NewRecorder()
	require.NoError(t, codec.Issue(rr, subject))
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatal("no session cookie issued")
	return nil
}

func TestAuditList(t *testing.T) {
	auditLog := audit.NewMemoryAuditLogger()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i, ev := range []*audit.LoginEvent{
		{Outcome: audit.OutcomeSuccess, Subject: "user-1", Timestamp: base},
		{Outcome: audit.OutcomeRejected, Reason: "validation", Timestamp: base.Add(10 * time.Minute)},
		{Outcome: audit.OutcomeSuccess, Subject: "user-2", Timestamp: base.Add(20 * time.Minute)},
	} {
		require.NoError(t, auditLog.Log(ctx, ev), "event %d", i)
	}
	codec := auth.NewSessionCodec(testSessionKey)
	h := newTestServer(t, stubProvider{}, codec, auditLog, nil)
	session := issuedCookie(t, codec, "user-1")

	t.Run("requires session", func(t *testing.T) {
		rr := getWithCookie(h, "/api/v1/audit/logins", nil)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, rr.Header().Get("Location"))
	})

	t.Run("forged empty cookie", func(t *testing.T) {
		rr := getWithCookie(h, "/api/v1/audit/logins", &http.Cookie{Name: auth.CookieName})
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.NotContains(t, rr.Body.String(), "user-2")
	})

	t.Run("cookie signed with another key", func(t *testing.T) {
		other := issuedCookie(t, auth.NewSessionCodec([]byte("fedcba9876543210fedcba9876543210")), "user-1")
		rr := getWithCookie(h, "/api/v1/audit/logins", other)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("lists newest first", func(t *testing.T) {
		rr := getWithCookie(h, "/api/v1/audit/logins", session)
		require.Equal(t, http.StatusOK, rr.Code)

		var body struct {
			Events []audit.LoginEvent `json:"events"`
			Total  int                `json:"total"`
			Limit  int                `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 3, body.Total)
		assert.Equal(t, 50, body.Limit)
		require.Len(t, body.Events, 3)
		assert.Equal(t, "user-2", body.Events[0].Subject)
	})

	t.Run("filters", func(t *testing.T) {
		rr := getWithCookie(h, "/api/v1/audit/logins?outcome=success&limit=1", session)
		require.Equal(t, http.StatusOK, rr.Code)

		var body struct {
			Events []audit.LoginEvent `json:"events"`
			Total  int                `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Total)
		require.Len(t, body.Events, 1)

		rr = getWithCookie(h, "/api/v1/audit/logins?subject=user-1", session)
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Total)
	})

	t.Run("invalid since", func(t *testing.T) {
		rr := getWithCookie(h, "/api/v1/audit/logins?since=yesterday", session)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("empty result is an array", func(t *testing.T) {
		rr := getWithCookie(h, "/api/v1/audit/logins?subject=nobody", session)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"events":[]`)
	})
}

func TestAuditList_PresenceOnlySessions(t *testing.T) {
	auditLog := audit.NewMemoryAuditLogger()
	require.NoError(t, auditLog.Log(context.Background(), &audit.LoginEvent{
		Outcome: audit.OutcomeSuccess, Subject: "user-1", Timestamp: time.Now().UTC(),
	}))
	h := newSystemServer(t, auditLog)

	for _, withSession := range []bool{false, true} {
		rr := doGet(h, "/api/v1/audit/logins", withSession)
		assert.Equal(t, http.StatusNotFound, rr.Code, "session=%v", withSession)
		assert.NotContains(t, rr.Body.String(), "user-1")
	}
}

func TestFrontendRoutes(t *testing.T) {
	h := newSystemServer(t, nil)

	tests := []struct {
		name        string
		target      string
		session     bool
		wantStatus  int
		wantContain string
	}{
		{"error page is public", "/error/email_not_verified", false, http.StatusOK, "<html>handball</html>"},
		{"static asset", "/app.js", false, http.StatusOK, "console.log"},
		{"client route falls back to index", "/teams/42", false, http.StatusOK, "<html>handball</html>"},
		{"index needs session", "/", false, http.StatusFound, ""},
		{"index with session", "/", true, http.StatusOK, "<html>handball</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doGet(h, tt.target, tt.session)
			require.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantContain != "" {
				assert.Contains(t, rr.Body.String(), tt.wantContain)
			}
		})
	}
}

func TestFrontendFS(t *testing.T) {
	t.Run("missing index", func(t *testing.T) {
		h := frontendFS(fstest.MapFS{"app.js": {Data: []byte("x")}})

		rr := doGet(h, "/anything", false)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "Not found", strings.TrimSpace(rr.Body.String()))

		rr = doGet(h, "/app.js", false)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("non GET methods", func(t *testing.T) {
		h := frontendFS(testDist())
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("directories get index", func(t *testing.T) {
		h := frontendFS(fstest.MapFS{
			"index.html":        {Data: []byte("<html>index</html>")},
			"assets/styles.css": {Data: []byte("body{}")},
		})
		rr := doGet(h, "/assets", false)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "index")
		assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	})
}

func TestStaticFrontendFromDisk(t *testing.T) {
	dir := t.TempDir()
	h := StaticFrontend(dir)

	rr := doGet(h, "/", false)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
