package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGuard_RoundTrip(t *testing.T) {
	codec := NewSessionCodec(nil)
	guard := NewGuard(codec)

	rec := httptest.NewRecorder()
	if err := codec.Issue(rec, "user-123"); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}

	user, err := guard.Authenticate(r)
	if err != nil {
		t.Fatalf("expected authenticated request, got %v", err)
	}
	if user == nil {
		t.Fatal("expected user marker")
	}
}

func TestGuard_NotAuthenticated(t *testing.T) {
	guard := NewGuard(NewSessionCodec(nil))

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"no cookie", nil},
		{"different name", &http.Cookie{Name: "HANDBALL_OLD"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != nil {
				r.AddCookie(tt.cookie)
			}
			user, err := guard.Authenticate(r)
			if !errors.Is(err, ErrNotAuthenticated) {
				t.Fatalf("expected ErrNotAuthenticated, got %v", err)
			}
			if !errors.Is(err, ErrNoSession) {
				t.Errorf("expected ErrNoSession cause, got %v", err)
			}
			if user != nil {
				t.Errorf("expected nil user, got %+v", user)
			}
		})
	}
}

func TestGuard_SignedSubject(t *testing.T) {
	codec := NewSessionCodec([]byte("0123456789abcdef0123456789abcdef"))
	guard := NewGuard(codec)

	rec := httptest.NewRecorder()
	if err := codec.Issue(rec, "user-456"); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(rec.Result().Cookies()[0])

	user, err := guard.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Subject != "user-456" {
		t.Errorf("expected subject user-456, got %q", user.Subject)
	}

	forged := httptest.NewRequest(http.MethodGet, "/", nil)
	forged.AddCookie(&http.Cookie{Name: CookieName})
	_, err = guard.Authenticate(forged)
	if !errors.Is(err, ErrNotAuthenticated) || !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected forged empty cookie to be rejected, got %v", err)
	}
}

func TestUserContext(t *testing.T) {
	ctx := context.Background()
	if UserFromContext(ctx) != nil {
		t.Error("empty context should not be authenticated")
	}
	if got := ContextWithUser(ctx, nil); got != ctx {
		t.Error("nil user should not change the context")
	}

	ctx = ContextWithUser(ctx, &User{Subject: "user-1"})
	if u := UserFromContext(ctx); u == nil || u.Subject != "user-1" {
		t.Errorf("unexpected user %+v", u)
	}
}

func TestFailureMode_String(t *testing.T) {
	if FailUnauthorized.String() != "unauthorized" || FailRedirectToLogin.String() != "redirect" {
		t.Error("unexpected failure mode names")
	}
	if FailureMode(9).String() != "unknown" {
		t.Error("expected unknown for out of range mode")
	}
}
