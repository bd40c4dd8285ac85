package auth

import (
	"errors"
	"net/http"
)

// ErrNotAuthenticated is returned by Guard.Authenticate when the request
// has no usable session. Callers answer 401 or redirect to /login.
var ErrNotAuthenticated = errors.New("not authenticated")

// User marks an authenticated request. Subject is empty for presence-only
// sessions.
type User struct {
	Subject string
}

// FailureMode selects how a protected route answers an unauthenticated
// request.
type FailureMode int

const (
	// FailUnauthorized answers 401.
	FailUnauthorized FailureMode = iota
	// FailRedirectToLogin answers 302 to /login.
	FailRedirectToLogin
)

func (m FailureMode) String() string {
	switch m {
	case FailUnauthorized:
		return "unauthorized"
	case FailRedirectToLogin:
		return "redirect"
	default:
		return "unknown"
	}
}

// Guard decides whether a request is authenticated.
type Guard struct {
	codec *SessionCodec
}

// NewGuard returns a guard reading sessions through codec.
func NewGuard(codec *SessionCodec) *Guard {
	return &Guard{codec: codec}
}

// Signed reports whether sessions are verified signed tokens rather than
// bare cookie presence.
func (g *Guard) Signed() bool {
	return g.codec.Signed()
}

// Authenticate returns the user marker for r, or an error wrapping
// ErrNotAuthenticated. The wrapped cause is ErrNoSession or
// ErrInvalidSession.
func (g *Guard) Authenticate(r *http.Request) (*User, error) {
	sess, err := g.codec.Read(r)
	if err != nil {
		return nil, errors.Join(ErrNotAuthenticated, err)
	}
	return &User{Subject: sess.Subject}, nil
}
