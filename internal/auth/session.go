// Package auth issues the HANDBALL session cookie and answers whether a
// request carries one.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName is the fixed name of the session cookie.
	CookieName = "HANDBALL"

	// SessionMaxAge is the lifetime of the session cookie.
	SessionMaxAge = 20 * time.Second

	sessionIssuer = "handball"
)

var (
	// ErrNoSession means the request carries no session cookie.
	ErrNoSession = errors.New("no session cookie")

	// ErrInvalidSession means a signed session cookie failed verification.
	ErrInvalidSession = errors.New("invalid session")
)

// Session is what a request's cookie tells us about the caller. Subject is
// only known in signed mode.
type Session struct {
	Subject   string
	ExpiresAt time.Time
}

// SessionCodec writes and reads the session cookie.
//
// Without a key the cookie value is empty and only its presence counts.
// With a key the value is an HS256 JWT carrying the subject and expiry, and
// Read also checks signature and expiry.
type SessionCodec struct {
	key    []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewSessionCodec returns a codec. A nil or empty key selects presence-only
// sessions.
func NewSessionCodec(key []byte) *SessionCodec {
	return &SessionCodec{
		key:    key,
		maxAge: SessionMaxAge,
		now:    time.Now,
	}
}

// Signed reports whether cookies carry a signed token.
func (c *SessionCodec) Signed() bool {
	return len(c.key) > 0
}

// Issue sets the session cookie in a single Set-Cookie header.
func (c *SessionCodec) Issue(w http.ResponseWriter, subject string) error {
	value := ""
	if c.Signed() {
		token, err := c.sign(subject)
		if err != nil {
			return fmt.Errorf("sign session: %w", err)
		}
		value = token
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(c.maxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// HasSession reports whether r carries a usable session cookie.
func (c *SessionCodec) HasSession(r *http.Request) bool {
	_, err := c.Read(r)
	return err == nil
}

// Read returns the session carried by r, ErrNoSession when the cookie is
// absent, or ErrInvalidSession when a signed cookie does not verify.
func (c *SessionCodec) Read(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, ErrNoSession
	}
	if !c.Signed() {
		return &Session{}, nil
	}
	return c.verify(cookie.Value)
}

func (c *SessionCodec) sign(subject string) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.maxAge)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

func (c *SessionCodec) verify(raw string) (*Session, error) {
	if raw == "" {
		return nil, ErrInvalidSession
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return &Session{
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
