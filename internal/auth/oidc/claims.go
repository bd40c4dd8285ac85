package oidc

import (
	"fmt"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

// Claims are the standard claims handball reads from a verified ID token.
type Claims struct {
	Subject  string    `json:"sub"`
	Issuer   string    `json:"iss"`
	Audience []string  `json:"-"`
	Expiry   time.Time `json:"-"`
	IssuedAt time.Time `json:"-"`
	Email    string    `json:"email"`
	// Username prefers the "username" claim and falls back to
	// "preferred_username".
	Username          string `json:"username"`
	PreferredUsername string `json:"preferred_username"`
}

// Token is the result of a successful code exchange. It is never persisted.
type Token struct {
	AccessToken string
	// IDToken is the decoded and verified ID token. Exchange never returns
	// a Token with a nil IDToken.
	IDToken *gooidc.IDToken
	Claims  Claims
}

// Decoded reports whether the ID token has been decoded and verified.
func (t *Token) Decoded() bool {
	return t != nil && t.IDToken != nil
}

func claimsFromIDToken(idToken *gooidc.IDToken) (Claims, error) {
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return Claims{}, fmt.Errorf("extract claims: %w", err)
	}
	claims.Subject = idToken.Subject
	claims.Issuer = idToken.Issuer
	claims.Audience = idToken.Audience
	claims.Expiry = idToken.Expiry
	claims.IssuedAt = idToken.IssuedAt
	if claims.Username == "" {
		claims.Username = claims.PreferredUsername
	}
	return claims, nil
}
