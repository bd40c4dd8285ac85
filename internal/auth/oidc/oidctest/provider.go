// Package oidctest runs an in-process OpenID provider for tests.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	ClientID     = "test-client-id"
	ClientSecret = "test-client-secret"
	keyID        = "test-key-1"
)

// TokenMode selects how the token endpoint answers.
type TokenMode int

const (
	// TokenOK returns a valid signed ID token.
	TokenOK TokenMode = iota
	// TokenNoIDToken returns an access token only.
	TokenNoIDToken
	// TokenBadSignature signs the ID token with a key not in the JWKS.
	TokenBadSignature
	// TokenWrongAudience issues the ID token for another client.
	TokenWrongAudience
	// TokenExpired issues an ID token that expired an hour ago.
	TokenExpired
	// TokenInvalidGrant answers 400 invalid_grant.
	TokenInvalidGrant
)

// Provider is a mock IdP serving discovery, JWKS and token endpoints.
type Provider struct {
	Server *httptest.Server

	key      *rsa.PrivateKey
	rogueKey *rsa.PrivateKey

	mu         sync.Mutex
	mode       TokenMode
	subject    string
	email      string
	username   string
	lastCode   string
	tokenCalls atomic.Int64
}

// NewProvider starts a mock IdP that is closed with the test.
func NewProvider(t *testing.T) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	rogue, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}

	p := &Provider{
		key:      key,
		rogueKey: rogue,
		subject:  "user-123",
		email:    "alice@example.com",
		username: "alice",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /keys", p.handleKeys)
	mux.HandleFunc("POST /token", p.handleToken)

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// URL is the issuer URL.
func (p *Provider) URL() string { return p.Server.URL }

// SetMode changes the token endpoint behavior for subsequent exchanges.
func (p *Provider) SetMode(mode TokenMode) {
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
}

// SetIdentity changes the claims of subsequently issued ID tokens.
func (p *Provider) SetIdentity(subject, email, username string) {
	p.mu.Lock()
	p.subject, p.email, p.username = subject, email, username
	p.mu.Unlock()
}

// LastCode returns the authorization code of the most recent exchange.
func (p *Provider) LastCode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCode
}

// TokenCalls returns how many times the token endpoint was hit.
func (p *Provider) TokenCalls() int64 { return p.tokenCalls.Load() }

func (p *Provider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.Server.URL,
		"authorization_endpoint":                p.Server.URL + "/authorize",
		"token_endpoint":                        p.Server.URL + "/token",
		"jwks_uri":                              p.Server.URL + "/keys",
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"subject_types_supported":               []string{"public"},
		"response_types_supported":              []string{"code"},
	})
}

func (p *Provider) handleKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &p.key.PublicKey,
			KeyID:     keyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	})
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.tokenCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.lastCode = r.PostForm.Get("code")
	mode, subject, email, username := p.mode, p.subject, p.email, p.username
	p.mu.Unlock()

	if mode == TokenInvalidGrant {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "code expired",
		})
		return
	}

	resp := map[string]any{
		"access_token": "mock-access-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if mode != TokenNoIDToken {
		raw, err := p.signIDToken(mode, subject, email, username)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp["id_token"] = raw
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Provider) signIDToken(mode TokenMode, subject, email, username string) (string, error) {
	key := p.key
	if mode == TokenBadSignature {
		key = p.rogueKey
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", keyID),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	now := time.Now()
	claims := jwt.Claims{
		Issuer:    p.Server.URL,
		Subject:   subject,
		Audience:  jwt.Audience{ClientID},
		IssuedAt:  jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(time.Hour)),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
	}
	switch mode {
	case TokenWrongAudience:
		claims.Audience = jwt.Audience{"someone-else"}
	case TokenExpired:
		claims.IssuedAt = jwt.NewNumericDate(now.Add(-2 * time.Hour))
		claims.NotBefore = jwt.NewNumericDate(now.Add(-2 * time.Hour))
		claims.Expiry = jwt.NewNumericDate(now.Add(-time.Hour))
	}

	return jwt.Signed(signer).Claims(claims).Claims(map[string]any{
		"email":    email,
		"username": username,
	}).Serialize()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
