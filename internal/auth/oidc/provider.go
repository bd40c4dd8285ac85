// Package oidc wraps provider discovery, the authorization code exchange
// and ID token verification.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"

	"github.com/LunchTimeCode/handball/internal/config"
)

const defaultHTTPTimeout = 10 * time.Second

// Provider wraps OIDC discovery, token verification, and OAuth2 config.
// It is immutable after NewProvider returns and safe for concurrent use.
type Provider struct {
	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
	oauth2Config oauth2.Config
	httpClient   *http.Client
}

// NewProvider creates a Provider by performing OIDC discovery on the issuer
// URL. It does not retry; a failure here should stop the process.
func NewProvider(ctx context.Context, cfg config.ProviderConfig) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout

	oidcProv, err := gooidc.NewProvider(gooidc.ClientContext(ctx, client), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = config.DefaultScopes
	}

	return &Provider{
		oidcProvider: oidcProv,
		verifier:     oidcProv.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     oidcProv.Endpoint(),
			Scopes:       scopes,
		},
		httpClient: client,
	}, nil
}

// Issuer returns the issuer the provider advertised during discovery.
func (p *Provider) Issuer() string {
	var meta struct {
		Issuer string `json:"issuer"`
	}
	if err := p.oidcProvider.Claims(&meta); err != nil {
		return ""
	}
	return meta.Issuer
}

// AuthCodeURL builds the provider login URL. Extra values are appended as
// query parameters after the standard ones.
func (p *Provider) AuthCodeURL(state string, extra url.Values) string {
	opts := make([]oauth2.AuthCodeOption, 0, len(extra))
	for key, values := range extra {
		for _, v := range values {
			opts = append(opts, oauth2.SetAuthURLParam(key, v))
		}
	}
	return p.oauth2Config.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for tokens and verifies the ID
// token's signature, issuer, audience and expiry. Errors are *ExchangeError.
func (p *Provider) Exchange(ctx context.Context, code string) (*Token, error) {
	ctx = gooidc.ClientContext(ctx, p.httpClient)

	oauthToken, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyTransport(err)
	}

	rawIDToken, ok := oauthToken.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, &ExchangeError{Kind: KindDecode, Err: ErrMissingIDToken}
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, &ExchangeError{Kind: KindValidation, Err: fmt.Errorf("verify id_token: %w", err)}
	}

	claims, err := claimsFromIDToken(idToken)
	if err != nil {
		return nil, &ExchangeError{Kind: KindDecode, Err: err}
	}

	return &Token{
		AccessToken: oauthToken.AccessToken,
		IDToken:     idToken,
		Claims:      claims,
	}, nil
}

func classifyTransport(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
		return &ExchangeError{Kind: KindNetwork, Err: fmt.Errorf("token endpoint rejected code (%s): %w", retrieveErr.ErrorCode, err)}
	}
	return &ExchangeError{Kind: KindNetwork, Err: fmt.Errorf("token exchange: %w", err)}
}
