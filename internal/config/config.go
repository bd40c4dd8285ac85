// Package config loads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	// ErrMissing is returned when a required variable is unset or empty.
	ErrMissing = errors.New("missing required configuration")
	// ErrInvalid is returned when a variable is present but malformed.
	ErrInvalid = errors.New("invalid configuration")
)

// DefaultScopes are requested on every authorization request.
var DefaultScopes = []string{"openid", "email", "username"}

// FinalizePath is the callback route; the redirect URL is ORIGIN + FinalizePath.
const FinalizePath = "/login/finalize"

// Stage selects environment specific defaults.
type Stage string

const (
	StageProd Stage = "prod"
	StageTest Stage = "test"
)

// ProviderConfig is everything the OIDC client needs. Immutable once loaded.
type ProviderConfig struct {
	IssuerURL    string
	RedirectURL  string
	ClientID     string
	ClientSecret string
	Scopes       []string
	HTTPTimeout  time.Duration
}

// Validate checks that all identifiers are present and both URLs are
// absolute http(s) URLs.
func (c ProviderConfig) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"AUTH_ISSUER", c.IssuerURL},
		{"redirect url", c.RedirectURL},
		{"AUTH_CLIENT_ID", c.ClientID},
		{"AUTH_CLIENT_SECRET", c.ClientSecret},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissing, f.name)
		}
	}
	if err := checkURL("AUTH_ISSUER", c.IssuerURL); err != nil {
		return err
	}
	return checkURL("redirect url", c.RedirectURL)
}

// Config is the full process configuration.
type Config struct {
	Stage    Stage
	Addr     string
	Provider ProviderConfig

	// SessionKey enables signed session cookies when non-empty.
	SessionKey []byte
	DistDir    string

	RateLimitRPS           float64
	RateLimitBurst         int
	LoginAttemptsPerMinute int
	TrustedProxies         string
	AuditSQLiteDSN         string
	DatabaseURL            string
	SentryDSN              string
	SentryEnvironment      string
	AppVersion             string

	stageFallback string
}

// StageFallback reports the unrecognised STAGE value that was replaced by
// prod, or "" if STAGE was valid or unset.
func (c Config) StageFallback() string { return c.stageFallback }

type rawEnv struct {
	Origin       string        `env:"ORIGIN"`
	Issuer       string        `env:"AUTH_ISSUER"`
	ClientID     string        `env:"AUTH_CLIENT_ID"`
	ClientSecret string        `env:"AUTH_CLIENT_SECRET"`
	HTTPTimeout  time.Duration `env:"AUTH_HTTP_TIMEOUT" envDefault:"10s"`

	Stage      string `env:"STAGE" envDefault:"prod"`
	Addr       string `env:"ADDR" envDefault:":8000"`
	Port       string `env:"PORT"`
	SessionKey string `env:"HANDBALL_SESSION_KEY"`
	DistDir    string `env:"HANDBALL_DIST_DIR" envDefault:"dist"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"100"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"200"`
	LoginPerMinute int     `env:"LOGIN_RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	TrustedProxies string  `env:"HANDBALL_TRUSTED_PROXIES"`

	AuditSQLiteDSN string `env:"AUDIT_SQLITE_DSN"`
	DatabaseURL    string `env:"DATABASE_URL"`

	SentryDSN         string `env:"SENTRY_DSN"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT"`
	AppVersion        string `env:"APP_VERSION" envDefault:"dev"`
}

// Load reads and validates the configuration from the process environment.
func Load() (Config, error) {
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %v", ErrInvalid, err)
	}
	return fromRaw(raw)
}

// LoadFromMap is Load over an explicit environment. Used by tests.
func LoadFromMap(environment map[string]string) (Config, error) {
	var raw rawEnv
	if err := env.ParseWithOptions(&raw, env.Options{Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %v", ErrInvalid, err)
	}
	return fromRaw(raw)
}

func fromRaw(raw rawEnv) (Config, error) {
	if strings.TrimSpace(raw.Origin) == "" {
		return Config{}, fmt.Errorf("%w: ORIGIN", ErrMissing)
	}
	if err := checkURL("ORIGIN", raw.Origin); err != nil {
		return Config{}, err
	}
	if raw.HTTPTimeout <= 0 {
		return Config{}, fmt.Errorf("%w: AUTH_HTTP_TIMEOUT must be positive", ErrInvalid)
	}

	provider := ProviderConfig{
		IssuerURL:    raw.Issuer,
		RedirectURL:  strings.TrimRight(raw.Origin, "/") + FinalizePath,
		ClientID:     raw.ClientID,
		ClientSecret: raw.ClientSecret,
		Scopes:       append([]string(nil), DefaultScopes...),
		HTTPTimeout:  raw.HTTPTimeout,
	}
	if err := provider.Validate(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Addr:                   raw.Addr,
		Provider:               provider,
		DistDir:                raw.DistDir,
		RateLimitRPS:           raw.RateLimitRPS,
		RateLimitBurst:         raw.RateLimitBurst,
		LoginAttemptsPerMinute: raw.LoginPerMinute,
		TrustedProxies:         raw.TrustedProxies,
		AuditSQLiteDSN:         raw.AuditSQLiteDSN,
		DatabaseURL:            raw.DatabaseURL,
		SentryDSN:              raw.SentryDSN,
		AppVersion:             raw.AppVersion,
	}
	if raw.Port != "" {
		cfg.Addr = ":" + raw.Port
	}
	if raw.SessionKey != "" {
		cfg.SessionKey = []byte(raw.SessionKey)
	}

	switch Stage(strings.ToLower(raw.Stage)) {
	case StageProd:
		cfg.Stage = StageProd
	case StageTest:
		cfg.Stage = StageTest
	default:
		cfg.Stage = StageProd
		cfg.stageFallback = raw.Stage
	}

	cfg.SentryEnvironment = raw.SentryEnvironment
	if cfg.SentryEnvironment == "" {
		cfg.SentryEnvironment = string(cfg.Stage)
	}
	return cfg, nil
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s must be an http(s) URL", ErrInvalid, name)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %s has no host", ErrInvalid, name)
	}
	return nil
}
