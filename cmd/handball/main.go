package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/LunchTimeCode/handball/internal/api"
	"github.com/LunchTimeCode/handball/internal/audit"
	"github.com/LunchTimeCode/handball/internal/auth"
	"github.com/LunchTimeCode/handball/internal/auth/oidc"
	"github.com/LunchTimeCode/handball/internal/config"
	"github.com/LunchTimeCode/handball/internal/observability"
)

func main() {
	cfg, err := config.Load()

	logCfg := observability.ConfigFromEnv()
	if err == nil && cfg.Stage == config.StageTest && os.Getenv("HANDBALL_LOG_FORMAT") == "" {
		logCfg.Format = "text"
	}
	logger := observability.NewLogger(logCfg)

	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if fallback := cfg.StageFallback(); fallback != "" {
		logger.Warn("unknown STAGE, falling back to prod", "stage", fallback)
	}

	addr := cfg.Addr
	flag.StringVar(&addr, "addr", addr, "listen address (host:port)")
	flag.Parse()

	// Initialize Sentry if DSN is provided
	sentryEnabled := false
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			Release:          cfg.AppVersion,
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry initialization failed", "error", err)
		} else {
			logger.Info("sentry initialized",
				"environment", cfg.SentryEnvironment,
				"release", cfg.AppVersion,
			)
			sentryEnabled = true
		}
	}

	// Discovery is fatal: every protected route depends on the client.
	discoveryCtx, cancelDiscovery := context.WithTimeout(context.Background(), cfg.Provider.HTTPTimeout)
	provider, err := oidc.NewProvider(discoveryCtx, cfg.Provider)
	cancelDiscovery()
	if err != nil {
		logger.Error("oidc discovery failed", "issuer", cfg.Provider.IssuerURL, "error", err)
		if sentryEnabled {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		os.Exit(1)
	}
	logger.Info("oidc provider discovered",
		"issuer", provider.Issuer(),
		"redirect_url", cfg.Provider.RedirectURL,
	)

	metricsCfg := observability.MetricsConfigFromEnv()
	metricsCfg.Version = cfg.AppVersion
	var metrics *observability.Metrics
	if metricsCfg.Enabled {
		metrics = observability.NewMetrics(metricsCfg)
		logger.Info("metrics enabled", "namespace", metricsCfg.Namespace, "version", metricsCfg.Version)
	} else {
		logger.Info("metrics disabled")
	}

	proxyConfig, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Error("invalid HANDBALL_TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}
	if len(proxyConfig.CIDRs) > 0 {
		logger.Info("trusted proxies configured", "count", len(proxyConfig.CIDRs))
	}

	rateCfg := api.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		ProxyConfig:       proxyConfig,
	}
	if !rateCfg.Enabled() {
		logger.Info("rate limiting disabled")
	} else {
		logger.Info("rate limiting configured",
			"requests_per_second", rateCfg.RequestsPerSecond,
			"burst", rateCfg.Burst,
		)
	}

	auditLogger, backend, err := audit.Open(context.Background(), audit.StoreConfig{
		SQLiteDSN:   cfg.AuditSQLiteDSN,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		logger.Error("failed to open audit store", "backend", backend, "error", err)
		os.Exit(1)
	}
	logger.Info("login audit enabled", "backend", backend)

	sessions := auth.NewSessionCodec(cfg.SessionKey)
	if sessions.Signed() {
		logger.Info("signed session cookies enabled")
	} else {
		logger.Warn("session cookies are presence-only; set HANDBALL_SESSION_KEY to sign them")
	}

	mux := http.NewServeMux()
	srv := api.NewServer(mux, logger, metrics, auditLogger)
	srv.SetAuditBackend(backend)
	srv.SetTrustedProxies(proxyConfig)
	srv.SetStage(string(cfg.Stage))
	srv.SetFrontend(api.StaticFrontend(cfg.DistDir))
	srv.RegisterRoutes(auth.NewGuard(sessions))

	authSrv := api.NewAuthServer(srv, provider, sessions)
	authSrv.SetLoginRateLimit(api.LoginRateLimitMiddleware(api.LoginRateLimitConfig{
		AttemptsPerMinute: cfg.LoginAttemptsPerMinute,
		ProxyConfig:       proxyConfig,
	}, logger.Slog()))
	authSrv.RegisterAuthRoutes()

	// Order: metrics (outermost) -> requestID -> logging -> rateLimiting (innermost before handler)
	handler := api.ApplyMiddlewares(
		mux,
		observability.MetricsMiddleware(metrics),
		api.RequestIDMiddleware(),
		api.LoggingMiddleware(logger.Slog()),
		api.RateLimitMiddleware(rateCfg, logger.Slog()),
	)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second + cfg.Provider.HTTPTimeout,
		IdleTimeout:       60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("handball listening", "addr", addr, "stage", string(cfg.Stage))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	}

	logger.Info("shutting down server", "timeout", "15s")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if err := auditLogger.Close(); err != nil {
		logger.Error("error closing audit store", "error", err)
	}

	if sentryEnabled {
		logger.Info("flushing sentry events", "deadline", "2s")
		sentry.Flush(2 * time.Second)
	}

	logger.Info("shutdown complete")
}
