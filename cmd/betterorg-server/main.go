package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/betterorg/betterorg/pkg/api"
	"github.com/betterorg/betterorg/pkg/auth"
	"github.com/betterorg/betterorg/pkg/billing"
	"github.com/betterorg/betterorg/pkg/config"
	"github.com/betterorg/betterorg/pkg/gate"
	"github.com/betterorg/betterorg/pkg/middleware"
	"github.com/betterorg/betterorg/pkg/observability"
	"github.com/betterorg/betterorg/pkg/orgs"
	"github.com/betterorg/betterorg/pkg/sso"
	"github.com/betterorg/betterorg/pkg/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.ParseLevel(cfg.Observability.LogLevel), os.Stdout)
	logger.Info("starting betterorg server")

	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db, logger); err != nil {
		logger.WithError(err).Error("failed to migrate database")
		os.Exit(1)
	}

	rdb, err := storage.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Error("failed to connect to redis")
		os.Exit(1)
	}
	defer rdb.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	users := auth.NewUserStore(db)
	sessions := auth.NewSessionStore(rdb, cfg.Auth.SessionTTL)
	otpService := auth.NewOTPService(rdb, &auth.LogSender{Logger: logger}, cfg.Auth.OTPTTL, cfg.Auth.OTPMaxAttempts)
	otpLimiter := middleware.NewRateLimiter(rdb, "otp_send", cfg.Auth.OTPSendsPerHour, time.Hour)

	orgService := orgs.NewPostgresService(db)
	subscriptions := billing.NewSubscriptionStore(db)

	provider := billing.NewStripeProvider(billing.StripeConfig{
		APIKey:         cfg.Billing.StripeAPIKey,
		APIBase:        cfg.Billing.StripeAPIBase,
		BaseURL:        cfg.Server.BaseURL,
		RequestTimeout: cfg.Billing.RequestTimeout,
	}, subscriptions, orgService.AuthorizeBillingReference, logger, metrics)

	webhooks := billing.NewWebhookProcessor(subscriptions, cfg.Billing.StripeWebhookSecret, logger, metrics)

	g, err := gate.NewGate(sessions, orgService, provider, 256, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to create gate")
		os.Exit(1)
	}

	var ssoProvider *sso.Provider
	if cfg.SSOEnabled() {
		ssoProvider, err = sso.NewProvider(ctx, cfg.SSO, logger)
		if err != nil {
			logger.WithError(err).Error("failed to initialize SSO")
			os.Exit(1)
		}
		logger.WithField("issuer", cfg.SSO.IssuerURL).Info("SSO enabled")
	}

	apiServer := api.NewServer(api.Dependencies{
		Config:     cfg,
		Gate:       g,
		Orgs:       orgService,
		Users:      users,
		Sessions:   sessions,
		OTP:        otpService,
		OTPLimiter: otpLimiter,
		Webhooks:   webhooks,
		SSO:        ssoProvider,
		Logger:     logger,
		Metrics:    metrics,
	})

	var handler http.Handler = apiServer.Handler()
	if otelProviders != nil {
		handler = otelhttp.NewHandler(handler, "betterorg.http")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics live on their own port so probes and scrapes
	// never contend with user traffic
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, rdb)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		defer observability.RecoverPanic(logger, "health server")
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	// Keep DB pool gauges current for the scraper
	go func() {
		defer observability.RecoverPanic(logger, "db stats")
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return rdb.Close()
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("server stopped")
}
