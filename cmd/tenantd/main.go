package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/api"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/audit"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/authz"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/billing"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/claims"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/config"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/middleware"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/storage/postgres"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/superuser"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("tenantd exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := postgres.Open(ctx, postgres.Options{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			db.Close()
			return err
		}
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = postgres.NewRedisClient(ctx, postgres.RedisOptions{URL: cfg.Redis.URL})
		if err != nil {
			db.Close()
			return err
		}
	} else {
		logger.Warn("Redis is not configured; webhook idempotency relies on the database only")
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewDBStatsCollector(db, "tenantcore"))
		metrics = observability.NewMetrics(registry)
	}

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		db.Close()
		return err
	}
	auditLogger := audit.NewMultiLogger(dbAudit, audit.NewStreamLogger(os.Stdout))

	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		db.Close()
		return err
	}

	bootstrap := authz.NewBootstrapList(cfg.Auth.BootstrapUIDs, cfg.Auth.BootstrapEmails)
	stopWatch := func() error { return nil }
	if cfg.Auth.BootstrapFile != "" {
		stopWatch, err = bootstrap.Watch(cfg.Auth.BootstrapFile, cfg.Auth.BootstrapUIDs, cfg.Auth.BootstrapEmails, logger)
		if err != nil {
			db.Close()
			return err
		}
	}

	cache := claims.NewCache(cfg.Auth.ClaimsCacheSize, cfg.Auth.SessionTTL).WithMetrics(metrics)
	claimsStore := claims.NewPostgresClaimsStore(db)
	resolver := claims.NewResolver(claims.NewPostgresDirectory(db), cfg.Auth.ResolverScanLimit, logger)
	issuer := claims.NewIssuer(resolver, claimsStore, cache,
		claims.WithAuditLogger(auditLogger),
		claims.WithMetrics(metrics),
		claims.WithLogger(logger),
		claims.WithConcurrency(cfg.Auth.IssueConcurrency),
	)

	validator := authz.NewValidator(cache, claimsStore,
		authz.WithAuditLogger(auditLogger),
		authz.WithMetrics(metrics),
		authz.WithLogger(logger),
		authz.WithBootstrap(bootstrap),
	)

	admin := superuser.NewAdmin(validator, superuser.NewPostgresStore(db), issuer,
		superuser.WithAuditLogger(auditLogger),
		superuser.WithMetrics(metrics),
		superuser.WithLogger(logger),
		superuser.WithCeiling(cfg.Auth.ElevatedCeiling),
	)

	webhooks, err := newWebhookProcessor(cfg, db, rdb, auditLogger, metrics, logger)
	if err != nil {
		db.Close()
		return err
	}

	health := observability.NewHealthChecker(db, rdb, cfg.Observability.OTelServiceVersion)
	server := api.NewServer(api.Dependencies{
		Verifier:   verifier,
		Issuer:     issuer,
		Validator:  validator,
		Admin:      admin,
		Webhooks:   webhooks,
		RateLimits: newRateLimits(ctx, cfg.Server, rdb),
		Metrics:    metrics,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server, "tenantd"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health-server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("bootstrap-watcher", func(context.Context) error { return stopWatch() })
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error { return auditLogger.Close() })
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	if rdb != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return rdb.Close() })
	}

	serveErr := make(chan error, 2)
	go func() {
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("health server: %w", err)
		}
	}()
	go func() {
		logger.Infof("tenantd listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("api server: %w", err)
		}
	}()

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	var listenErr error
	go func() {
		select {
		case listenErr = <-serveErr:
			stop()
		case <-waitCtx.Done():
		}
	}()

	shutdownErr := shutdown.WaitForShutdown(waitCtx)
	// audit sinks write through the pool, so it closes after them
	if err := db.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close database pool")
	}
	if listenErr != nil {
		return listenErr
	}
	return shutdownErr
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (auth.TokenVerifier, error) {
	switch cfg.TokenMode {
	case "oidc":
		return auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
	default:
		return auth.NewHMACVerifier(cfg.HMACSecret, cfg.TokenIssuer)
	}
}

func newWebhookProcessor(cfg *config.Config, db *sql.DB, rdb *redis.Client, auditLogger audit.Logger, metrics *observability.Metrics, logger *observability.Logger) (*billing.WebhookProcessor, error) {
	rates, err := billing.ParseRates(
		cfg.Billing.FeePercent,
		cfg.Billing.CommissionPercent,
		cfg.Billing.OwnerPercent,
		cfg.Billing.CompanyPercent,
	)
	if err != nil {
		return nil, err
	}
	calc, err := billing.NewCalculator(rates)
	if err != nil {
		return nil, err
	}

	var idempotency billing.Idempotency
	if rdb != nil {
		idempotency = billing.NewRedisIdempotency(rdb, "", cfg.Redis.IdempotencyTTL)
	}

	return billing.NewWebhookProcessor(billing.NewPostgresStore(db), calc, billing.ProcessorConfig{
		Secret:      cfg.Billing.WebhookSecret,
		Tolerance:   cfg.Billing.WebhookTolerance,
		Idempotency: idempotency,
	},
		billing.WithAuditLogger(auditLogger),
		billing.WithMetrics(metrics),
		billing.WithLogger(logger),
	), nil
}

// newRateLimits shares buckets through Redis when available so every replica
// enforces the same budget
func newRateLimits(ctx context.Context, cfg config.ServerConfig, rdb *redis.Client) *middleware.RateLimitMiddleware {
	if !cfg.RateLimitEnabled {
		return nil
	}
	if rdb != nil {
		return middleware.NewRateLimitMiddleware(
			middleware.NewDistributedRateLimiter(rdb, middleware.PerUserRateLimitConfig(), "ratelimit:user"),
			middleware.NewDistributedRateLimiter(rdb, middleware.DefaultRateLimitConfig(), "ratelimit:ip"),
		)
	}

	user := middleware.NewRateLimiter(middleware.PerUserRateLimitConfig())
	anonymous := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	user.StartCleanup(ctx)
	anonymous.StartCleanup(ctx)
	return middleware.NewRateLimitMiddleware(user, anonymous)
}
