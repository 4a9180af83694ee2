// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing for the tenant core services.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("organization_id", orgID).Info("claims issued")
//
// Loggers travel in the request context; FromContext annotates them with the
// request and user ids set by middleware.
//
// # Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.ObserveCommission(gross, fees, commission, owner, company)
//
// A nil *Metrics is valid and records nothing.
//
// # Health
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # Tracing
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
