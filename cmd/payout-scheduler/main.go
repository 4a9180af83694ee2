package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/audit"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/billing"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/config"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/storage/postgres"
)

var (
	schedule = flag.String("schedule", "", "Cron schedule for payout batching (default: TENANTCORE_PAYOUT_SCHEDULE, 00:10 UTC daily)")
	runOnce  = flag.Bool("run-once", false, "Run one payout batch and exit")
	asOf     = flag.String("as-of", "", "Reference time for --run-once (YYYY-MM-DD or RFC3339). Defaults to now")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("component", "payout-scheduler")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("payout-scheduler exited with error")
		os.Exit(1)
	}
}

// run owns every resource so its deferred cleanup completes before main exits
func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName + "-payout",
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer observability.ShutdownOTel(context.Background(), providers, logger)

	runs, err := observability.Meter().Int64Counter("tenantcore.payout.runs",
		metric.WithDescription("Payout batch runs by outcome"))
	if err != nil {
		return fmt.Errorf("failed to create payout run counter: %w", err)
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
	defer db.Close()

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		return err
	}
	auditLogger := audit.NewMultiLogger(dbAudit, audit.NewStreamLogger(os.Stdout))
	defer auditLogger.Close()

	scheduler := billing.NewPayoutScheduler(billing.NewPostgresStore(db), cfg.Payout.Maturity,
		billing.WithAuditLogger(auditLogger),
		billing.WithLogger(logger),
	)
	batch := &batchRunner{scheduler: scheduler, runs: runs, logger: logger}

	if *runOnce {
		ref := time.Now().UTC()
		if *asOf != "" {
			ref, err = parseAsOf(*asOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of: %w", err)
			}
		}

		logger.Infof("Running payout batch as of %s", ref.Format(time.RFC3339))
		return batch.run(ctx, ref)
	}

	expr := *schedule
	if expr == "" {
		expr = cfg.Payout.Schedule
	}

	cronLog := cronLogger{logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(expr, func() {
		if err := batch.run(ctx, time.Now().UTC()); err != nil {
			logger.WithError(err).Error("Scheduled payout batch failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule payout batch: %w", err)
	}

	c.Start()
	logger.Infof("Payout scheduler started with schedule %q", expr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Infof("Received signal %s, waiting for running batch", sig)

	<-c.Stop().Done()
	logger.Info("Payout scheduler stopped")
	return nil
}

type batchRunner struct {
	scheduler *billing.PayoutScheduler
	runs      metric.Int64Counter
	logger    *observability.Logger
}

func (b *batchRunner) run(ctx context.Context, ref time.Time) error {
	summary, err := b.scheduler.RunAsOf(ctx, ref)
	outcome := runOutcome(summary, err)
	b.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if summary == nil {
		return err
	}

	b.logger.WithFields(map[string]interface{}{
		"cutoff":      summary.Cutoff.Format(time.RFC3339),
		"reports":     len(summary.Reports),
		"commissions": summary.CommissionsPromoted,
		"failed":      len(summary.FailedGroups),
		"outcome":     outcome,
	}).Info("Payout batch completed")
	return err
}

// runOutcome labels a run. A run with failed groups also returns their
// joined errors, so partial is decided before error.
func runOutcome(summary *billing.PayoutSummary, err error) string {
	switch {
	case summary != nil && len(summary.FailedGroups) > 0:
		return "partial"
	case err != nil:
		return "error"
	default:
		return "success"
	}
}

func parseAsOf(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", raw)
	}
	return t.UTC(), nil
}

// cronLogger routes cron's own messages into the service logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).WithError(err).Error(msg)
}

func pairs(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
