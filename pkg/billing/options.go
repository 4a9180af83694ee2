package billing

import (
	"context"
	"time"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/audit"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
)

// instruments are the ambient dependencies shared by the processor and the
// payout scheduler
type instruments struct {
	audit   audit.Logger
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

func newInstruments(opts []Option) instruments {
	in := instruments{
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in
}

// Option configures a WebhookProcessor or PayoutScheduler
type Option func(*instruments)

// WithAuditLogger sets the audit sink. Without it entries go to the logger
// found in the request context.
func WithAuditLogger(l audit.Logger) Option {
	return func(in *instruments) { in.audit = l }
}

// WithMetrics sets the Prometheus metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(in *instruments) { in.metrics = m }
}

// WithLogger sets the application logger
func WithLogger(l *observability.Logger) Option {
	return func(in *instruments) { in.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(in *instruments) { in.now = now }
}

func (in *instruments) record(ctx context.Context, entry *audit.Entry, err error) {
	if auditErr := audit.Record(ctx, in.audit, entry.Outcome(err)); auditErr != nil {
		in.logger.WithError(auditErr).WithField("operation", entry.Operation).Error("Failed to write audit entry")
	}
}
