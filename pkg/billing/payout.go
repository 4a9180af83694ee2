package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/audit"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
)

// DefaultMaturity is how old a commission must be before it is batched
const DefaultMaturity = 30 * 24 * time.Hour

// PayoutSummary reports one scheduler run
type PayoutSummary struct {
	AsOf                time.Time           `json:"asOf"`
	Cutoff              time.Time           `json:"cutoff"`
	Reports             []*CommissionReport `json:"reports"`
	CommissionsPromoted int                 `json:"commissionsPromoted"`
	FailedGroups        []string            `json:"failedGroups,omitempty"`
}

// PayoutScheduler batches matured commissions into monthly reseller reports
type PayoutScheduler struct {
	store    Store
	maturity time.Duration
	instruments
}

// NewPayoutScheduler creates a scheduler. A maturity of zero or less uses
// DefaultMaturity.
func NewPayoutScheduler(store Store, maturity time.Duration, opts ...Option) *PayoutScheduler {
	if maturity <= 0 {
		maturity = DefaultMaturity
	}
	return &PayoutScheduler{
		store:       store,
		maturity:    maturity,
		instruments: newInstruments(opts),
	}
}

// Run batches commissions matured as of now
func (s *PayoutScheduler) Run(ctx context.Context) (*PayoutSummary, error) {
	return s.RunAsOf(ctx, s.now())
}

type payoutGroup struct {
	resellerID string
	month      string
	ids        []string
}

// RunAsOf batches commissions created at or before asOf minus the maturity
// window. Each (reseller, month) group commits on its own; a failed group
// leaves its commissions calculated for the next run and does not stop the
// others.
func (s *PayoutScheduler) RunAsOf(ctx context.Context, asOf time.Time) (*PayoutSummary, error) {
	ctx, span := observability.Tracer().Start(ctx, "billing.PayoutRun")
	defer span.End()

	summary := &PayoutSummary{AsOf: asOf.UTC(), Cutoff: asOf.Add(-s.maturity).UTC()}
	span.SetAttributes(attribute.String("payout.cutoff", summary.Cutoff.Format(time.RFC3339)))

	matured, err := s.store.MaturedCommissions(ctx, summary.Cutoff)
	if err != nil {
		err = fmt.Errorf("failed to list matured commissions: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		s.metrics.ObservePayoutRun(0, 0, err)
		return nil, err
	}

	var errs []error
	for _, group := range groupCommissions(matured) {
		report, promoted, err := s.settleGroup(ctx, group, asOf.UTC())
		if err != nil {
			id := ReportID(group.resellerID, group.month)
			summary.FailedGroups = append(summary.FailedGroups, id)
			errs = append(errs, fmt.Errorf("report %s: %w", id, err))
			s.logger.WithError(err).WithField("report_id", id).Error("Failed to settle payout group")
			continue
		}
		if report != nil {
			summary.Reports = append(summary.Reports, report)
			summary.CommissionsPromoted += promoted
		}
	}
	err = errors.Join(errs...)

	span.SetAttributes(
		attribute.Int("payout.reports", len(summary.Reports)),
		attribute.Int("payout.commissions", summary.CommissionsPromoted),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "group failed")
	}
	s.metrics.ObservePayoutRun(len(summary.Reports), summary.CommissionsPromoted, err)

	entry := audit.NewEntry(audit.OpPayoutBatch).
		WithActor("system", "", "").
		WithDetail("cutoff", summary.Cutoff.Format(time.RFC3339)).
		WithDetail("reports", len(summary.Reports)).
		WithDetail("commissions_promoted", summary.CommissionsPromoted)
	if len(summary.FailedGroups) > 0 {
		entry.WithDetail("failed_groups", summary.FailedGroups).WithSeverity(audit.SeverityWarning)
	}
	s.record(ctx, entry, err)

	s.logger.WithFields(map[string]interface{}{
		"reports":              len(summary.Reports),
		"commissions_promoted": summary.CommissionsPromoted,
		"failed_groups":        len(summary.FailedGroups),
	}).Info("Payout batch run complete")

	return summary, err
}

// maxReportsPerMonth bounds the follow-up reports opened for one reseller
// and month
const maxReportsPerMonth = 100

// settleGroup writes one report and promotes its commissions atomically. A
// month whose report is already settled gets a follow-up report. A nil
// report means every member was already taken by a concurrent run.
func (s *PayoutScheduler) settleGroup(ctx context.Context, group payoutGroup, at time.Time) (*CommissionReport, int, error) {
	var (
		stored   *CommissionReport
		promoted int
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		locked, err := tx.LockCalculated(ctx, group.ids)
		if err != nil {
			return fmt.Errorf("failed to lock commissions: %w", err)
		}
		if len(locked) == 0 {
			return nil
		}

		report := &CommissionReport{
			ResellerID:   group.resellerID,
			Month:        group.month,
			PayoutStatus: PayoutStatusPending,
			CreatedAt:    at,
			UpdatedAt:    at,
		}
		ids := make([]string, 0, len(locked))
		for _, c := range locked {
			report.TotalRevenue += c.NetRevenue
			report.TotalCommission += c.CommissionAmount
			ids = append(ids, c.ID)
		}
		report.CommissionIDs = ids

		for seq := 1; ; seq++ {
			report.ID = FollowUpReportID(group.resellerID, group.month, seq)
			stored, err = tx.UpsertReport(ctx, report)
			if !errors.Is(err, ErrReportSettled) || seq >= maxReportsPerMonth {
				break
			}
		}
		if err != nil {
			return fmt.Errorf("failed to upsert report: %w", err)
		}

		n, err := tx.MarkPending(ctx, ids, at)
		if err != nil {
			return fmt.Errorf("failed to mark commissions pending: %w", err)
		}
		if n != len(ids) {
			return fmt.Errorf("marked %d of %d locked commissions pending", n, len(ids))
		}
		promoted = n
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return stored, promoted, nil
}

// groupCommissions buckets commissions by reseller and UTC creation month,
// in a stable order
func groupCommissions(commissions []*Commission) []payoutGroup {
	index := make(map[string]int)
	var groups []payoutGroup
	for _, c := range commissions {
		key := ReportID(c.ResellerID, c.Month())
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, payoutGroup{resellerID: c.ResellerID, month: c.Month()})
		}
		groups[i].ids = append(groups[i].ids, c.ID)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].resellerID != groups[j].resellerID {
			return groups[i].resellerID < groups[j].resellerID
		}
		return groups[i].month < groups[j].month
	})
	return groups
}
