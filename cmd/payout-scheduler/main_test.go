package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/billing"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/claims"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
)

func TestParseAsOf(t *testing.T) {
	got, err := parseAsOf("2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseAsOf("2025-03-01T12:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC), got)

	_, err = parseAsOf("March 1st")
	assert.Error(t, err)
}

func TestCronLogger(t *testing.T) {
	l := cronLogger{observability.NopLogger()}
	l.Info("schedule", "now", time.Now(), "entry")
	l.Error(errors.New("boom"), "job panicked", "entry", 1)

	assert.Equal(t, map[string]interface{}{"a": 1, "b": "x"}, pairs([]interface{}{"a", 1, "b", "x", "dangling"}))
}

func TestBatchRunner_EmptyStore(t *testing.T) {
	runs, err := noop.NewMeterProvider().Meter("test").Int64Counter("runs")
	require.NoError(t, err)

	store := billing.NewMemoryStore(claims.NewMemoryDirectory())
	b := &batchRunner{
		scheduler: billing.NewPayoutScheduler(store, billing.DefaultMaturity),
		runs:      runs,
		logger:    observability.NopLogger(),
	}

	require.NoError(t, b.run(context.Background(), time.Now()))
	assert.Empty(t, store.Reports())
}

func TestRunOutcome(t *testing.T) {
	failed := errors.New("report r1-2026-01: disk full")
	tests := []struct {
		name    string
		summary *billing.PayoutSummary
		err     error
		want    string
	}{
		{"clean run", &billing.PayoutSummary{}, nil, "success"},
		{"failed groups with joined error", &billing.PayoutSummary{FailedGroups: []string{"r1-2026-01"}}, failed, "partial"},
		{"listing failed", nil, errors.New("connection refused"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runOutcome(tt.summary, tt.err))
		})
	}
}

type failingGroupStore struct {
	*billing.MemoryStore
	failReport string
}

type failingGroupTx struct {
	billing.Tx
	failReport string
}

func (s *failingGroupStore) WithTx(ctx context.Context, fn func(tx billing.Tx) error) error {
	return s.MemoryStore.WithTx(ctx, func(tx billing.Tx) error {
		return fn(&failingGroupTx{Tx: tx, failReport: s.failReport})
	})
}

func (t *failingGroupTx) UpsertReport(ctx context.Context, report *billing.CommissionReport) (*billing.CommissionReport, error) {
	if report.ID == t.failReport {
		return nil, errors.New("disk full")
	}
	return t.Tx.UpsertReport(ctx, report)
}

func TestBatchRunner_PartialRunIsCounted(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	runs, err := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test").Int64Counter("runs")
	require.NoError(t, err)

	jan := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	mem := billing.NewMemoryStore(nil)
	for _, c := range []billing.Commission{
		{ID: "evt_1", ResellerID: "r1", OrganizationID: "org_1", NetRevenue: 20000, CommissionAmount: 10000, Status: billing.CommissionStatusCalculated, CreatedAt: jan},
		{ID: "evt_2", ResellerID: "r2", OrganizationID: "org_2", NetRevenue: 4000, CommissionAmount: 2000, Status: billing.CommissionStatusCalculated, CreatedAt: jan},
	} {
		mem.PutCommission(c)
	}
	store := &failingGroupStore{MemoryStore: mem, failReport: "r1-2026-01"}
	b := &batchRunner{
		scheduler: billing.NewPayoutScheduler(store, billing.DefaultMaturity),
		runs:      runs,
		logger:    observability.NopLogger(),
	}

	err = b.run(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	require.Len(t, mem.Reports(), 1)
	assert.Equal(t, "r2-2026-01", mem.Reports()[0].ID)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	outcome, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("outcome"))
	assert.Equal(t, "partial", outcome.AsString())
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}
