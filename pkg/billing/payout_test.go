package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/audit"
)

func commissionAt(id, reseller, org string, created time.Time, net, commission int64) Commission {
	return Commission{
		ID:               id,
		ResellerID:       reseller,
		OrganizationID:   org,
		SourceEventID:    id,
		NetRevenue:       net,
		CommissionAmount: commission,
		Status:           CommissionStatusCalculated,
		CreatedAt:        created,
	}
}

func seededPayoutStore() *MemoryStore {
	store := NewMemoryStore(nil)
	jan := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	store.PutCommission(commissionAt("evt_a", "r1", "org_1", jan, 48453, 24227))
	store.PutCommission(commissionAt("evt_b", "r1", "org_2", jan.Add(24*time.Hour), 10000, 5000))
	store.PutCommission(commissionAt("evt_c", "r1", "org_1", jan.Add(48*time.Hour), 20000, 10000))
	store.PutCommission(commissionAt("evt_d", "r1", "org_1", feb, 30000, 15000))
	store.PutCommission(commissionAt("evt_e", "r2", "org_3", jan, 4000, 2000))
	// not yet mature on March 1st
	store.PutCommission(commissionAt("evt_f", "r1", "org_1", time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), 1000, 500))
	return store
}

func statuses(store *MemoryStore) map[string]CommissionStatus {
	out := make(map[string]CommissionStatus)
	for _, c := range store.Commissions() {
		out[c.ID] = c.Status
	}
	return out
}

func TestPayoutScheduler_Run(t *testing.T) {
	store := seededPayoutStore()
	logger := audit.NewMemoryLogger()
	asOf := time.Date(2026, 3, 8, 0, 10, 0, 0, time.UTC)
	scheduler := NewPayoutScheduler(store, 0,
		WithAuditLogger(logger),
		WithClock(func() time.Time { return asOf }),
	)

	summary, err := scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, asOf.Add(-DefaultMaturity), summary.Cutoff)
	assert.Equal(t, 5, summary.CommissionsPromoted)
	require.Len(t, summary.Reports, 3)

	reports := store.Reports()
	require.Len(t, reports, 3)

	jan := reports[0]
	assert.Equal(t, "r1-2026-01", jan.ID)
	assert.Equal(t, "2026-01", jan.Month)
	assert.Equal(t, int64(78453), jan.TotalRevenue)
	assert.Equal(t, int64(39227), jan.TotalCommission)
	assert.Equal(t, 2, jan.TotalClients)
	assert.ElementsMatch(t, []string{"evt_a", "evt_b", "evt_c"}, jan.CommissionIDs)
	assert.Equal(t, PayoutStatusPending, jan.PayoutStatus)

	assert.Equal(t, "r1-2026-02", reports[1].ID)
	assert.Equal(t, []string{"evt_d"}, reports[1].CommissionIDs)
	assert.Equal(t, "r2-2026-01", reports[2].ID)

	got := statuses(store)
	for _, id := range []string{"evt_a", "evt_b", "evt_c", "evt_d", "evt_e"} {
		assert.Equal(t, CommissionStatusPending, got[id], id)
	}
	assert.Equal(t, CommissionStatusCalculated, got["evt_f"])

	entries := logger.ByOperation(audit.OpPayoutBatch)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
}

func TestPayoutScheduler_SecondRunIsNoop(t *testing.T) {
	store := seededPayoutStore()
	asOf := time.Date(2026, 3, 8, 0, 10, 0, 0, time.UTC)
	scheduler := NewPayoutScheduler(store, 0)

	_, err := scheduler.RunAsOf(context.Background(), asOf)
	require.NoError(t, err)
	before := store.Reports()

	summary, err := scheduler.RunAsOf(context.Background(), asOf)
	require.NoError(t, err)
	assert.Empty(t, summary.Reports)
	assert.Zero(t, summary.CommissionsPromoted)
	assert.Equal(t, before, store.Reports())
}

func TestPayoutScheduler_LateCommissionExtendsReport(t *testing.T) {
	store := seededPayoutStore()
	scheduler := NewPayoutScheduler(store, 0)

	_, err := scheduler.RunAsOf(context.Background(), time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	summary, err := scheduler.RunAsOf(context.Background(), time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CommissionsPromoted)

	var feb CommissionReport
	for _, r := range store.Reports() {
		if r.ID == "r1-2026-02" {
			feb = r
		}
	}
	assert.Equal(t, []string{"evt_d", "evt_f"}, feb.CommissionIDs)
	assert.Equal(t, int64(31000), feb.TotalRevenue)
	assert.Equal(t, int64(15500), feb.TotalCommission)
	assert.Equal(t, 1, feb.TotalClients)
	assert.Len(t, store.Reports(), 3)
}

func TestPayoutScheduler_SettledReportGetsFollowUp(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	store.PutCommission(commissionAt("evt_early", "r1", "org_1", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), 20000, 10000))
	store.PutCommission(commissionAt("evt_late", "r1", "org_2", time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC), 10000, 5000))
	scheduler := NewPayoutScheduler(store, 0)

	_, err := scheduler.RunAsOf(ctx, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, store.SetPayoutStatus("r1-2026-01", PayoutStatusPaid))

	summary, err := scheduler.RunAsOf(ctx, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, summary.FailedGroups)
	assert.Equal(t, 1, summary.CommissionsPromoted)
	require.Len(t, summary.Reports, 1)
	assert.Equal(t, "r1-2026-01-2", summary.Reports[0].ID)

	reports := store.Reports()
	require.Len(t, reports, 2)
	paid, followUp := reports[0], reports[1]

	assert.Equal(t, "r1-2026-01", paid.ID)
	assert.Equal(t, PayoutStatusPaid, paid.PayoutStatus)
	assert.Equal(t, []string{"evt_early"}, paid.CommissionIDs)
	assert.Equal(t, int64(10000), paid.TotalCommission)

	assert.Equal(t, "r1-2026-01-2", followUp.ID)
	assert.Equal(t, "2026-01", followUp.Month)
	assert.Equal(t, PayoutStatusPending, followUp.PayoutStatus)
	assert.Equal(t, []string{"evt_late"}, followUp.CommissionIDs)
	assert.Equal(t, int64(5000), followUp.TotalCommission)
	assert.Equal(t, 1, followUp.TotalClients)

	assert.Equal(t, CommissionStatusPending, statuses(store)["evt_late"])
}

func TestFollowUpReportID(t *testing.T) {
	assert.Equal(t, "r1-2026-01", FollowUpReportID("r1", "2026-01", 1))
	assert.Equal(t, "r1-2026-01", FollowUpReportID("r1", "2026-01", 0))
	assert.Equal(t, "r1-2026-01-3", FollowUpReportID("r1", "2026-01", 3))
}

type failingReportStore struct {
	*MemoryStore
	failReport string
}

type failingReportTx struct {
	Tx
	failReport string
}

func (f *failingReportStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return f.MemoryStore.WithTx(ctx, func(tx Tx) error {
		return fn(&failingReportTx{Tx: tx, failReport: f.failReport})
	})
}

func (f *failingReportTx) UpsertReport(ctx context.Context, report *CommissionReport) (*CommissionReport, error) {
	if report.ID == f.failReport {
		return nil, errors.New("disk full")
	}
	return f.Tx.UpsertReport(ctx, report)
}

func TestPayoutScheduler_FailedGroupRollsBackAlone(t *testing.T) {
	base := seededPayoutStore()
	store := &failingReportStore{MemoryStore: base, failReport: "r1-2026-01"}
	logger := audit.NewMemoryLogger()
	scheduler := NewPayoutScheduler(store, 0, WithAuditLogger(logger))

	summary, err := scheduler.RunAsOf(context.Background(), time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Equal(t, []string{"r1-2026-01"}, summary.FailedGroups)
	assert.Len(t, summary.Reports, 2)

	got := statuses(base)
	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		assert.Equal(t, CommissionStatusCalculated, got[id], id)
	}
	assert.Equal(t, CommissionStatusPending, got["evt_d"])
	assert.Equal(t, CommissionStatusPending, got["evt_e"])

	entries := logger.ByOperation(audit.OpPayoutBatch)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)

	store.failReport = ""
	summary, err = scheduler.RunAsOf(context.Background(), time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.CommissionsPromoted)
}

func TestGroupCommissions(t *testing.T) {
	at := time.Date(2026, 1, 31, 23, 59, 0, 0, time.FixedZone("UTC-2", -2*3600))
	groups := groupCommissions([]*Commission{
		{ID: "b", ResellerID: "r2", CreatedAt: at},
		{ID: "a", ResellerID: "r1", CreatedAt: at},
		{ID: "c", ResellerID: "r1", CreatedAt: at.Add(-24 * time.Hour)},
	})
	require.Len(t, groups, 3)
	assert.Equal(t, payoutGroup{resellerID: "r1", month: "2026-01", ids: []string{"c"}}, groups[0])
	assert.Equal(t, payoutGroup{resellerID: "r1", month: "2026-02", ids: []string{"a"}}, groups[1])
	assert.Equal(t, "r2", groups[2].resellerID)
}
