package billing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
)

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	calc, err := NewCalculator(DefaultRates)
	require.NoError(t, err)
	return calc
}

func TestCalculator_WorkedExample(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	c, err := newTestCalculator(t).Compute(PaymentEvent{
		EventID:        "evt_1",
		OrganizationID: "org_1",
		ResellerID:     "r1",
		SubscriptionID: "sub_org_1",
		GrossAmount:    49900,
		OccurredAt:     at,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1447), c.ProviderFees)
	assert.Equal(t, int64(48453), c.NetRevenue)
	assert.Equal(t, int64(24227), c.CommissionAmount)
	assert.Equal(t, int64(14536), c.OwnerAmount)
	assert.Equal(t, int64(9690), c.CompanyAmount)
	assert.Equal(t, "evt_1", c.ID)
	assert.Equal(t, "evt_1", c.SourceEventID)
	assert.Equal(t, CommissionStatusCalculated, c.Status)
	assert.Equal(t, "2026-03", c.Month())
}

func TestCalculator_RejectsBadInput(t *testing.T) {
	calc := newTestCalculator(t)
	for _, gross := range []int64{0, -1, maxGross + 1} {
		_, err := calc.Compute(PaymentEvent{EventID: "evt", GrossAmount: gross})
		assert.True(t, apperrors.Is(err, apperrors.InvalidArgument), "gross %d", gross)
	}

	_, err := calc.Compute(PaymentEvent{GrossAmount: 100})
	assert.True(t, apperrors.Is(err, apperrors.InvalidArgument))
}

func TestCalculator_SplitAlwaysSumsToNet(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		rates := Rates{
			FeeBps:        rng.Int63n(1001),
			CommissionBps: rng.Int63n(bpsScale + 1),
		}
		rates.OwnerBps = rng.Int63n(bpsScale - rates.CommissionBps + 1)

		calc, err := NewCalculator(rates)
		require.NoError(t, err)

		gross := 1 + rng.Int63n(10_000_000)
		c, err := calc.Compute(PaymentEvent{EventID: "evt", GrossAmount: gross})
		require.NoError(t, err)

		require.Equal(t, c.NetRevenue, c.CommissionAmount+c.OwnerAmount+c.CompanyAmount, "rates %+v gross %d", rates, gross)
		require.Equal(t, gross, c.NetRevenue+c.ProviderFees)
		require.GreaterOrEqual(t, c.ProviderFees, int64(0))
		require.GreaterOrEqual(t, c.CommissionAmount, int64(0))
		require.GreaterOrEqual(t, c.OwnerAmount, int64(0))
		require.GreaterOrEqual(t, c.CompanyAmount, int64(0), "rates %+v gross %d", rates, gross)
	}
}

func TestParseRates(t *testing.T) {
	r, err := ParseRates("2.9", "50", "30", "20")
	require.NoError(t, err)
	assert.Equal(t, DefaultRates, r)
	assert.Equal(t, int64(2000), r.CompanyBps())

	tests := []struct {
		name                           string
		fee, commission, owner, company string
	}{
		{"not a number", "x", "50", "30", "20"},
		{"sub basis point", "2.905", "50", "30", "20"},
		{"negative", "-1", "50", "30", "20"},
		{"over 100", "2.9", "80", "30", "-10"},
		{"company mismatch", "2.9", "50", "30", "25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRates(tt.fee, tt.commission, tt.owner, tt.company)
			assert.Error(t, err)
		})
	}
}
