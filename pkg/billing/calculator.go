package billing

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
)

// bpsScale is 100% expressed in basis points
const bpsScale = 10000

var (
	hundred = decimal.NewFromInt(100)
	// maxGross keeps gross*bps within int64
	maxGross = int64(math.MaxInt64 / bpsScale)
)

// Rates is a revenue split in basis points. The company share is whatever
// remains after commission and owner, so only those two are stored.
type Rates struct {
	FeeBps        int64
	CommissionBps int64
	OwnerBps      int64
}

// DefaultRates is a 2.9% fee estimate and a 50/30/20 split of net revenue
var DefaultRates = Rates{FeeBps: 290, CommissionBps: 5000, OwnerBps: 3000}

// CompanyBps returns the remainder share
func (r Rates) CompanyBps() int64 {
	return bpsScale - r.CommissionBps - r.OwnerBps
}

// Validate checks every rate is within 0..100% and the split does not exceed
// net revenue
func (r Rates) Validate() error {
	for name, bps := range map[string]int64{"fee": r.FeeBps, "commission": r.CommissionBps, "owner": r.OwnerBps} {
		if bps < 0 || bps > bpsScale {
			return fmt.Errorf("%s rate %d bps out of range", name, bps)
		}
	}
	if r.CompanyBps() < 0 {
		return fmt.Errorf("commission and owner rates exceed 100%%")
	}
	return nil
}

// ParseRates converts percentage strings such as "2.9" into basis points.
// company must equal the remainder of commission and owner.
func ParseRates(fee, commission, owner, company string) (Rates, error) {
	var (
		r   Rates
		err error
	)
	if r.FeeBps, err = percentToBps(fee); err != nil {
		return Rates{}, fmt.Errorf("invalid fee percent: %w", err)
	}
	if r.CommissionBps, err = percentToBps(commission); err != nil {
		return Rates{}, fmt.Errorf("invalid commission percent: %w", err)
	}
	if r.OwnerBps, err = percentToBps(owner); err != nil {
		return Rates{}, fmt.Errorf("invalid owner percent: %w", err)
	}
	companyBps, err := percentToBps(company)
	if err != nil {
		return Rates{}, fmt.Errorf("invalid company percent: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Rates{}, err
	}
	if companyBps != r.CompanyBps() {
		return Rates{}, fmt.Errorf("company percent %s does not match remainder %d bps", company, r.CompanyBps())
	}
	return r, nil
}

func percentToBps(raw string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	bps := d.Mul(hundred)
	if !bps.Equal(bps.Truncate(0)) {
		return 0, fmt.Errorf("%s has more precision than a basis point", raw)
	}
	return bps.IntPart(), nil
}

// Calculator derives the revenue split of a payment
type Calculator struct {
	rates Rates
}

// NewCalculator creates a calculator. Invalid rates are rejected.
func NewCalculator(rates Rates) (*Calculator, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{rates: rates}, nil
}

// Rates returns the configured split
func (c *Calculator) Rates() Rates {
	return c.rates
}

// Compute splits ev.GrossAmount. The provider fee is an estimate from the
// configured percentage, not the provider's reported fee. The company share
// absorbs rounding so the three shares always sum to net revenue.
func (c *Calculator) Compute(ev PaymentEvent) (*Commission, error) {
	if ev.GrossAmount <= 0 {
		return nil, apperrors.Newf(apperrors.InvalidArgument, "gross amount must be positive, got %d", ev.GrossAmount)
	}
	if ev.GrossAmount > maxGross {
		return nil, apperrors.Newf(apperrors.InvalidArgument, "gross amount %d too large", ev.GrossAmount)
	}
	if ev.EventID == "" {
		return nil, apperrors.New(apperrors.InvalidArgument, "payment event has no id")
	}

	fees := applyBps(ev.GrossAmount, c.rates.FeeBps)
	net := ev.GrossAmount - fees
	commission := applyBps(net, c.rates.CommissionBps)
	owner := applyBps(net, c.rates.OwnerBps)
	if commission+owner > net {
		// only reachable when the remainder share is zero
		owner = net - commission
	}

	return &Commission{
		ID:               ev.EventID,
		ResellerID:       ev.ResellerID,
		OrganizationID:   ev.OrganizationID,
		SubscriptionID:   ev.SubscriptionID,
		SourceEventID:    ev.EventID,
		PeriodStart:      ev.PeriodStart,
		PeriodEnd:        ev.PeriodEnd,
		GrossAmount:      ev.GrossAmount,
		ProviderFees:     fees,
		NetRevenue:       net,
		CommissionAmount: commission,
		OwnerAmount:      owner,
		CompanyAmount:    net - commission - owner,
		Status:           CommissionStatusCalculated,
		CreatedAt:        ev.OccurredAt,
	}, nil
}

// applyBps returns round-half-up(amount * bps / 10000) for amount >= 0
func applyBps(amount, bps int64) int64 {
	return (amount*bps + bpsScale/2) / bpsScale
}
