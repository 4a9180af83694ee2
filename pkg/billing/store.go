package billing

import (
	"context"
	"time"
)

// Store opens transactions over the billing tables
type Store interface {
	// WithTx runs fn in one transaction. fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// MaturedCommissions returns calculated commissions created at or before
	// cutoff, oldest first
	MaturedCommissions(ctx context.Context, cutoff time.Time) ([]*Commission, error)
}

// Tx is the set of writes a webhook event or payout group performs
type Tx interface {
	// MarkEventProcessed records a provider event id. It returns false when
	// the id was already recorded.
	MarkEventProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error)

	// ActivateOrganization marks orgID active and stamps the provider ids
	ActivateOrganization(ctx context.Context, orgID, customerID, subscriptionID, planTier string, at time.Time) error

	// UpsertSubscription writes sub keyed by its id
	UpsertSubscription(ctx context.Context, sub *Subscription) error

	// ActivateFirstBusinessOwner activates the first business-owner in orgID's
	// partition and returns its uid, or "" when there is none
	ActivateFirstBusinessOwner(ctx context.Context, orgID string, at time.Time) (string, error)

	// AddResellerClient appends orgID to the reseller's client list and bumps
	// its acquired counter, once per client. It returns false when orgID was
	// already listed and ErrNotFound when the reseller does not exist.
	AddResellerClient(ctx context.Context, resellerID, orgID string, at time.Time) (bool, error)

	// ResellerExists reports whether the reseller record exists
	ResellerExists(ctx context.Context, resellerID string) (bool, error)

	// InsertCommission stores c unless a commission with its id exists
	InsertCommission(ctx context.Context, c *Commission) (bool, error)

	// AddResellerTotals increments the reseller's running totals
	AddResellerTotals(ctx context.Context, resellerID string, revenue, commission int64, at time.Time) error

	// UpdateSubscriptionStatus mirrors status and period onto the subscription
	// and the organization
	UpdateSubscriptionStatus(ctx context.Context, orgID string, status SubscriptionStatus, periodStart, periodEnd *time.Time, at time.Time) error

	// CancelSubscription cancels the subscription and deactivates orgID
	CancelSubscription(ctx context.Context, orgID string, at time.Time) error

	// LockCalculated locks and returns the commissions among ids that are
	// still calculated
	LockCalculated(ctx context.Context, ids []string) ([]*Commission, error)

	// UpsertReport creates the report or adds report's totals and ids to the
	// existing one, then recomputes its distinct client count. Only a pending
	// report is extended; any other status returns ErrReportSettled.
	UpsertReport(ctx context.Context, report *CommissionReport) (*CommissionReport, error)

	// MarkPending moves calculated commissions among ids to pending
	MarkPending(ctx context.Context, ids []string, at time.Time) (int, error)
}
