package billing

import (
	"errors"
	"strconv"
	"time"
)

// SubscriptionStatus mirrors the payment provider's subscription status
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
)

// Active reports whether an organization with this status may use the product
func (s SubscriptionStatus) Active() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// CommissionStatus is the settlement state of a commission. Records move
// calculated -> pending -> paid and never back.
type CommissionStatus string

const (
	CommissionStatusCalculated CommissionStatus = "calculated"
	CommissionStatusPending    CommissionStatus = "pending"
	CommissionStatusPaid       CommissionStatus = "paid"
)

// PayoutStatus is the settlement state of a commission report
type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusPaid    PayoutStatus = "paid"
)

// EventKind is the provider-independent name of a webhook event
type EventKind string

const (
	EventCheckoutCompleted    EventKind = "checkout_completed"
	EventPaymentSucceeded     EventKind = "payment_succeeded"
	EventSubscriptionUpdated  EventKind = "subscription_updated"
	EventSubscriptionCanceled EventKind = "subscription_canceled"
)

var providerEventKinds = map[string]EventKind{
	"checkout.session.completed":    EventCheckoutCompleted,
	"invoice.payment_succeeded":     EventPaymentSucceeded,
	"customer.subscription.updated": EventSubscriptionUpdated,
	"customer.subscription.deleted": EventSubscriptionCanceled,
}

// KindOf maps a provider event type to its kind. ok is false for types the
// processor ignores.
func KindOf(providerType string) (EventKind, bool) {
	kind, ok := providerEventKinds[providerType]
	return kind, ok
}

var (
	// ErrInvalidSignature is returned when a webhook signature does not verify
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is returned when a webhook payload cannot be decoded
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrMissingOrganization is returned when event metadata names no organization
	ErrMissingOrganization = errors.New("event metadata has no organizationId")
	// ErrNotFound is returned by store lookups that match nothing
	ErrNotFound = errors.New("not found")
	// ErrReportSettled is returned when extending a report that is no longer pending
	ErrReportSettled = errors.New("commission report already settled")
)

// Organization is a tenant's billing state
type Organization struct {
	ID                   string             `json:"id"`
	SubscriptionStatus   SubscriptionStatus `json:"subscriptionStatus"`
	IsActive             bool               `json:"isActive"`
	StripeCustomerID     string             `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string             `json:"stripeSubscriptionId,omitempty"`
	PlanTier             string             `json:"planTier,omitempty"`
	CurrentPeriodStart   *time.Time         `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"currentPeriodEnd,omitempty"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// Subscription is the single subscription record of an organization. Its id
// is always SubscriptionID(organizationID).
type Subscription struct {
	ID                   string             `json:"id"`
	OrganizationID       string             `json:"organizationId"`
	StripeSubscriptionID string             `json:"stripeSubscriptionId,omitempty"`
	PlanTier             string             `json:"planTier,omitempty"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   *time.Time         `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"currentPeriodEnd,omitempty"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// SubscriptionID returns the subscription record id for an organization
func SubscriptionID(organizationID string) string {
	return "sub_" + organizationID
}

// Reseller holds a reseller's client list and running totals
type Reseller struct {
	ID                      string    `json:"id"`
	ClientIDs               []string  `json:"clientIds"`
	ClientsAcquired         int       `json:"clientsAcquired"`
	MonthlyRecurringRevenue int64     `json:"monthlyRecurringRevenue"`
	TotalCommissions        int64     `json:"totalCommissions"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// PaymentEvent is a successful payment as the calculator sees it. Amounts are
// integer minor currency units.
type PaymentEvent struct {
	EventID        string
	OrganizationID string
	ResellerID     string
	SubscriptionID string
	GrossAmount    int64
	PeriodStart    time.Time
	PeriodEnd      time.Time
	OccurredAt     time.Time
}

// Commission is the revenue split of one payment. CommissionAmount,
// OwnerAmount and CompanyAmount always sum to NetRevenue.
type Commission struct {
	ID               string           `json:"id"`
	ResellerID       string           `json:"resellerId"`
	OrganizationID   string           `json:"organizationId"`
	SubscriptionID   string           `json:"subscriptionId,omitempty"`
	SourceEventID    string           `json:"sourceEventId"`
	PeriodStart      time.Time        `json:"periodStart"`
	PeriodEnd        time.Time        `json:"periodEnd"`
	GrossAmount      int64            `json:"grossAmount"`
	ProviderFees     int64            `json:"providerFees"`
	NetRevenue       int64            `json:"netRevenue"`
	CommissionAmount int64            `json:"commissionAmount"`
	OwnerAmount      int64            `json:"ownerAmount"`
	CompanyAmount    int64            `json:"companyAmount"`
	Status           CommissionStatus `json:"status"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// Month returns the UTC billing month of the commission as yyyy-mm
func (c *Commission) Month() string {
	return c.CreatedAt.UTC().Format("2006-01")
}

// CommissionReport aggregates a reseller's matured commissions for a month
type CommissionReport struct {
	ID              string       `json:"id"`
	ResellerID      string       `json:"resellerId"`
	Month           string       `json:"month"`
	TotalClients    int          `json:"totalClients"`
	TotalRevenue    int64        `json:"totalRevenue"`
	TotalCommission int64        `json:"totalCommission"`
	CommissionIDs   []string     `json:"commissionIds"`
	PayoutStatus    PayoutStatus `json:"payoutStatus"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// ReportID returns the report id for a reseller and yyyy-mm month
func ReportID(resellerID, month string) string {
	return resellerID + "-" + month
}

// FollowUpReportID returns the id of the seq-th report for a reseller and
// month. Commissions that mature after the month's report was settled go to
// a follow-up report; the first keeps the plain ReportID.
func FollowUpReportID(resellerID, month string, seq int) string {
	if seq <= 1 {
		return ReportID(resellerID, month)
	}
	return ReportID(resellerID, month) + "-" + strconv.Itoa(seq)
}
