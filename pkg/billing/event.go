package billing

import (
	"encoding/json"
	"fmt"
	"time"
)

// providerEvent is the envelope the payment provider posts
type providerEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// eventMetadata is the metadata the checkout flow attaches to sessions and
// subscriptions
type eventMetadata struct {
	OrganizationID string `json:"organizationId"`
	ResellerID     string `json:"resellerId"`
	PlanTier       string `json:"planTier"`
}

type checkoutSession struct {
	ID           string        `json:"id"`
	Customer     string        `json:"customer"`
	Subscription string        `json:"subscription"`
	Metadata     eventMetadata `json:"metadata"`
}

type invoice struct {
	ID                  string        `json:"id"`
	Customer            string        `json:"customer"`
	Subscription        string        `json:"subscription"`
	AmountPaid          int64         `json:"amount_paid"`
	PeriodStart         int64         `json:"period_start"`
	PeriodEnd           int64         `json:"period_end"`
	Metadata            eventMetadata `json:"metadata"`
	SubscriptionDetails struct {
		Metadata eventMetadata `json:"metadata"`
	} `json:"subscription_details"`
}

// metadata prefers the subscription's metadata, which the provider copies
// onto renewal invoices
func (i *invoice) metadata() eventMetadata {
	if i.SubscriptionDetails.Metadata.OrganizationID != "" {
		return i.SubscriptionDetails.Metadata
	}
	return i.Metadata
}

type subscriptionObject struct {
	ID                 string        `json:"id"`
	Status             string        `json:"status"`
	CurrentPeriodStart int64         `json:"current_period_start"`
	CurrentPeriodEnd   int64         `json:"current_period_end"`
	Metadata           eventMetadata `json:"metadata"`
}

// decodedEvent is a verified event with its object decoded for its kind
type decodedEvent struct {
	ID         string
	Type       string
	Kind       EventKind
	Known      bool
	OccurredAt time.Time

	checkout     *checkoutSession
	invoice      *invoice
	subscription *subscriptionObject
}

func (e *decodedEvent) organizationID() string {
	switch {
	case e.checkout != nil:
		return e.checkout.Metadata.OrganizationID
	case e.invoice != nil:
		return e.invoice.metadata().OrganizationID
	case e.subscription != nil:
		return e.subscription.Metadata.OrganizationID
	}
	return ""
}

// decodeEvent parses payload. Any decoding failure wraps ErrMalformedEvent.
func decodeEvent(payload []byte, now time.Time) (*decodedEvent, error) {
	var env providerEvent
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: id and type are required", ErrMalformedEvent)
	}

	ev := &decodedEvent{ID: env.ID, Type: env.Type, OccurredAt: now.UTC()}
	if env.Created > 0 {
		ev.OccurredAt = time.Unix(env.Created, 0).UTC()
	}

	ev.Kind, ev.Known = KindOf(env.Type)
	if !ev.Known {
		return ev, nil
	}
	if len(env.Data.Object) == 0 {
		return nil, fmt.Errorf("%w: missing data.object", ErrMalformedEvent)
	}

	var target interface{}
	switch ev.Kind {
	case EventCheckoutCompleted:
		ev.checkout = &checkoutSession{}
		target = ev.checkout
	case EventPaymentSucceeded:
		ev.invoice = &invoice{}
		target = ev.invoice
	case EventSubscriptionUpdated, EventSubscriptionCanceled:
		ev.subscription = &subscriptionObject{}
		target = ev.subscription
	}
	if err := json.Unmarshal(env.Data.Object, target); err != nil {
		return nil, fmt.Errorf("%w: %s object: %v", ErrMalformedEvent, env.Type, err)
	}
	return ev, nil
}

// normalizeStatus folds provider statuses outside the four tracked ones into
// the closest tracked state
func normalizeStatus(raw string) SubscriptionStatus {
	switch SubscriptionStatus(raw) {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue, SubscriptionStatusCanceled:
		return SubscriptionStatus(raw)
	}
	switch raw {
	case "incomplete_expired":
		return SubscriptionStatusCanceled
	default:
		// incomplete, unpaid, paused
		return SubscriptionStatusPastDue
	}
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
