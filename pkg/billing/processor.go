package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/audit"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/webhooks"
)

// Webhook outcomes as counted in webhook_events_total
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

// ProcessorConfig holds the webhook endpoint settings
type ProcessorConfig struct {
	// Secret is the endpoint signing secret
	Secret string
	// Tolerance bounds signature timestamp skew; zero uses the default
	Tolerance time.Duration
	// Idempotency is an optional fast path in front of processed_events
	Idempotency Idempotency
}

// Outcome describes what happened to an accepted event. Err is set when
// applying the event failed; the event is still acknowledged.
type Outcome struct {
	EventID        string
	Type           string
	Kind           EventKind
	OrganizationID string

	Ignored   bool
	Duplicate bool

	// ActivatedUID is the business-owner activated by a checkout
	ActivatedUID string
	// Commission is the record created by a payment
	Commission *Commission

	Err error
}

// WebhookProcessor applies payment provider events to organization,
// subscription, reseller and commission state
type WebhookProcessor struct {
	store     Store
	calc      *Calculator
	secret    string
	tolerance time.Duration
	idem      Idempotency
	instruments
}

// NewWebhookProcessor creates a processor
func NewWebhookProcessor(store Store, calc *Calculator, cfg ProcessorConfig, opts ...Option) *WebhookProcessor {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = webhooks.DefaultTolerance
	}
	return &WebhookProcessor{
		store:       store,
		calc:        calc,
		secret:      cfg.Secret,
		tolerance:   cfg.Tolerance,
		idem:        cfg.Idempotency,
		instruments: newInstruments(opts),
	}
}

// Process verifies and applies one webhook delivery. The returned error is
// non-nil only for requests the provider should not retry unchanged: a bad
// signature or an undecodable payload, both InvalidArgument. Failures while
// applying a valid event are reported in Outcome.Err.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, signatureHeader string) (*Outcome, error) {
	start := p.now()
	ctx, span := observability.Tracer().Start(ctx, "billing.ProcessWebhook")
	defer span.End()

	if err := webhooks.Verify(payload, signatureHeader, p.secret, p.tolerance, start); err != nil {
		span.SetStatus(codes.Error, "invalid signature")
		p.metrics.ObserveWebhook("unknown", outcomeRejected, p.now().Sub(start))
		p.logger.WithError(err).Warn("Rejected webhook with invalid signature")
		return nil, apperrors.Wrap(apperrors.InvalidArgument, fmt.Errorf("%w: %v", ErrInvalidSignature, err), "invalid webhook signature")
	}

	ev, err := decodeEvent(payload, start)
	if err != nil {
		span.SetStatus(codes.Error, "malformed event")
		p.metrics.ObserveWebhook("unknown", outcomeRejected, p.now().Sub(start))
		p.logger.WithError(err).Warn("Rejected malformed webhook event")
		return nil, apperrors.Wrap(apperrors.InvalidArgument, err, "malformed webhook event")
	}

	outcome := &Outcome{
		EventID:        ev.ID,
		Type:           ev.Type,
		Kind:           ev.Kind,
		OrganizationID: ev.organizationID(),
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.event_type", ev.Type),
	)
	log := p.logger.WithFields(map[string]interface{}{
		"event_id":        ev.ID,
		"event_type":      ev.Type,
		"organization_id": outcome.OrganizationID,
	})

	if !ev.Known {
		outcome.Ignored = true
		p.metrics.ObserveWebhook(ev.Type, outcomeIgnored, p.now().Sub(start))
		log.Debug("Ignoring unhandled webhook event type")
		return outcome, nil
	}

	if p.idem != nil {
		seen, err := p.idem.Seen(ctx, ev.ID)
		if err != nil {
			log.WithError(err).Warn("Idempotency cache lookup failed")
		} else if seen {
			outcome.Duplicate = true
			p.metrics.ObserveWebhook(ev.Type, outcomeDuplicate, p.now().Sub(start))
			log.Info("Skipping already processed webhook event")
			return outcome, nil
		}
	}

	err = p.store.WithTx(ctx, func(tx Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, ev.ID, ev.Type, start)
		if err != nil {
			return err
		}
		if !fresh {
			outcome.Duplicate = true
			return nil
		}
		return p.apply(ctx, tx, ev, outcome, log)
	})
	if err != nil {
		outcome.Err = err
		outcome.ActivatedUID = ""
		outcome.Commission = nil

		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		p.metrics.ObserveWebhook(ev.Type, outcomeFailed, p.now().Sub(start))
		log.WithError(err).Error("Failed to process webhook event")
		p.recordEvent(ctx, ev, outcome)
		return outcome, nil
	}

	if p.idem != nil {
		if err := p.idem.Remember(ctx, ev.ID); err != nil {
			log.WithError(err).Warn("Failed to remember processed event")
		}
	}

	if outcome.Duplicate {
		p.metrics.ObserveWebhook(ev.Type, outcomeDuplicate, p.now().Sub(start))
		log.Info("Skipping already processed webhook event")
		return outcome, nil
	}

	if c := outcome.Commission; c != nil {
		p.metrics.ObserveCommission(c.GrossAmount, c.ProviderFees, c.CommissionAmount, c.OwnerAmount, c.CompanyAmount)
	}
	p.metrics.ObserveWebhook(ev.Type, outcomeProcessed, p.now().Sub(start))
	log.Info("Processed webhook event")
	p.recordEvent(ctx, ev, outcome)
	return outcome, nil
}

func (p *WebhookProcessor) recordEvent(ctx context.Context, ev *decodedEvent, outcome *Outcome) {
	entry := audit.NewEntry(audit.OpWebhookEvent).
		WithActor("system", "", "").
		WithDetail("event_id", ev.ID).
		WithDetail("event_type", ev.Type).
		WithDetail("kind", string(ev.Kind))
	if outcome.OrganizationID != "" {
		entry.WithDetail("organization_id", outcome.OrganizationID)
	}
	if outcome.ActivatedUID != "" {
		entry.WithDetail("activated_uid", outcome.ActivatedUID)
	}
	if c := outcome.Commission; c != nil {
		entry.WithDetail("commission_id", c.ID).
			WithDetail("reseller_id", c.ResellerID).
			WithDetail("gross_amount", c.GrossAmount)
	}
	if outcome.Err != nil {
		entry.WithSeverity(audit.SeverityWarning)
	}
	p.record(ctx, entry, outcome.Err)
}

func (p *WebhookProcessor) apply(ctx context.Context, tx Tx, ev *decodedEvent, outcome *Outcome, log *observability.Logger) error {
	if outcome.OrganizationID == "" {
		return ErrMissingOrganization
	}
	switch ev.Kind {
	case EventCheckoutCompleted:
		return p.checkoutCompleted(ctx, tx, ev, outcome, log)
	case EventPaymentSucceeded:
		return p.paymentSucceeded(ctx, tx, ev, outcome, log)
	case EventSubscriptionUpdated:
		sub := ev.subscription
		status := normalizeStatus(sub.Status)
		if err := tx.UpdateSubscriptionStatus(ctx, outcome.OrganizationID, status,
			unixTime(sub.CurrentPeriodStart), unixTime(sub.CurrentPeriodEnd), ev.OccurredAt); err != nil {
			return fmt.Errorf("failed to mirror subscription status: %w", err)
		}
		return nil
	case EventSubscriptionCanceled:
		if err := tx.CancelSubscription(ctx, outcome.OrganizationID, ev.OccurredAt); err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}
		return nil
	}
	return nil
}

func (p *WebhookProcessor) checkoutCompleted(ctx context.Context, tx Tx, ev *decodedEvent, outcome *Outcome, log *observability.Logger) error {
	session := ev.checkout
	orgID := outcome.OrganizationID
	at := ev.OccurredAt

	if err := tx.ActivateOrganization(ctx, orgID, session.Customer, session.Subscription, session.Metadata.PlanTier, at); err != nil {
		return fmt.Errorf("failed to activate organization: %w", err)
	}

	sub := &Subscription{
		ID:                   SubscriptionID(orgID),
		OrganizationID:       orgID,
		StripeSubscriptionID: session.Subscription,
		PlanTier:             session.Metadata.PlanTier,
		Status:               SubscriptionStatusActive,
		CreatedAt:            at,
		UpdatedAt:            at,
	}
	if err := tx.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	uid, err := tx.ActivateFirstBusinessOwner(ctx, orgID, at)
	if err != nil {
		return fmt.Errorf("failed to activate business owner: %w", err)
	}
	if uid == "" {
		log.Warn("No business-owner to activate for organization")
	}
	outcome.ActivatedUID = uid

	resellerID := session.Metadata.ResellerID
	if resellerID == "" {
		return nil
	}
	added, err := tx.AddResellerClient(ctx, resellerID, orgID, at)
	switch {
	case errors.Is(err, ErrNotFound):
		log.WithField("reseller_id", resellerID).Warn("Checkout names an unknown reseller")
	case err != nil:
		return fmt.Errorf("failed to add reseller client: %w", err)
	case !added:
		log.WithField("reseller_id", resellerID).Debug("Organization already listed for reseller")
	}
	return nil
}

func (p *WebhookProcessor) paymentSucceeded(ctx context.Context, tx Tx, ev *decodedEvent, outcome *Outcome, log *observability.Logger) error {
	inv := ev.invoice
	resellerID := inv.metadata().ResellerID
	log = log.WithField("reseller_id", resellerID)

	if resellerID == "" {
		log.Info("Payment has no reseller; no commission recorded")
		return nil
	}
	if inv.AmountPaid <= 0 {
		log.Info("Zero-amount payment; no commission recorded")
		return nil
	}
	exists, err := tx.ResellerExists(ctx, resellerID)
	if err != nil {
		return fmt.Errorf("failed to look up reseller: %w", err)
	}
	if !exists {
		log.Warn("Payment names an unknown reseller; no commission recorded")
		return nil
	}

	commission, err := p.calc.Compute(PaymentEvent{
		EventID:        ev.ID,
		OrganizationID: outcome.OrganizationID,
		ResellerID:     resellerID,
		SubscriptionID: SubscriptionID(outcome.OrganizationID),
		GrossAmount:    inv.AmountPaid,
		PeriodStart:    timeOrZero(unixTime(inv.PeriodStart)),
		PeriodEnd:      timeOrZero(unixTime(inv.PeriodEnd)),
		OccurredAt:     ev.OccurredAt,
	})
	if err != nil {
		return err
	}

	inserted, err := tx.InsertCommission(ctx, commission)
	if err != nil {
		return fmt.Errorf("failed to insert commission: %w", err)
	}
	if !inserted {
		log.WithField("commission_id", commission.ID).Info("Commission already recorded for event")
		return nil
	}
	if err := tx.AddResellerTotals(ctx, resellerID, commission.GrossAmount, commission.CommissionAmount, ev.OccurredAt); err != nil {
		return fmt.Errorf("failed to update reseller totals: %w", err)
	}
	outcome.Commission = commission
	return nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
