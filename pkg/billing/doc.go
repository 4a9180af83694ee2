// Package billing turns payment provider webhooks into organization,
// subscription and reseller state, and settles reseller commissions.
//
// # Webhooks
//
// WebhookProcessor verifies the provider signature, decodes the event and
// applies it in one store transaction that first records the event id in
// processed_events, so a redelivered event is a no-op:
//
//	checkout.session.completed      organization active, subscription created,
//	                                first business-owner activated, reseller
//	                                client listed once
//	invoice.payment_succeeded       commission computed and stored under the
//	                                event id, reseller totals incremented
//	customer.subscription.updated   status and period mirrored onto the
//	                                subscription and the organization
//	customer.subscription.deleted   subscription canceled, organization
//	                                deactivated
//
// Bad signatures and undecodable payloads are returned as InvalidArgument.
// Failures while applying a valid event are logged, counted and audited, and
// reported in Outcome.Err; the HTTP layer still acknowledges them so the
// provider does not redeliver a poison event forever.
//
// # Commissions
//
// Calculator works in integer cents and basis points:
//
//	fees       = round(gross * fee)
//	net        = gross - fees
//	commission = round(net * 50%)
//	owner      = round(net * 30%)
//	company    = net - commission - owner
//
// For a gross of 49900 and a 2.9% fee that is 1447 / 48453 / 24227 / 14536 / 9690.
//
// # Payouts
//
// PayoutScheduler collects calculated commissions older than the maturity
// window, groups them by reseller and UTC month, and for each group upserts
// the "<resellerId>-<yyyy-mm>" report and moves the members to pending in
// one transaction. Running it again without new matured commissions changes
// nothing.
package billing
