// Package api exposes the claims, super-user and billing operations over
// HTTP.
//
// Routes live under /v1. Every route except the billing webhook requires a
// bearer identity token; the webhook authenticates through its
// Stripe-Signature header instead.
//
//	POST /v1/claims/issue                            issue claims for self or targetUid
//	GET  /v1/claims                                  read the caller's published claims
//	POST /v1/organizations/{orgId}/claims/issue      issue claims for a whole tenant
//	POST /v1/superusers/manage                       update email/password, grant, revoke
//	GET  /v1/superusers/info                         list super-users and ceiling usage
//	POST /v1/billing/webhook                         payment provider events
//
// Errors are written as {"code","message"} with the status mapped from the
// apperrors code.
package api
