// Package webhooks signs and verifies payment provider webhook payloads.
//
// The provider sends a header of the form
//
//	Stripe-Signature: t=1700000000,v1=5257a869e7ecebeda32affa62cdca3fa51cad7e77a0e56ff536d0ce8e108d8bd
//
// where v1 is the hex HMAC-SHA256 of "<t>.<payload>" under the endpoint
// secret. Several v1 entries may be present while a secret is being rolled;
// any one matching is enough. The timestamp must fall within the configured
// tolerance of the local clock to limit replay.
package webhooks
