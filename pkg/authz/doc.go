// Package authz is the permission gate for privileged operations.
//
// A Validator resolves the caller's ClaimsContext from the session cache or,
// when the cached copy is too old, from the published claims, then applies
// the checks in Options: elevated role (or the bootstrap allow-list), tenant
// scope and required permissions. Validate writes one audit entry per
// decision; Authorize performs the same checks silently for callers that
// audit the whole operation themselves.
//
// Require composes the gate in front of an http.Handler:
//
//	router.Handle("/v1/superusers/info",
//		validator.Require(authz.Options{Operation: "getSuperUserInfo", RequireElevatedRole: true})(handler))
package authz
