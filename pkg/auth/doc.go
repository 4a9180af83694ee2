// Package auth defines identities, roles and access-token claims.
//
// # Overview
//
// A caller is authenticated by a TokenVerifier, which turns a bearer token into
// an Identity. What the caller may do is described by Claims, the claim set
// published for the user, and by ClaimsContext, the cached validated view of
// those claims used by the authorization layer.
//
// Roles form a closed set. Stored profiles may encode a role either as a bare
// string or as an object carrying an id; NormalizeRole accepts both and always
// yields a Role, so nothing downstream branches on the stored shape.
//
//	role, err := auth.NormalizeRole(json.RawMessage(`{"id":"business-owner"}`))
//	// role == auth.RoleBusinessOwner
//
// # Verifiers
//
// HMACVerifier validates HS256 tokens signed with a shared secret and is used
// for local runs and tests. OIDCVerifier validates ID tokens from an OpenID
// Connect provider.
package auth
