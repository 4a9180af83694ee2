// Package claims resolves user profiles and publishes their access-token
// claims.
//
// A profile lives either in the root partition or in one organization's
// partition. The Resolver finds it in a fixed order: the root record, the
// partition the root record points at, the uid index, and finally a bounded
// scan of active organizations. The Issuer turns the resolved profile into
// auth.Claims, writes them through a ClaimsStore and primes the session Cache.
//
// # Revocation
//
// Every published claim set carries a ValidAfter marker that never moves
// backwards. RevokeSessions moves it to now and drops the cached context, so
// tokens issued earlier fail validation. Inactive super-user accounts hold no
// published claims at all.
//
// # Storage
//
// PostgresDirectory and PostgresClaimsStore back production deployments;
// MemoryDirectory and MemoryClaimsStore serve tests and local runs.
package claims
