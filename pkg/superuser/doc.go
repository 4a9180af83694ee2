// Package superuser manages the lifecycle of elevated (super-user) accounts.
//
// Grant and Revoke change the trust boundary: both are audited at critical
// severity and logged at WARN. The number of active super-users never exceeds
// the configured ceiling; PostgresStore enforces it with a transaction-scoped
// advisory lock around the count and the update. A super-user can never
// revoke their own role.
//
// UpdateEmail and UpdatePassword are self-service: the caller may act on
// their own account without the elevated role.
package superuser
