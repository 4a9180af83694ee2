package superuser

import (
	"context"
	"errors"
	"time"
)

// DefaultCeiling is the maximum number of active super-user accounts
const DefaultCeiling = 3

// MinPasswordLength is counted in characters, not bytes
const MinPasswordLength = 12

// Management actions accepted by Manage
const (
	ActionUpdateEmail    = "UPDATE_EMAIL"
	ActionUpdatePassword = "UPDATE_PASSWORD"
	ActionGrant          = "GRANT_SUPER_USER"
	ActionRevoke         = "REVOKE_SUPER_USER"
)

var (
	// ErrNotFound is returned when the target account does not exist
	ErrNotFound = errors.New("account not found")
	// ErrCeilingReached is returned by Grant when the ceiling is already met
	ErrCeilingReached = errors.New("super-user ceiling reached")
	// ErrAlreadyElevated is returned by Grant for an active super-user
	ErrAlreadyElevated = errors.New("account is already a super-user")
	// ErrNotElevated is returned by Revoke for an account without the role
	ErrNotElevated = errors.New("account is not a super-user")
)

// Account is an elevated account as listed by Info
type Account struct {
	UID            string    `json:"uid"`
	Email          string    `json:"email"`
	OrganizationID string    `json:"organizationId,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// RevokeOutcome says what Revoke did to the account
type RevokeOutcome string

const (
	RevokeDemoted     RevokeOutcome = "demoted"
	RevokeDeactivated RevokeOutcome = "deactivated"
)

// Store persists identity records and elevated-role changes. Grant and
// Revoke must be atomic with respect to each other.
type Store interface {
	// UpdateIdentityEmail sets the login email and marks it unverified
	UpdateIdentityEmail(ctx context.Context, uid, email string) error
	// UpdateProfileEmail sets the email on every profile record of uid
	UpdateProfileEmail(ctx context.Context, uid, email string) error
	// UpdatePasswordHash stores a new credential hash
	UpdatePasswordHash(ctx context.Context, uid, hash string) error

	// Grant elevates uid unless ceiling active super-users already exist and
	// returns the new count
	Grant(ctx context.Context, uid string, ceiling int) (int, error)
	// Revoke removes the role: accounts with an organization become its
	// business-owner, others are deactivated
	Revoke(ctx context.Context, uid string) (RevokeOutcome, error)
	// ListElevated returns the active super-users
	ListElevated(ctx context.Context) ([]Account, error)
}

// Result is the response of a management action
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Action    string `json:"action"`
	TargetUID string `json:"targetUid"`
	// ElevatedCount is set by grant and revoke; revoke omits it when the
	// count cannot be read
	ElevatedCount *int `json:"elevatedCount,omitempty"`
}

// SecurityInfo reports ceiling usage
type SecurityInfo struct {
	MaxAllowed   int `json:"maxAllowed"`
	CurrentCount int `json:"currentCount"`
	Available    int `json:"available"`
}

// Info is the response of Info
type Info struct {
	TotalSuperUsers int          `json:"totalSuperUsers"`
	SuperUsers      []Account    `json:"superUsers"`
	SecurityInfo    SecurityInfo `json:"securityInfo"`
}
