package claims

import (
	"context"
	"errors"
	"time"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
)

// ErrNotFound is returned by Directory and ClaimsStore lookups that match
// nothing
var ErrNotFound = errors.New("not found")

// Directory reads user profiles from the root partition and the
// per-organization partitions. Implementations normalize stored roles.
type Directory interface {
	// RootUser returns the root-partition record for uid
	RootUser(ctx context.Context, uid string) (*auth.User, error)

	// OrganizationUser returns uid's record inside orgID's partition
	OrganizationUser(ctx context.Context, orgID, uid string) (*auth.User, error)

	// IndexedOrganization returns the organization the uid index points at
	IndexedOrganization(ctx context.Context, uid string) (string, error)

	// ActiveOrganizations returns up to limit active organization ids in a
	// stable order
	ActiveOrganizations(ctx context.Context, limit int) ([]string, error)

	// OrganizationUsers returns every user in orgID's partition
	OrganizationUsers(ctx context.Context, orgID string) ([]*auth.User, error)
}

// Record is a user's published claims
type Record struct {
	UID    string      `json:"uid"`
	Email  string      `json:"email,omitempty"`
	Claims auth.Claims `json:"claims"`
}

// ValidAfter returns the revocation marker; tokens issued earlier are stale
func (r *Record) ValidAfter() time.Time {
	return r.Claims.ValidAfter
}

// ClaimsStore persists published claims. Put is last-write-wins except for
// ValidAfter, which never moves backwards; Put copies the stored marker back
// into record.
type ClaimsStore interface {
	GetClaims(ctx context.Context, uid string) (*Record, error)
	PutClaims(ctx context.Context, record *Record) error
	DeleteClaims(ctx context.Context, uid string) error
}
