package claims

import (
	"context"
	"errors"
	"fmt"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
)

// DefaultScanLimit bounds the organization scan for unindexed users
const DefaultScanLimit = 50

// Resolver locates a user's profile given only a uid. It never writes.
//
// Lookup order:
//  1. root partition. System roles resolve here directly; a root record that
//     names an organization is looked up in that partition and falls back to
//     itself when the partition has no copy.
//  2. the uid to organization index.
//  3. a scan of the first scanLimit active organizations.
//  4. a root record without an organization.
type Resolver struct {
	dir       Directory
	scanLimit int
	logger    *observability.Logger
}

// NewResolver creates a resolver over dir. A scanLimit of 0 disables the scan.
func NewResolver(dir Directory, scanLimit int, logger *observability.Logger) *Resolver {
	if scanLimit < 0 {
		scanLimit = DefaultScanLimit
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Resolver{dir: dir, scanLimit: scanLimit, logger: logger}
}

// Resolve returns the user record and the organization it belongs to. The
// error is a NotFound apperror wrapping ErrNotFound when no partition holds uid.
func (r *Resolver) Resolve(ctx context.Context, uid string) (*auth.User, string, error) {
	if uid == "" {
		return nil, "", apperrors.New(apperrors.InvalidArgument, "uid is required")
	}

	root, err := r.dir.RootUser(ctx, uid)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, "", apperrors.Wrap(apperrors.Internal, err, "failed to read root user")
	}

	if root != nil {
		if root.Role.IsSystem() {
			return root, root.OrganizationID, nil
		}
		if root.OrganizationID != "" {
			user, err := r.lookupPartition(ctx, root.OrganizationID, uid)
			if err != nil {
				return nil, "", err
			}
			if user != nil {
				return user, root.OrganizationID, nil
			}
			r.logger.WithField("uid", uid).WithField("organization_id", root.OrganizationID).
				Debug("Partition record missing, using root record")
			return root, root.OrganizationID, nil
		}
	}

	orgID, err := r.dir.IndexedOrganization(ctx, uid)
	switch {
	case err == nil:
		user, err := r.lookupPartition(ctx, orgID, uid)
		if err != nil {
			return nil, "", err
		}
		if user != nil {
			return user, orgID, nil
		}
		r.logger.WithField("uid", uid).Warn("Stale organization index entry")
	case !errors.Is(err, ErrNotFound):
		return nil, "", apperrors.Wrap(apperrors.Internal, err, "failed to read organization index")
	}

	if r.scanLimit > 0 {
		orgs, err := r.dir.ActiveOrganizations(ctx, r.scanLimit)
		if err != nil {
			return nil, "", apperrors.Wrap(apperrors.Internal, err, "failed to list organizations")
		}
		for _, orgID := range orgs {
			user, err := r.lookupPartition(ctx, orgID, uid)
			if err != nil {
				return nil, "", err
			}
			if user != nil {
				r.logger.WithField("uid", uid).WithField("organization_id", orgID).
					Info("Resolved unindexed user by organization scan")
				return user, orgID, nil
			}
		}
	}

	if root != nil {
		return root, "", nil
	}

	return nil, "", apperrors.Wrap(apperrors.NotFound, ErrNotFound, fmt.Sprintf("user %s not found", uid))
}

// Members returns every user in orgID's partition
func (r *Resolver) Members(ctx context.Context, orgID string) ([]*auth.User, error) {
	if orgID == "" {
		return nil, apperrors.New(apperrors.InvalidArgument, "organization id is required")
	}
	users, err := r.dir.OrganizationUsers(ctx, orgID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, err, "failed to list organization users")
	}
	for _, u := range users {
		u.OrganizationID = orgID
	}
	return users, nil
}

func (r *Resolver) lookupPartition(ctx context.Context, orgID, uid string) (*auth.User, error) {
	user, err := r.dir.OrganizationUser(ctx, orgID, uid)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, err, "failed to read organization user")
	}
	user.OrganizationID = orgID
	return user, nil
}
