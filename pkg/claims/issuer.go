package claims

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/audit"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
)

// errDeactivated marks an elevated account that must not hold claims
var errDeactivated = errors.New("account is deactivated")

// IssueResult is the outcome of publishing one user's claims
type IssueResult struct {
	UID            string    `json:"uid"`
	Role           auth.Role `json:"role"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Permissions    []string  `json:"permissions"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// UserResult is one entry of a bulk issuance
type UserResult struct {
	UID     string    `json:"uid"`
	Success bool      `json:"success"`
	Role    auth.Role `json:"role,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// OrganizationResult summarizes a bulk issuance
type OrganizationResult struct {
	OrganizationID string       `json:"organizationId"`
	Results        []UserResult `json:"results"`
	TotalUsers     int          `json:"totalUsers"`
	SuccessCount   int          `json:"successCount"`
}

// Issuer computes and publishes access-token claims
type Issuer struct {
	resolver    *Resolver
	store       ClaimsStore
	cache       *Cache
	audit       audit.Logger
	metrics     *observability.Metrics
	logger      *observability.Logger
	concurrency int
	now         func() time.Time
}

// IssuerOption configures an Issuer
type IssuerOption func(*Issuer)

// WithAuditLogger sets the audit sink
func WithAuditLogger(l audit.Logger) IssuerOption {
	return func(i *Issuer) { i.audit = l }
}

// WithMetrics sets the Prometheus metrics
func WithMetrics(m *observability.Metrics) IssuerOption {
	return func(i *Issuer) { i.metrics = m }
}

// WithLogger sets the application logger
func WithLogger(l *observability.Logger) IssuerOption {
	return func(i *Issuer) { i.logger = l }
}

// WithConcurrency bounds parallel publications in IssueForOrganization
func WithConcurrency(n int) IssuerOption {
	return func(i *Issuer) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an issuer
func NewIssuer(resolver *Resolver, store ClaimsStore, cache *Cache, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		resolver:    resolver,
		store:       store,
		cache:       cache,
		logger:      observability.NopLogger(),
		concurrency: 8,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue publishes claims for targetUID on behalf of requester. An empty
// targetUID means the requester. The requester must be the target, a
// super-user, or the business-owner of the target's organization. A token
// issued before the requester's sessions were revoked is rejected.
func (i *Issuer) Issue(ctx context.Context, targetUID string, requester *auth.Identity) (*IssueResult, error) {
	entry := audit.NewEntry(audit.OpIssueClaims)
	result, err := i.issue(ctx, targetUID, requester, entry)
	i.metrics.ObserveClaimsIssued(err)
	audit.Record(ctx, i.audit, entry.Outcome(err))
	return result, err
}

func (i *Issuer) issue(ctx context.Context, targetUID string, requester *auth.Identity, entry *audit.Entry) (*IssueResult, error) {
	if requester == nil || requester.UID == "" {
		return nil, apperrors.New(apperrors.Unauthenticated, "authentication required")
	}
	if targetUID == "" {
		targetUID = requester.UID
	}
	entry.WithActor(requester.UID, requester.Email, "").WithDetail("target_uid", targetUID)

	var requesterRole auth.Role
	var requesterOrg string
	if targetUID == requester.UID {
		// first issuance has nothing published yet
		if _, _, err := i.requesterScope(ctx, requester); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	} else {
		role, orgID, err := i.requesterScope(ctx, requester)
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.New(apperrors.PermissionDenied, "requester has no published claims")
		}
		if err != nil {
			return nil, err
		}
		entry.ActorRole = string(role)
		if role != auth.RoleSuperUser && role != auth.RoleBusinessOwner {
			return nil, apperrors.New(apperrors.PermissionDenied, "not allowed to issue claims for another user")
		}
		requesterRole, requesterOrg = role, orgID
	}

	user, orgID, err := i.resolver.Resolve(ctx, targetUID)
	if err != nil {
		return nil, err
	}
	entry.WithDetail("organization_id", orgID)

	if requesterRole == auth.RoleBusinessOwner && (requesterOrg == "" || requesterOrg != orgID) {
		return nil, apperrors.New(apperrors.PermissionDenied, "target user belongs to another organization")
	}

	result, err := i.publish(ctx, user, orgID, false)
	if errors.Is(err, errDeactivated) {
		return nil, apperrors.Wrap(apperrors.PermissionDenied, err, "account is deactivated")
	}
	return result, err
}

// Refresh republishes uid's claims from the current profile without a
// requester check. Privileged components call it after they changed a user.
func (i *Issuer) Refresh(ctx context.Context, uid string) (*IssueResult, error) {
	user, orgID, err := i.resolver.Resolve(ctx, uid)
	if err != nil {
		return nil, err
	}
	result, err := i.publish(ctx, user, orgID, false)
	if errors.Is(err, errDeactivated) {
		return &IssueResult{UID: uid}, nil
	}
	return result, err
}

// RevokeSessions republishes uid's claims with ValidAfter moved to now, so
// tokens issued before this call are rejected, and drops the cached context
func (i *Issuer) RevokeSessions(ctx context.Context, uid string) (*IssueResult, error) {
	user, orgID, err := i.resolver.Resolve(ctx, uid)
	if err != nil {
		return nil, err
	}
	result, err := i.publish(ctx, user, orgID, true)
	i.cache.Invalidate(uid)
	if errors.Is(err, errDeactivated) {
		return &IssueResult{UID: uid}, nil
	}
	return result, err
}

// IssueForOrganization publishes claims for every user in orgID. One user
// failing never fails the batch.
func (i *Issuer) IssueForOrganization(ctx context.Context, orgID string, requester *auth.Identity) (*OrganizationResult, error) {
	entry := audit.NewEntry(audit.OpIssueClaimsForOrganization).WithDetail("organization_id", orgID)
	result, err := i.issueForOrganization(ctx, orgID, requester, entry)
	if result != nil {
		entry.WithDetail("total_users", result.TotalUsers).WithDetail("success_count", result.SuccessCount)
	}
	audit.Record(ctx, i.audit, entry.Outcome(err))
	return result, err
}

func (i *Issuer) issueForOrganization(ctx context.Context, orgID string, requester *auth.Identity, entry *audit.Entry) (*OrganizationResult, error) {
	if requester == nil || requester.UID == "" {
		return nil, apperrors.New(apperrors.Unauthenticated, "authentication required")
	}
	entry.WithActor(requester.UID, requester.Email, "")

	role, requesterOrg, err := i.requesterScope(ctx, requester)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.New(apperrors.PermissionDenied, "requester has no published claims")
	}
	if err != nil {
		return nil, err
	}
	entry.ActorRole = string(role)
	switch {
	case role == auth.RoleSuperUser:
	case role == auth.RoleBusinessOwner && requesterOrg != "" && requesterOrg == orgID:
	default:
		return nil, apperrors.New(apperrors.PermissionDenied, "not allowed to issue claims for this organization")
	}

	members, err := i.resolver.Members(ctx, orgID)
	if err != nil {
		return nil, err
	}

	results := make([]UserResult, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for idx, member := range members {
		idx, member := idx, member
		g.Go(func() error {
			res, err := i.publish(gctx, member, orgID, false)
			i.metrics.ObserveClaimsIssued(err)
			if err != nil {
				i.logger.WithError(err).WithField("uid", member.ID).Warn("Failed to issue claims in organization batch")
				results[idx] = UserResult{UID: member.ID, Error: apperrors.MessageOf(err)}
				if errors.Is(err, errDeactivated) {
					results[idx].Error = err.Error()
				}
				return nil
			}
			results[idx] = UserResult{UID: member.ID, Success: true, Role: res.Role}
			return nil
		})
	}
	_ = g.Wait()

	out := &OrganizationResult{
		OrganizationID: orgID,
		Results:        results,
		TotalUsers:     len(results),
	}
	for _, r := range results {
		if r.Success {
			out.SuccessCount++
		}
	}
	return out, nil
}

// GetClaims returns uid's published claims
func (i *Issuer) GetClaims(ctx context.Context, uid string) (*Record, error) {
	record, err := i.store.GetClaims(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.Wrap(apperrors.NotFound, err, "no claims published for user")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, err, "failed to read claims")
	}
	return record, nil
}

// publish derives claims from user and writes them. Inactive elevated
// accounts have their claims removed instead.
func (i *Issuer) publish(ctx context.Context, user *auth.User, orgID string, revokeSessions bool) (*IssueResult, error) {
	now := i.now().UTC()

	if user.Role == auth.RoleSuperUser && !user.IsActive {
		if err := i.store.DeleteClaims(ctx, user.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.Internal, err, "failed to remove claims")
		}
		i.cache.Invalidate(user.ID)
		return nil, errDeactivated
	}

	claims := auth.Claims{
		Role:           user.Role,
		OrganizationID: orgID,
		Permissions:    auth.PermissionSet(user.Permissions),
		LastUpdated:    now,
	}
	if revokeSessions {
		claims.ValidAfter = now
	}

	record := &Record{UID: user.ID, Email: user.Email, Claims: claims}
	if err := i.store.PutClaims(ctx, record); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, err, "failed to publish claims")
	}

	claims = record.Claims
	if !revokeSessions {
		i.cache.Put(auth.NewClaimsContext(user.ID, user.Email, &claims, now))
	}

	return &IssueResult{
		UID:            user.ID,
		Role:           claims.Role,
		OrganizationID: orgID,
		Permissions:    claims.Permissions,
		LastUpdated:    now,
	}, nil
}

// requesterScope returns the caller's role and organization from the cache
// or the published claims. ErrNotFound means nothing is published for the
// caller. A token older than the ValidAfter marker is Unauthenticated.
func (i *Issuer) requesterScope(ctx context.Context, requester *auth.Identity) (auth.Role, string, error) {
	cc, ok := i.cache.Get(requester.UID)
	if !ok {
		record, err := i.store.GetClaims(ctx, requester.UID)
		if errors.Is(err, ErrNotFound) {
			return "", "", err
		}
		if err != nil {
			return "", "", apperrors.Wrap(apperrors.Internal, err, "failed to read requester claims")
		}
		cc = auth.NewClaimsContext(record.UID, record.Email, &record.Claims, i.now().UTC())
	}
	if cc.RevokesTokenIssuedAt(requester.IssuedAt) {
		return "", "", apperrors.New(apperrors.Unauthenticated, "session has been revoked")
	}
	return cc.Role, cc.OrganizationID, nil
}
