package authz

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/audit"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/claims"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
)

// Options describes what a privileged operation requires of its caller
type Options struct {
	// Operation names the operation in audit entries and metrics
	Operation audit.Operation

	RequireElevatedRole bool
	RequiredPermissions []string

	// MaxSessionAge bounds how old a cached context may be. Zero means the
	// cache TTL.
	MaxSessionAge time.Duration

	// OrganizationID scopes the call to one tenant. Elevated callers bypass it.
	OrganizationID string
	// OrganizationRoles optionally narrows the in-tenant roles allowed
	OrganizationRoles []auth.Role
}

// Validator is the gate in front of every privileged operation
type Validator struct {
	cache     *claims.Cache
	store     claims.ClaimsStore
	bootstrap *BootstrapList
	audit     audit.Logger
	metrics   *observability.Metrics
	logger    *observability.Logger
	now       func() time.Time
}

// Option configures a Validator
type Option func(*Validator)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithMetrics sets the Prometheus metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithLogger sets the application logger
func WithLogger(l *observability.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithAuditLogger sets the audit sink used by Validate
func WithAuditLogger(l audit.Logger) Option {
	return func(v *Validator) { v.audit = l }
}

// WithBootstrap sets the bootstrap allow-list
func WithBootstrap(b *BootstrapList) Option {
	return func(v *Validator) { v.bootstrap = b }
}

// NewValidator creates a validator reading published claims from store
func NewValidator(cache *claims.Cache, store claims.ClaimsStore, opts ...Option) *Validator {
	v := &Validator{
		cache:  cache,
		store:  store,
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate authorizes the caller in ctx and writes one audit entry for the
// decision. Failures are returned as *apperrors.Error.
func (v *Validator) Validate(ctx context.Context, opts Options) (*auth.ClaimsContext, error) {
	return v.validate(ctx, "", opts)
}

// ValidateSelfManagement is Validate, except that a caller acting on their
// own account passes without the elevated role
func (v *Validator) ValidateSelfManagement(ctx context.Context, targetUID string, opts Options) (*auth.ClaimsContext, error) {
	return v.validate(ctx, targetUID, opts)
}

// Authorize runs the same checks as Validate without writing an audit entry.
// Callers that record their own single entry per operation use it.
func (v *Validator) Authorize(ctx context.Context, opts Options) (*auth.ClaimsContext, error) {
	return v.authorize(ctx, "", opts)
}

// AuthorizeSelfManagement is the unaudited form of ValidateSelfManagement
func (v *Validator) AuthorizeSelfManagement(ctx context.Context, targetUID string, opts Options) (*auth.ClaimsContext, error) {
	return v.authorize(ctx, targetUID, opts)
}

func (v *Validator) validate(ctx context.Context, selfTarget string, opts Options) (*auth.ClaimsContext, error) {
	ctx, span := observability.Tracer().Start(ctx, "authz.Validate")
	defer span.End()
	span.SetAttributes(
		attribute.String("authz.operation", string(opts.Operation)),
		attribute.Bool("authz.elevated", opts.RequireElevatedRole),
	)

	cc, err := v.authorize(ctx, selfTarget, opts)

	entry := audit.NewEntry(opts.Operation)
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		entry.WithActor(identity.UID, identity.Email, "")
	}
	if cc != nil {
		entry.ActorRole = string(cc.Role)
	}
	if opts.OrganizationID != "" {
		entry.WithDetail("organization_id", opts.OrganizationID)
	}
	if selfTarget != "" {
		entry.WithDetail("target_uid", selfTarget)
	}
	if err := audit.Record(ctx, v.audit, entry.Outcome(err)); err != nil {
		v.logger.WithError(err).Error("Failed to write authorization audit entry")
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		v.logger.WithFields(map[string]interface{}{
			"operation": opts.Operation,
			"code":      apperrors.CodeOf(err),
		}).Info("Authorization denied")
	}
	return cc, err
}

func (v *Validator) authorize(ctx context.Context, selfTarget string, opts Options) (*auth.ClaimsContext, error) {
	cc, err := v.check(ctx, selfTarget, opts)
	v.metrics.ObserveDecision(string(opts.Operation), err)
	return cc, err
}

func (v *Validator) check(ctx context.Context, selfTarget string, opts Options) (*auth.ClaimsContext, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, apperrors.New(apperrors.Unauthenticated, "authentication required")
	}
	isSelf := selfTarget != "" && selfTarget == identity.UID
	bootstrap := v.bootstrap.Allows(identity)

	cc, err := v.claimsContext(ctx, identity, opts.MaxSessionAge)
	if apperrors.Is(err, apperrors.PermissionDenied) && bootstrap {
		// Bootstrap accounts may act before any claims are published
		cc, err = &auth.ClaimsContext{UID: identity.UID, Email: identity.Email, IssuedAt: v.now()}, nil
	}
	if err != nil {
		return nil, err
	}

	elevated := cc.Role == auth.RoleSuperUser || bootstrap
	if opts.RequireElevatedRole && !elevated && !isSelf {
		return cc, apperrors.New(apperrors.PermissionDenied, "super-user role required")
	}

	if opts.OrganizationID != "" && !elevated {
		if cc.OrganizationID == "" || cc.OrganizationID != opts.OrganizationID {
			return cc, apperrors.New(apperrors.PermissionDenied, "access to another organization is not allowed")
		}
		if len(opts.OrganizationRoles) > 0 && !hasRole(cc.Role, opts.OrganizationRoles) {
			return cc, apperrors.Newf(apperrors.PermissionDenied, "role %s may not perform this operation", cc.Role)
		}
	}

	if len(opts.RequiredPermissions) > 0 && !cc.HasAllPermissions(opts.RequiredPermissions) {
		return cc, apperrors.New(apperrors.PermissionDenied, "insufficient permissions")
	}

	return cc, nil
}

// claimsContext returns the caller's context from the cache when it is young
// enough, otherwise from the published claims
func (v *Validator) claimsContext(ctx context.Context, identity *auth.Identity, maxAge time.Duration) (*auth.ClaimsContext, error) {
	now := v.now()
	if maxAge <= 0 {
		maxAge = v.cache.TTL()
	}

	cc, ok := v.cache.Get(identity.UID)
	if !ok || cc.Age(now) >= maxAge {
		record, err := v.store.GetClaims(ctx, identity.UID)
		if errors.Is(err, claims.ErrNotFound) {
			return nil, apperrors.New(apperrors.PermissionDenied, "no claims published for caller")
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, err, "failed to read claims")
		}
		email := identity.Email
		if email == "" {
			email = record.Email
		}
		cc = auth.NewClaimsContext(identity.UID, email, &record.Claims, now)
		v.cache.Put(cc)
	}

	if cc.RevokesTokenIssuedAt(identity.IssuedAt) {
		return nil, apperrors.New(apperrors.Unauthenticated, "session has been revoked")
	}
	return cc, nil
}

func hasRole(role auth.Role, allowed []auth.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
