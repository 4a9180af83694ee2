package superuser

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/audit"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/authz"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/claims"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
)

// Admin runs the elevated account-lifecycle operations. Every call writes
// exactly one audit entry, whatever its outcome.
type Admin struct {
	validator *authz.Validator
	store     Store
	issuer    *claims.Issuer
	audit     audit.Logger
	metrics   *observability.Metrics
	logger    *observability.Logger
	ceiling   int
}

// Option configures an Admin
type Option func(*Admin)

// WithAuditLogger sets the audit sink
func WithAuditLogger(l audit.Logger) Option {
	return func(a *Admin) { a.audit = l }
}

// WithMetrics sets the Prometheus metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Admin) { a.metrics = m }
}

// WithLogger sets the application logger
func WithLogger(l *observability.Logger) Option {
	return func(a *Admin) { a.logger = l }
}

// WithCeiling overrides DefaultCeiling
func WithCeiling(n int) Option {
	return func(a *Admin) {
		if n > 0 {
			a.ceiling = n
		}
	}
}

// NewAdmin creates an Admin
func NewAdmin(validator *authz.Validator, store Store, issuer *claims.Issuer, opts ...Option) *Admin {
	a := &Admin{
		validator: validator,
		store:     store,
		issuer:    issuer,
		logger:    observability.NopLogger(),
		ceiling:   DefaultCeiling,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ceiling returns the configured maximum of active super-users
func (a *Admin) Ceiling() int {
	return a.ceiling
}

// Manage dispatches one of the four management actions
func (a *Admin) Manage(ctx context.Context, action, targetUID, newEmail, newPassword string) (*Result, error) {
	switch action {
	case ActionUpdateEmail:
		return a.UpdateEmail(ctx, targetUID, newEmail)
	case ActionUpdatePassword:
		return a.UpdatePassword(ctx, targetUID, newPassword)
	case ActionGrant:
		return a.Grant(ctx, targetUID)
	case ActionRevoke:
		return a.Revoke(ctx, targetUID)
	default:
		return nil, apperrors.Newf(apperrors.InvalidArgument, "unknown action %q", action)
	}
}

// UpdateEmail changes the login and profile email of targetUID. The caller
// must be the target or a super-user. The new address starts unverified.
func (a *Admin) UpdateEmail(ctx context.Context, targetUID, newEmail string) (*Result, error) {
	entry := audit.NewEntry(audit.OpUpdateEmail)
	res, err := a.updateEmail(ctx, entry, targetUID, newEmail)
	a.record(ctx, entry, err)
	return res, err
}

func (a *Admin) updateEmail(ctx context.Context, entry *audit.Entry, targetUID, newEmail string) (*Result, error) {
	targetUID, err := a.authorizeSelf(ctx, entry, targetUID, audit.OpUpdateEmail)
	if err != nil {
		return nil, err
	}

	email, err := normalizeEmail(newEmail)
	if err != nil {
		return nil, err
	}
	entry.WithDetail("new_email", email)

	if err := a.store.UpdateIdentityEmail(ctx, targetUID, email); err != nil {
		return nil, storeError(err, "failed to update identity email")
	}
	if err := a.store.UpdateProfileEmail(ctx, targetUID, email); err != nil {
		return nil, storeError(err, "failed to update profile email")
	}
	if _, err := a.issuer.Refresh(ctx, targetUID); err != nil {
		return nil, err
	}

	return &Result{Success: true, Message: "Email updated; verification required", Action: ActionUpdateEmail, TargetUID: targetUID}, nil
}

// UpdatePassword replaces the credential of targetUID. The caller must be the
// target or a super-user.
func (a *Admin) UpdatePassword(ctx context.Context, targetUID, newPassword string) (*Result, error) {
	entry := audit.NewEntry(audit.OpUpdatePassword)
	res, err := a.updatePassword(ctx, entry, targetUID, newPassword)
	a.record(ctx, entry, err)
	return res, err
}

func (a *Admin) updatePassword(ctx context.Context, entry *audit.Entry, targetUID, newPassword string) (*Result, error) {
	targetUID, err := a.authorizeSelf(ctx, entry, targetUID, audit.OpUpdatePassword)
	if err != nil {
		return nil, err
	}

	if utf8.RuneCountInString(newPassword) < MinPasswordLength {
		return nil, apperrors.Newf(apperrors.InvalidArgument, "password must be at least %d characters", MinPasswordLength)
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, err, "failed to hash password")
	}
	if err := a.store.UpdatePasswordHash(ctx, targetUID, hash); err != nil {
		return nil, storeError(err, "failed to update password")
	}

	return &Result{Success: true, Message: "Password updated", Action: ActionUpdatePassword, TargetUID: targetUID}, nil
}

// Grant gives targetUID the super-user role with the wildcard permission. It
// fails with ResourceExhausted once the ceiling is reached.
func (a *Admin) Grant(ctx context.Context, targetUID string) (*Result, error) {
	entry := audit.NewEntry(audit.OpGrantSuperUser).WithSeverity(audit.SeverityCritical)
	res, err := a.grant(ctx, entry, targetUID)
	a.record(ctx, entry, err)
	a.logTrustChange(entry, err)
	return res, err
}

func (a *Admin) grant(ctx context.Context, entry *audit.Entry, targetUID string) (*Result, error) {
	if err := a.authorizeElevated(ctx, entry, audit.OpGrantSuperUser); err != nil {
		return nil, err
	}
	if targetUID == "" {
		return nil, apperrors.New(apperrors.InvalidArgument, "targetUid is required")
	}
	entry.WithDetail("target_uid", targetUID)

	count, err := a.store.Grant(ctx, targetUID, a.ceiling)
	switch {
	case errors.Is(err, ErrCeilingReached):
		return nil, apperrors.Newf(apperrors.ResourceExhausted, "maximum of %d super-users reached", a.ceiling)
	case errors.Is(err, ErrAlreadyElevated):
		return nil, apperrors.New(apperrors.AlreadyExists, "user is already a super-user")
	case err != nil:
		return nil, storeError(err, "failed to grant super-user role")
	}
	entry.WithDetail("elevated_count", count)
	a.metrics.SetElevatedAccounts(count)

	if _, err := a.issuer.Refresh(ctx, targetUID); err != nil {
		return nil, err
	}

	return &Result{
		Success:       true,
		Message:       fmt.Sprintf("Super-user role granted (%d of %d)", count, a.ceiling),
		Action:        ActionGrant,
		TargetUID:     targetUID,
		ElevatedCount: &count,
	}, nil
}

// Revoke removes the super-user role from targetUID. Revoking one's own role
// is always InvalidArgument, whatever the caller holds.
func (a *Admin) Revoke(ctx context.Context, targetUID string) (*Result, error) {
	entry := audit.NewEntry(audit.OpRevokeSuperUser).WithSeverity(audit.SeverityCritical)
	res, err := a.revoke(ctx, entry, targetUID)
	a.record(ctx, entry, err)
	a.logTrustChange(entry, err)
	return res, err
}

func (a *Admin) revoke(ctx context.Context, entry *audit.Entry, targetUID string) (*Result, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, apperrors.New(apperrors.Unauthenticated, "authentication required")
	}
	if targetUID == "" {
		return nil, apperrors.New(apperrors.InvalidArgument, "targetUid is required")
	}
	entry.WithDetail("target_uid", targetUID)
	if targetUID == identity.UID {
		return nil, apperrors.New(apperrors.InvalidArgument, "cannot revoke your own super-user role")
	}

	if err := a.authorizeElevated(ctx, entry, audit.OpRevokeSuperUser); err != nil {
		return nil, err
	}

	outcome, err := a.store.Revoke(ctx, targetUID)
	if errors.Is(err, ErrNotElevated) {
		return nil, apperrors.New(apperrors.InvalidArgument, "user is not a super-user")
	}
	if err != nil {
		return nil, storeError(err, "failed to revoke super-user role")
	}
	entry.WithDetail("outcome", string(outcome))

	if _, err := a.issuer.RevokeSessions(ctx, targetUID); err != nil {
		return nil, err
	}
	res := &Result{
		Success:   true,
		Message:   fmt.Sprintf("Super-user role revoked; account %s", outcome),
		Action:    ActionRevoke,
		TargetUID: targetUID,
	}
	// the role is already gone, so a failed count only omits it
	if accounts, err := a.store.ListElevated(ctx); err == nil {
		count := len(accounts)
		a.metrics.SetElevatedAccounts(count)
		res.ElevatedCount = &count
	} else {
		a.logger.WithError(err).Warn("Failed to count super-users after revoke")
	}
	return res, nil
}

// Info lists the active super-users and the remaining capacity
func (a *Admin) Info(ctx context.Context) (*Info, error) {
	entry := audit.NewEntry(audit.OpGetSuperUserInfo)
	info, err := a.info(ctx, entry)
	a.record(ctx, entry, err)
	return info, err
}

func (a *Admin) info(ctx context.Context, entry *audit.Entry) (*Info, error) {
	if err := a.authorizeElevated(ctx, entry, audit.OpGetSuperUserInfo); err != nil {
		return nil, err
	}

	accounts, err := a.store.ListElevated(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list super-users")
	}
	if accounts == nil {
		accounts = []Account{}
	}
	a.metrics.SetElevatedAccounts(len(accounts))

	available := a.ceiling - len(accounts)
	if available < 0 {
		available = 0
	}
	return &Info{
		TotalSuperUsers: len(accounts),
		SuperUsers:      accounts,
		SecurityInfo: SecurityInfo{
			MaxAllowed:   a.ceiling,
			CurrentCount: len(accounts),
			Available:    available,
		},
	}, nil
}

func (a *Admin) authorizeElevated(ctx context.Context, entry *audit.Entry, op audit.Operation) error {
	cc, err := a.validator.Authorize(ctx, authz.Options{Operation: op, RequireElevatedRole: true})
	if cc != nil {
		entry.ActorRole = string(cc.Role)
	}
	return err
}

// authorizeSelf allows the target or a super-user and returns the effective
// target, which defaults to the caller
func (a *Admin) authorizeSelf(ctx context.Context, entry *audit.Entry, targetUID string, op audit.Operation) (string, error) {
	if identity, ok := auth.IdentityFromContext(ctx); ok && targetUID == "" {
		targetUID = identity.UID
	}
	entry.WithDetail("target_uid", targetUID)

	cc, err := a.validator.AuthorizeSelfManagement(ctx, targetUID, authz.Options{Operation: op, RequireElevatedRole: true})
	if cc != nil {
		entry.ActorRole = string(cc.Role)
	}
	return targetUID, err
}

func (a *Admin) record(ctx context.Context, entry *audit.Entry, err error) {
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		entry.ActorUID = identity.UID
		entry.ActorEmail = identity.Email
	}
	if auditErr := audit.Record(ctx, a.audit, entry.Outcome(err)); auditErr != nil {
		a.logger.WithError(auditErr).WithField("operation", entry.Operation).Error("Failed to write audit entry")
	}
}

func (a *Admin) logTrustChange(entry *audit.Entry, err error) {
	log := a.logger.WithFields(map[string]interface{}{
		"operation":  entry.Operation,
		"actor_uid":  entry.ActorUID,
		"target_uid": entry.Details["target_uid"],
		"success":    err == nil,
	})
	if err != nil {
		log = log.WithError(err)
	}
	log.Warn("Super-user role change")
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
		return "", apperrors.New(apperrors.InvalidArgument, "invalid email address")
	}
	return strings.ToLower(addr.Address), nil
}

func storeError(err error, message string) error {
	if errors.Is(err, ErrNotFound) {
		return apperrors.Wrap(apperrors.NotFound, err, "user not found")
	}
	return apperrors.Wrap(apperrors.Internal, err, message)
}
