package superuser

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// elevatedLockKey serializes grant and revoke across processes
const elevatedLockKey = 727001

// roleText extracts the role id from a JSONB role stored as a string or as an
// object with an id field
const roleText = `COALESCE(role->>'id', role#>>'{}')`

// PostgresStore implements Store over identity_accounts, root_users and
// organization_users
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// UpdateIdentityEmail sets the login email and clears verification
func (s *PostgresStore) UpdateIdentityEmail(ctx context.Context, uid, email string) error {
	query := `
		UPDATE identity_accounts
		SET email = $2, email_verified = false, updated_at = NOW()
		WHERE uid = $1
	`
	result, err := s.db.ExecContext(ctx, query, uid, email)
	if err != nil {
		return fmt.Errorf("failed to update identity email: %w", err)
	}
	return requireRow(result)
}

// UpdateProfileEmail sets the email on the root and partition records
func (s *PostgresStore) UpdateProfileEmail(ctx context.Context, uid, email string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var affected int64
	for _, table := range []string{"root_users", "organization_users"} {
		result, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET email = $2, updated_at = NOW() WHERE id = $1`, table), uid, email)
		if err != nil {
			return fmt.Errorf("failed to update %s email: %w", table, err)
		}
		n, _ := result.RowsAffected()
		affected += n
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// UpdatePasswordHash stores a new credential hash
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, uid, hash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE identity_accounts SET password_hash = $2, updated_at = NOW() WHERE uid = $1`, uid, hash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRow(result)
}

// Grant counts active super-users and elevates uid in one transaction held
// under an advisory lock
func (s *PostgresStore) Grant(ctx context.Context, uid string, ceiling int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, elevatedLockKey); err != nil {
		return 0, fmt.Errorf("failed to acquire elevated-role lock: %w", err)
	}

	target, err := lookupTarget(ctx, tx, uid)
	if err != nil {
		return 0, err
	}
	if target.elevated() {
		return 0, ErrAlreadyElevated
	}

	var count int
	if err := tx.QueryRowContext(ctx, countElevatedQuery).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count super-users: %w", err)
	}
	if count >= ceiling {
		return 0, ErrCeilingReached
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET role = to_jsonb($2::text), permissions = '{"*": true}'::jsonb, is_active = true, updated_at = NOW()
		WHERE id = $1
	`, target.table)
	if _, err := tx.ExecContext(ctx, query, uid, "super-user"); err != nil {
		return 0, fmt.Errorf("failed to grant super-user role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit grant: %w", err)
	}
	return count + 1, nil
}

// Revoke demotes uid to business-owner of its organization or deactivates it
func (s *PostgresStore) Revoke(ctx context.Context, uid string) (RevokeOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, elevatedLockKey); err != nil {
		return "", fmt.Errorf("failed to acquire elevated-role lock: %w", err)
	}

	target, err := lookupTarget(ctx, tx, uid)
	if err != nil {
		return "", err
	}
	if !target.elevated() {
		return "", ErrNotElevated
	}

	outcome := RevokeDeactivated
	query := fmt.Sprintf(`
		UPDATE %s SET permissions = '{}'::jsonb, is_active = false, updated_at = NOW() WHERE id = $1
	`, target.table)
	args := []interface{}{uid}
	if target.organizationID != "" {
		outcome = RevokeDemoted
		query = fmt.Sprintf(`
			UPDATE %s SET role = to_jsonb($2::text), permissions = '{}'::jsonb, updated_at = NOW() WHERE id = $1
		`, target.table)
		args = append(args, "business-owner")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("failed to revoke super-user role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit revoke: %w", err)
	}
	return outcome, nil
}

// ListElevated returns the active super-users, newest change first
func (s *PostgresStore) ListElevated(ctx context.Context) ([]Account, error) {
	query := `
		SELECT id, COALESCE(email, ''), COALESCE(organization_id, ''), updated_at FROM root_users
		WHERE is_active AND ` + roleText + ` = 'super-user'
		UNION
		SELECT id, COALESCE(email, ''), organization_id, updated_at FROM organization_users
		WHERE is_active AND ` + roleText + ` = 'super-user'
		ORDER BY 4 DESC, 1
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list super-users: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var accounts []Account
	for rows.Next() {
		var (
			a         Account
			updatedAt time.Time
		)
		if err := rows.Scan(&a.UID, &a.Email, &a.OrganizationID, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan super-user: %w", err)
		}
		if seen[a.UID] {
			continue
		}
		seen[a.UID] = true
		a.UpdatedAt = updatedAt
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating super-users: %w", err)
	}
	return accounts, nil
}

var countElevatedQuery = `
	SELECT COUNT(DISTINCT id) FROM (
		SELECT id FROM root_users WHERE is_active AND ` + roleText + ` = 'super-user'
		UNION ALL
		SELECT id FROM organization_users WHERE is_active AND ` + roleText + ` = 'super-user'
	) elevated
`

type target struct {
	table          string
	role           string
	organizationID string
	isActive       bool
}

func (t *target) elevated() bool {
	return t.role == "super-user" && t.isActive
}

// lookupTarget finds uid's authoritative record: the partition record named
// by the index, otherwise the root record
func lookupTarget(ctx context.Context, tx *sql.Tx, uid string) (*target, error) {
	t := &target{table: "organization_users"}
	err := tx.QueryRowContext(ctx, `
		SELECT `+roleText+`, u.organization_id, u.is_active
		FROM user_org_index i
		JOIN organization_users u ON u.organization_id = i.organization_id AND u.id = i.uid
		WHERE i.uid = $1
		FOR UPDATE OF u
	`, uid).Scan(&t.role, &t.organizationID, &t.isActive)
	if err == nil {
		return t, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read partition user: %w", err)
	}

	t = &target{table: "root_users"}
	err = tx.QueryRowContext(ctx, `
		SELECT `+roleText+`, COALESCE(organization_id, ''), is_active
		FROM root_users
		WHERE id = $1
		FOR UPDATE
	`, uid).Scan(&t.role, &t.organizationID, &t.isActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read root user: %w", err)
	}
	return t, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
