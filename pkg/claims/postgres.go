package claims

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
)

// PostgresDirectory implements Directory over the root_users,
// organization_users, user_org_index and organizations tables
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a new PostgresDirectory
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// RootUser reads uid from the root partition
func (d *PostgresDirectory) RootUser(ctx context.Context, uid string) (*auth.User, error) {
	query := `
		SELECT id, email, role, COALESCE(organization_id, ''), permissions, is_active
		FROM root_users
		WHERE id = $1
	`
	var orgID string
	user, err := scanUser(d.db.QueryRowContext(ctx, query, uid), &orgID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get root user: %w", err)
	}
	user.OrganizationID = orgID
	return user, nil
}

// OrganizationUser reads uid from orgID's partition
func (d *PostgresDirectory) OrganizationUser(ctx context.Context, orgID, uid string) (*auth.User, error) {
	query := `
		SELECT id, email, role, organization_id, permissions, is_active
		FROM organization_users
		WHERE organization_id = $1 AND id = $2
	`
	var scannedOrg string
	user, err := scanUser(d.db.QueryRowContext(ctx, query, orgID, uid), &scannedOrg)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization user: %w", err)
	}
	user.OrganizationID = scannedOrg
	return user, nil
}

// IndexedOrganization reads the uid index
func (d *PostgresDirectory) IndexedOrganization(ctx context.Context, uid string) (string, error) {
	var orgID string
	err := d.db.QueryRowContext(ctx, `SELECT organization_id FROM user_org_index WHERE uid = $1`, uid).Scan(&orgID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read user index: %w", err)
	}
	return orgID, nil
}

// ActiveOrganizations lists active organizations oldest first
func (d *PostgresDirectory) ActiveOrganizations(ctx context.Context, limit int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id FROM organizations WHERE is_active = true ORDER BY created_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OrganizationUsers lists every user in orgID's partition
func (d *PostgresDirectory) OrganizationUsers(ctx context.Context, orgID string) ([]*auth.User, error) {
	query := `
		SELECT id, email, role, organization_id, permissions, is_active
		FROM organization_users
		WHERE organization_id = $1
		ORDER BY id
	`
	rows, err := d.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organization users: %w", err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		var scannedOrg string
		user, err := scanUser(rows, &scannedOrg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization user: %w", err)
		}
		user.OrganizationID = scannedOrg
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organization users: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUser reads (id, email, role, org, permissions, is_active) and normalizes
// the stored role, which may be a JSON string or an object with an id
func scanUser(row rowScanner, orgID *string) (*auth.User, error) {
	var (
		user      auth.User
		email     sql.NullString
		roleRaw   []byte
		permsJSON []byte
	)
	if err := row.Scan(&user.ID, &email, &roleRaw, orgID, &permsJSON, &user.IsActive); err != nil {
		return nil, err
	}
	user.Email = email.String

	role, err := auth.NormalizeRole(roleRaw)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", user.ID, err)
	}
	user.Role = role

	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &user.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	return &user, nil
}

// PostgresClaimsStore implements ClaimsStore over the user_claims table
type PostgresClaimsStore struct {
	db *sql.DB
}

// NewPostgresClaimsStore creates a new PostgresClaimsStore
func NewPostgresClaimsStore(db *sql.DB) *PostgresClaimsStore {
	return &PostgresClaimsStore{db: db}
}

// GetClaims reads uid's published claims
func (s *PostgresClaimsStore) GetClaims(ctx context.Context, uid string) (*Record, error) {
	query := `
		SELECT uid, email, role, COALESCE(organization_id, ''), permissions, last_updated, valid_after
		FROM user_claims
		WHERE uid = $1
	`
	var (
		record     Record
		email      sql.NullString
		role       string
		validAfter sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, uid).Scan(
		&record.UID, &email, &role, &record.Claims.OrganizationID,
		pq.Array(&record.Claims.Permissions), &record.Claims.LastUpdated, &validAfter,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claims: %w", err)
	}

	record.Email = email.String
	if record.Claims.Role, err = auth.ParseRole(role); err != nil {
		return nil, fmt.Errorf("claims for %s: %w", uid, err)
	}
	if validAfter.Valid {
		record.Claims.ValidAfter = validAfter.Time
	}
	return &record, nil
}

// PutClaims upserts record. The stored valid_after only moves forward.
func (s *PostgresClaimsStore) PutClaims(ctx context.Context, record *Record) error {
	var validAfter interface{}
	if !record.Claims.ValidAfter.IsZero() {
		validAfter = record.Claims.ValidAfter
	}

	query := `
		INSERT INTO user_claims (uid, email, role, organization_id, permissions, last_updated, valid_after)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		ON CONFLICT (uid) DO UPDATE SET
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			organization_id = EXCLUDED.organization_id,
			permissions = EXCLUDED.permissions,
			last_updated = EXCLUDED.last_updated,
			valid_after = GREATEST(user_claims.valid_after, EXCLUDED.valid_after)
		RETURNING valid_after
	`
	var stored sql.NullTime
	err := s.db.QueryRowContext(ctx, query,
		record.UID, record.Email, string(record.Claims.Role), record.Claims.OrganizationID,
		pq.Array(record.Claims.Permissions), record.Claims.LastUpdated, validAfter,
	).Scan(&stored)
	if err != nil {
		return fmt.Errorf("failed to put claims: %w", err)
	}
	if stored.Valid {
		record.Claims.ValidAfter = stored.Time
	}
	return nil
}

// DeleteClaims removes uid's published claims
func (s *PostgresClaimsStore) DeleteClaims(ctx context.Context, uid string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_claims WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("failed to delete claims: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
