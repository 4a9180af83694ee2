package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
)

// Migration is one versioned schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrationLockKey serializes Migrate across instances
const migrationLockKey = 727000

// Migrations returns the schema history in application order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create user directory tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id TEXT PRIMARY KEY,
					name TEXT,
					subscription_status TEXT NOT NULL DEFAULT 'trialing',
					is_active BOOLEAN NOT NULL DEFAULT false,
					stripe_customer_id TEXT,
					stripe_subscription_id TEXT,
					plan_tier TEXT,
					current_period_start TIMESTAMPTZ,
					current_period_end TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_organizations_active ON organizations(created_at, id) WHERE is_active;

				CREATE TABLE IF NOT EXISTS root_users (
					id TEXT PRIMARY KEY,
					email TEXT,
					role JSONB NOT NULL,
					organization_id TEXT,
					permissions JSONB NOT NULL DEFAULT '{}',
					is_active BOOLEAN NOT NULL DEFAULT false,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organization_users (
					organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					id TEXT NOT NULL,
					email TEXT,
					role JSONB NOT NULL,
					permissions JSONB NOT NULL DEFAULT '{}',
					is_active BOOLEAN NOT NULL DEFAULT false,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, id)
				);
				CREATE INDEX IF NOT EXISTS idx_organization_users_id ON organization_users(id);

				CREATE TABLE IF NOT EXISTS identity_accounts (
					uid TEXT PRIMARY KEY,
					email TEXT UNIQUE,
					email_verified BOOLEAN NOT NULL DEFAULT false,
					password_hash TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create user organization index",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_org_index (
					uid TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE OR REPLACE FUNCTION index_organization_user() RETURNS trigger AS $$
				BEGIN
					INSERT INTO user_org_index (uid, organization_id)
					VALUES (NEW.id, NEW.organization_id)
					ON CONFLICT (uid) DO NOTHING;
					RETURN NEW;
				END;
				$$ LANGUAGE plpgsql;

				DROP TRIGGER IF EXISTS trg_index_organization_user ON organization_users;
				CREATE TRIGGER trg_index_organization_user
					AFTER INSERT ON organization_users
					FOR EACH ROW EXECUTE FUNCTION index_organization_user();
			`,
		},
		{
			Version:     3,
			Description: "Create published claims table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_claims (
					uid TEXT PRIMARY KEY,
					email TEXT,
					role TEXT NOT NULL,
					organization_id TEXT,
					permissions TEXT[] NOT NULL DEFAULT '{}',
					last_updated TIMESTAMPTZ NOT NULL,
					valid_after TIMESTAMPTZ
				);
			`,
		},
		{
			Version:     4,
			Description: "Create audit entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_entries (
					id UUID PRIMARY KEY,
					timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
					actor_uid VARCHAR(128),
					actor_email VARCHAR(255),
					actor_role VARCHAR(50),
					operation VARCHAR(100) NOT NULL,
					success BOOLEAN NOT NULL,
					severity VARCHAR(20) NOT NULL,
					request_id VARCHAR(100),
					error_message TEXT,
					details JSONB,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor_uid);
				CREATE INDEX IF NOT EXISTS idx_audit_entries_operation ON audit_entries(operation);
			`,
		},
		{
			Version:     5,
			Description: "Create subscription and reseller tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL UNIQUE REFERENCES organizations(id) ON DELETE CASCADE,
					stripe_subscription_id TEXT,
					plan_tier TEXT,
					status TEXT NOT NULL,
					current_period_start TIMESTAMPTZ,
					current_period_end TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS resellers (
					id TEXT PRIMARY KEY,
					name TEXT,
					client_ids TEXT[] NOT NULL DEFAULT '{}',
					clients_acquired INTEGER NOT NULL DEFAULT 0,
					monthly_recurring_revenue BIGINT NOT NULL DEFAULT 0,
					total_commissions BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS processed_events (
					event_id TEXT PRIMARY KEY,
					event_type TEXT NOT NULL,
					processed_at TIMESTAMPTZ NOT NULL
				);
			`,
		},
		{
			Version:     6,
			Description: "Create commission tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS commissions (
					id TEXT PRIMARY KEY,
					reseller_id TEXT NOT NULL REFERENCES resellers(id),
					organization_id TEXT NOT NULL,
					subscription_id TEXT,
					source_event_id TEXT NOT NULL UNIQUE,
					period_start TIMESTAMPTZ,
					period_end TIMESTAMPTZ,
					gross_amount BIGINT NOT NULL CHECK (gross_amount > 0),
					provider_fees BIGINT NOT NULL,
					net_revenue BIGINT NOT NULL,
					commission_amount BIGINT NOT NULL,
					owner_amount BIGINT NOT NULL,
					company_amount BIGINT NOT NULL CHECK (company_amount >= 0),
					status TEXT NOT NULL DEFAULT 'calculated',
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					CHECK (net_revenue = gross_amount - provider_fees),
					CHECK (commission_amount + owner_amount + company_amount = net_revenue)
				);
				CREATE INDEX IF NOT EXISTS idx_commissions_matured ON commissions(created_at, id) WHERE status = 'calculated';

				CREATE TABLE IF NOT EXISTS commission_reports (
					id TEXT PRIMARY KEY,
					reseller_id TEXT NOT NULL REFERENCES resellers(id),
					month CHAR(7) NOT NULL,
					total_clients INTEGER NOT NULL DEFAULT 0,
					total_revenue BIGINT NOT NULL DEFAULT 0,
					total_commission BIGINT NOT NULL DEFAULT 0,
					commission_ids TEXT[] NOT NULL DEFAULT '{}',
					payout_status TEXT NOT NULL DEFAULT 'pending',
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_commission_reports_month ON commission_reports(reseller_id, month);
			`,
		},
	}
}

// Migrate applies every pending migration. Each migration runs in its own
// transaction together with its bookkeeping row.
func Migrate(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}
		logger.WithFields(map[string]interface{}{
			"version":     m.Version,
			"description": m.Description,
		}).Info("Applying migration")

		if err := apply(ctx, conn, m); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func apply(ctx context.Context, conn *sql.Conn, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`, m.Version, m.Description); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}
