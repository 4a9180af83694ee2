package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store over the organizations, subscriptions,
// resellers, commissions, commission_reports and processed_events tables
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithTx runs fn inside a database transaction
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const commissionColumns = `
	id, reseller_id, organization_id, COALESCE(subscription_id, ''), source_event_id,
	period_start, period_end, gross_amount, provider_fees, net_revenue,
	commission_amount, owner_amount, company_amount, status, created_at`

// MaturedCommissions lists calculated commissions created at or before cutoff
func (s *PostgresStore) MaturedCommissions(ctx context.Context, cutoff time.Time) ([]*Commission, error) {
	query := `SELECT` + commissionColumns + `
		FROM commissions
		WHERE status = 'calculated' AND created_at <= $1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list matured commissions: %w", err)
	}
	defer rows.Close()
	return scanCommissions(rows)
}

func scanCommissions(rows *sql.Rows) ([]*Commission, error) {
	var out []*Commission
	for rows.Next() {
		var (
			c                      Commission
			periodStart, periodEnd sql.NullTime
		)
		if err := rows.Scan(
			&c.ID, &c.ResellerID, &c.OrganizationID, &c.SubscriptionID, &c.SourceEventID,
			&periodStart, &periodEnd, &c.GrossAmount, &c.ProviderFees, &c.NetRevenue,
			&c.CommissionAmount, &c.OwnerAmount, &c.CompanyAmount, &c.Status, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}
		c.PeriodStart = periodStart.Time
		c.PeriodEnd = periodEnd.Time
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate commissions: %w", err)
	}
	return out, nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) MarkEventProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error) {
	query := `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`
	result, err := t.tx.ExecContext(ctx, query, eventID, eventType, at)
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *postgresTx) ActivateOrganization(ctx context.Context, orgID, customerID, subscriptionID, planTier string, at time.Time) error {
	query := `
		UPDATE organizations
		SET subscription_status = 'active', is_active = true,
		    stripe_customer_id = $2, stripe_subscription_id = $3,
		    plan_tier = COALESCE(NULLIF($4::text, ''), plan_tier), updated_at = $5
		WHERE id = $1
	`
	result, err := t.tx.ExecContext(ctx, query, orgID, customerID, subscriptionID, planTier, at)
	if err != nil {
		return fmt.Errorf("failed to activate organization: %w", err)
	}
	return requireRow(result)
}

func (t *postgresTx) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscriptions (id, organization_id, stripe_subscription_id, plan_tier, status,
		                           current_period_start, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			plan_tier = EXCLUDED.plan_tier,
			status = EXCLUDED.status,
			current_period_start = COALESCE(EXCLUDED.current_period_start, subscriptions.current_period_start),
			current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`
	err := t.tx.QueryRowContext(ctx, query,
		sub.ID, sub.OrganizationID, sub.StripeSubscriptionID, sub.PlanTier, sub.Status,
		nullableTime(sub.CurrentPeriodStart), nullableTime(sub.CurrentPeriodEnd), sub.CreatedAt, sub.UpdatedAt,
	).Scan(&sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (t *postgresTx) ActivateFirstBusinessOwner(ctx context.Context, orgID string, at time.Time) (string, error) {
	query := `
		UPDATE organization_users
		SET is_active = true, updated_at = $2
		WHERE organization_id = $1 AND id = (
			SELECT id FROM organization_users
			WHERE organization_id = $1 AND ` + roleText + ` = 'business-owner'
			ORDER BY created_at, id
			LIMIT 1
		)
		RETURNING id
	`
	var uid string
	err := t.tx.QueryRowContext(ctx, query, orgID, at).Scan(&uid)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to activate business owner: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE root_users SET is_active = true, updated_at = $2 WHERE id = $1`, uid, at); err != nil {
		return "", fmt.Errorf("failed to activate root user: %w", err)
	}
	return uid, nil
}

func (t *postgresTx) AddResellerClient(ctx context.Context, resellerID, orgID string, at time.Time) (bool, error) {
	query := `
		UPDATE resellers
		SET client_ids = array_append(client_ids, $2::text),
		    clients_acquired = clients_acquired + 1,
		    updated_at = $3
		WHERE id = $1 AND NOT ($2::text = ANY(client_ids))
	`
	result, err := t.tx.ExecContext(ctx, query, resellerID, orgID, at)
	if err != nil {
		return false, fmt.Errorf("failed to add reseller client: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	exists, err := t.ResellerExists(ctx, resellerID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (t *postgresTx) ResellerExists(ctx context.Context, resellerID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM resellers WHERE id = $1)`, resellerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up reseller: %w", err)
	}
	return exists, nil
}

// InsertCommission skips the row when either its id or its source event id
// is already present
func (t *postgresTx) InsertCommission(ctx context.Context, c *Commission) (bool, error) {
	query := `
		INSERT INTO commissions (id, reseller_id, organization_id, subscription_id, source_event_id,
		                         period_start, period_end, gross_amount, provider_fees, net_revenue,
		                         commission_amount, owner_amount, company_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		ON CONFLICT DO NOTHING
	`
	result, err := t.tx.ExecContext(ctx, query,
		c.ID, c.ResellerID, c.OrganizationID, c.SubscriptionID, c.SourceEventID,
		nullableTime(&c.PeriodStart), nullableTime(&c.PeriodEnd), c.GrossAmount, c.ProviderFees, c.NetRevenue,
		c.CommissionAmount, c.OwnerAmount, c.CompanyAmount, c.Status, c.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert commission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *postgresTx) AddResellerTotals(ctx context.Context, resellerID string, revenue, commission int64, at time.Time) error {
	query := `
		UPDATE resellers
		SET monthly_recurring_revenue = monthly_recurring_revenue + $2,
		    total_commissions = total_commissions + $3,
		    updated_at = $4
		WHERE id = $1
	`
	result, err := t.tx.ExecContext(ctx, query, resellerID, revenue, commission, at)
	if err != nil {
		return fmt.Errorf("failed to update reseller totals: %w", err)
	}
	return requireRow(result)
}

func (t *postgresTx) UpdateSubscriptionStatus(ctx context.Context, orgID string, status SubscriptionStatus, periodStart, periodEnd *time.Time, at time.Time) error {
	orgQuery := `
		UPDATE organizations
		SET subscription_status = $2, is_active = $3,
		    current_period_start = $4, current_period_end = $5, updated_at = $6
		WHERE id = $1
		RETURNING COALESCE(plan_tier, '')
	`
	var planTier string
	err := t.tx.QueryRowContext(ctx, orgQuery,
		orgID, status, status.Active(), nullableTime(periodStart), nullableTime(periodEnd), at,
	).Scan(&planTier)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update organization status: %w", err)
	}

	subQuery := `
		INSERT INTO subscriptions (id, organization_id, plan_tier, status,
		                           current_period_start, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := t.tx.ExecContext(ctx, subQuery,
		SubscriptionID(orgID), orgID, planTier, status, nullableTime(periodStart), nullableTime(periodEnd), at,
	); err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	return nil
}

func (t *postgresTx) CancelSubscription(ctx context.Context, orgID string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE organizations
		SET subscription_status = 'canceled', is_active = false, updated_at = $2
		WHERE id = $1
	`, orgID, at)
	if err != nil {
		return fmt.Errorf("failed to cancel organization: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE subscriptions SET status = 'canceled', updated_at = $2 WHERE organization_id = $1`, orgID, at); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return nil
}

func (t *postgresTx) LockCalculated(ctx context.Context, ids []string) ([]*Commission, error) {
	query := `SELECT` + commissionColumns + `
		FROM commissions
		WHERE id = ANY($1) AND status = 'calculated'
		ORDER BY created_at, id
		FOR UPDATE
	`
	rows, err := t.tx.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock commissions: %w", err)
	}
	defer rows.Close()
	return scanCommissions(rows)
}

func (t *postgresTx) UpsertReport(ctx context.Context, report *CommissionReport) (*CommissionReport, error) {
	upsert := `
		INSERT INTO commission_reports (id, reseller_id, month, total_clients, total_revenue, total_commission,
		                                commission_ids, payout_status, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			total_revenue = commission_reports.total_revenue + EXCLUDED.total_revenue,
			total_commission = commission_reports.total_commission + EXCLUDED.total_commission,
			commission_ids = commission_reports.commission_ids || EXCLUDED.commission_ids,
			updated_at = EXCLUDED.updated_at
		WHERE commission_reports.payout_status = 'pending'
	`
	result, err := t.tx.ExecContext(ctx, upsert,
		report.ID, report.ResellerID, report.Month, report.TotalRevenue, report.TotalCommission,
		pq.Array(report.CommissionIDs), report.PayoutStatus, report.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert commission report: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	// the conflict row exists but is no longer pending
	if n == 0 {
		return nil, ErrReportSettled
	}

	recount := `
		UPDATE commission_reports r
		SET total_clients = (
			SELECT COUNT(DISTINCT c.organization_id) FROM commissions c WHERE c.id = ANY(r.commission_ids)
		)
		WHERE r.id = $1
		RETURNING r.id, r.reseller_id, r.month, r.total_clients, r.total_revenue, r.total_commission,
		          r.commission_ids, r.payout_status, r.created_at, r.updated_at
	`
	var stored CommissionReport
	err = t.tx.QueryRowContext(ctx, recount, report.ID).Scan(
		&stored.ID, &stored.ResellerID, &stored.Month, &stored.TotalClients, &stored.TotalRevenue,
		&stored.TotalCommission, pq.Array(&stored.CommissionIDs), &stored.PayoutStatus,
		&stored.CreatedAt, &stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count report clients: %w", err)
	}
	return &stored, nil
}

func (t *postgresTx) MarkPending(ctx context.Context, ids []string, at time.Time) (int, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE commissions
		SET status = 'pending', updated_at = $2
		WHERE id = ANY($1) AND status = 'calculated'
	`, pq.Array(ids), at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark commissions pending: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// roleText extracts the role id from a JSONB role stored as a string or as an
// object with an id field
const roleText = `COALESCE(role->>'id', role#>>'{}')`

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}
