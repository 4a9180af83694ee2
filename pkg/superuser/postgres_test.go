package superuser

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Grant(t *testing.T) {
	ctx := context.Background()

	expectTarget := func(mock sqlmock.Sqlmock, uid string, partition bool, role, orgID string, active bool) {
		if partition {
			mock.ExpectQuery("FROM user_org_index i JOIN organization_users u").
				WithArgs(uid).
				WillReturnRows(sqlmock.NewRows([]string{"role", "organization_id", "is_active"}).AddRow(role, orgID, active))
			return
		}
		mock.ExpectQuery("FROM user_org_index").WithArgs(uid).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("FROM root_users WHERE id = \\$1 FOR UPDATE").
			WithArgs(uid).
			WillReturnRows(sqlmock.NewRows([]string{"role", "organization_id", "is_active"}).AddRow(role, orgID, active))
	}

	t.Run("success - two existing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(elevatedLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
		expectTarget(mock, "u1", true, "business-owner", "org_1", true)
		mock.ExpectQuery("SELECT COUNT\\(DISTINCT id\\)").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectExec("UPDATE organization_users SET role = to_jsonb\\(\\$2::text\\)").
			WithArgs("u1", "super-user").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		count, err := NewPostgresStore(db).Grant(ctx, "u1", 3)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ceiling reached - three existing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		expectTarget(mock, "r1", false, "reseller", "", true)
		mock.ExpectQuery("SELECT COUNT\\(DISTINCT id\\)").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectRollback()

		_, err = NewPostgresStore(db).Grant(ctx, "r1", 3)
		assert.ErrorIs(t, err, ErrCeilingReached)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already elevated", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		expectTarget(mock, "su1", false, "super-user", "", true)
		mock.ExpectRollback()

		_, err = NewPostgresStore(db).Grant(ctx, "su1", 3)
		assert.ErrorIs(t, err, ErrAlreadyElevated)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM user_org_index").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("FROM root_users").WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err = NewPostgresStore(db).Grant(ctx, "ghost", 3)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresStore_Revoke(t *testing.T) {
	ctx := context.Background()

	t.Run("root account without organization is deactivated", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM user_org_index").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("FROM root_users").
			WillReturnRows(sqlmock.NewRows([]string{"role", "organization_id", "is_active"}).AddRow("super-user", "", true))
		mock.ExpectExec("UPDATE root_users SET permissions = '\\{\\}'::jsonb, is_active = false").
			WithArgs("su2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		outcome, err := NewPostgresStore(db).Revoke(ctx, "su2")
		require.NoError(t, err)
		assert.Equal(t, RevokeDeactivated, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("partition account is demoted", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM user_org_index").
			WillReturnRows(sqlmock.NewRows([]string{"role", "organization_id", "is_active"}).AddRow("super-user", "org_1", true))
		mock.ExpectExec("UPDATE organization_users SET role = to_jsonb").
			WithArgs("u1", "business-owner").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		outcome, err := NewPostgresStore(db).Revoke(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, RevokeDemoted, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not elevated", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM user_org_index").
			WillReturnRows(sqlmock.NewRows([]string{"role", "organization_id", "is_active"}).AddRow("hr-manager", "org_1", true))
		mock.ExpectRollback()

		_, err = NewPostgresStore(db).Revoke(ctx, "u2")
		assert.ErrorIs(t, err, ErrNotElevated)
	})
}

func TestPostgresStore_Identity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE identity_accounts SET email = \\$2, email_verified = false").
		WithArgs("u1", "new@org1.test").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, store.UpdateIdentityEmail(ctx, "u1", "new@org1.test"))

	mock.ExpectExec("UPDATE identity_accounts SET password_hash").
		WithArgs("ghost", "hash").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.UpdatePasswordHash(ctx, "ghost", "hash"), ErrNotFound)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE root_users SET email").WithArgs("u1", "new@org1.test").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE organization_users SET email").WithArgs("u1", "new@org1.test").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	assert.NoError(t, store.UpdateProfileEmail(ctx, "u1", "new@org1.test"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListElevated(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM root_users (.+) UNION (.+) FROM organization_users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "organization_id", "updated_at"}).
			AddRow("su1", "one@platform.test", "", now).
			AddRow("u1", "owner@org1.test", "org_1", now.Add(-time.Hour)).
			AddRow("u1", "owner@org1.test", "org_1", now.Add(-2*time.Hour)))

	accounts, err := NewPostgresStore(db).ListElevated(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "org_1", accounts[1].OrganizationID)
}
