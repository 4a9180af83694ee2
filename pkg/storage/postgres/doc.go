// Package postgres opens the PostgreSQL and Redis connections shared by the
// claims, superuser, audit and billing stores, and owns the database schema.
//
//	db, err := postgres.Open(ctx, postgres.Options{URL: cfg.Database.URL})
//	if err := postgres.Migrate(ctx, db, logger); err != nil { ... }
//
// Migrations are versioned and applied in order under a session advisory
// lock, so several instances starting together apply each one exactly once.
package postgres
