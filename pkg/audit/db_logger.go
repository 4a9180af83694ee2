package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// DBLogger appends audit entries to PostgreSQL. It never updates or deletes
// rows.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_entries table: %w", err)
	}

	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
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
	`

	_, err := l.db.Exec(query)
	return err
}

// Log inserts entry
func (l *DBLogger) Log(ctx context.Context, entry *Entry) error {
	var detailsJSON []byte
	if len(entry.Details) > 0 {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_entries (
			id, timestamp, actor_uid, actor_email, actor_role,
			operation, success, severity, request_id, error_message, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := l.db.ExecContext(ctx, query,
		entry.ID, entry.Timestamp, entry.ActorUID, entry.ActorEmail, entry.ActorRole,
		string(entry.Operation), entry.Success, string(entry.Severity), entry.RequestID, entry.Error, detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// Search returns entries matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := `
		SELECT id, timestamp, actor_uid, actor_email, actor_role,
			operation, success, severity, request_id, error_message, details
		FROM audit_entries
		WHERE 1=1`

	var args []interface{}
	arg := func(clause string, value interface{}) {
		args = append(args, value)
		query += fmt.Sprintf(clause, len(args))
	}

	if filter.ActorUID != "" {
		arg(" AND actor_uid = $%d", filter.ActorUID)
	}
	if len(filter.Operations) > 0 {
		ops := make([]string, len(filter.Operations))
		for i, op := range filter.Operations {
			ops[i] = string(op)
		}
		arg(" AND operation = ANY($%d)", pq.Array(ops))
	}
	if filter.Success != nil {
		arg(" AND success = $%d", *filter.Success)
	}
	if filter.StartTime != nil {
		arg(" AND timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		arg(" AND timestamp <= $%d", *filter.EndTime)
	}

	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		arg(" LIMIT $%d", filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e                                      Entry
			actorUID, actorEmail, actorRole, reqID sql.NullString
			errMsg                                 sql.NullString
			operation, severity                    string
			detailsJSON                            []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &actorUID, &actorEmail, &actorRole,
			&operation, &e.Success, &severity, &reqID, &errMsg, &detailsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.ActorUID = actorUID.String
		e.ActorEmail = actorEmail.String
		e.ActorRole = actorRole.String
		e.RequestID = reqID.String
		e.Error = errMsg.String
		e.Operation = Operation(operation)
		e.Severity = Severity(strings.ToLower(severity))
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// Close is a no-op; the connection pool is shared
func (l *DBLogger) Close() error {
	return nil
}
