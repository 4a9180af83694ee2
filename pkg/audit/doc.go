// Package audit records privileged operations in an append-only log.
//
// Every authorization decision, account change and billing side effect that
// crosses a trust boundary produces one Entry:
//
//	entry := audit.NewEntry(audit.OpGrantSuperUser).
//		WithActor(uid, email, role).
//		WithSeverity(audit.SeverityCritical).
//		WithDetail("target_uid", target).
//		Outcome(err)
//	audit.Record(ctx, logger, entry)
//
// Sinks: DBLogger (PostgreSQL audit_entries), StreamLogger (JSON lines via
// logrus), MemoryLogger (tests, local runs) and MultiLogger to combine them.
package audit
