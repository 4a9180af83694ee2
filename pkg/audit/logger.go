package audit

import (
	"context"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/contextkeys"
)

// Logger is the sink for audit entries. Implementations append only.
type Logger interface {
	// Log records an entry
	Log(ctx context.Context, entry *Entry) error

	// Close flushes buffered entries
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return noOpLogger{}
}

// Record stamps the request id from ctx and writes entry
func Record(ctx context.Context, logger Logger, entry *Entry) error {
	if logger == nil {
		logger = FromContext(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = contextkeys.GetRequestID(ctx)
	}
	return logger.Log(ctx, entry)
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, entry *Entry) error { return nil }
func (noOpLogger) Close() error                                { return nil }
