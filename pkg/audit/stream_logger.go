package audit

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// StreamLogger writes entries as JSON lines. Severity maps to the log level so
// critical entries surface as warnings in log aggregation.
type StreamLogger struct {
	log *logrus.Logger
}

// NewStreamLogger creates a stream logger writing to out
func NewStreamLogger(out io.Writer) *StreamLogger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})
	log.SetLevel(logrus.InfoLevel)
	return &StreamLogger{log: log}
}

// Log writes entry as one JSON line
func (l *StreamLogger) Log(ctx context.Context, entry *Entry) error {
	fields := logrus.Fields{
		"audit_id":  entry.ID,
		"operation": string(entry.Operation),
		"success":   entry.Success,
		"severity":  string(entry.Severity),
	}
	if entry.ActorUID != "" {
		fields["actor_uid"] = entry.ActorUID
	}
	if entry.ActorEmail != "" {
		fields["actor_email"] = entry.ActorEmail
	}
	if entry.ActorRole != "" {
		fields["actor_role"] = entry.ActorRole
	}
	if entry.RequestID != "" {
		fields["request_id"] = entry.RequestID
	}
	if entry.Error != "" {
		fields["error"] = entry.Error
	}
	if len(entry.Details) > 0 {
		fields["details"] = entry.Details
	}

	e := l.log.WithFields(fields).WithTime(entry.Timestamp)
	if entry.Severity == SeverityInfo && entry.Success {
		e.Info("audit")
	} else {
		e.Warn("audit")
	}
	return nil
}

// Close is a no-op
func (l *StreamLogger) Close() error {
	return nil
}
