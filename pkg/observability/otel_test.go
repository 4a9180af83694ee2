package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NopLogger())
	if err != nil {
		t.Fatalf("InitOTel() error = %v", err)
	}
	if providers != nil {
		t.Error("expected nil providers when disabled")
	}
	if err := ShutdownOTel(context.Background(), providers, NopLogger()); err != nil {
		t.Errorf("ShutdownOTel(nil) error = %v", err)
	}
}

func TestInitOTel_RequiresServiceName(t *testing.T) {
	_, err := InitOTel(context.Background(), OTelConfig{Enabled: true, Endpoint: "localhost:4317"}, NopLogger())
	if err == nil {
		t.Error("expected error for missing service name")
	}
}

func TestUpdateLoggerWithTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("no span leaves logger untouched", func(t *testing.T) {
		if got := UpdateLoggerWithTraceContext(context.Background(), logger); got != logger {
			t.Error("expected same logger without a recording span")
		}
	})

	t.Run("recording span adds ids", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())

		ctx, span := tp.Tracer("test").Start(context.Background(), "issueClaims")
		defer span.End()

		UpdateLoggerWithTraceContext(ctx, logger).Info("traced")
		if !strings.Contains(buf.String(), span.SpanContext().TraceID().String()) {
			t.Errorf("expected trace id in %q", buf.String())
		}
	})
}
