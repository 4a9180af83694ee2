package observability

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdownManager_Shutdown(t *testing.T) {
	t.Run("runs every registered function", func(t *testing.T) {
		sm := NewShutdownManager(NopLogger(), nil, time.Second)
		var calls int32
		for _, name := range []string{"database", "redis", "otel"} {
			sm.RegisterShutdownFunc(name, func(ctx context.Context) error {
				atomic.AddInt32(&calls, 1)
				return nil
			})
		}

		if err := sm.Shutdown(); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("collects errors", func(t *testing.T) {
		sm := NewShutdownManager(NopLogger(), nil, time.Second)
		boom := errors.New("close failed")
		sm.RegisterShutdownFunc("database", func(ctx context.Context) error { return boom })
		sm.RegisterShutdownFunc("redis", func(ctx context.Context) error { return nil })

		err := sm.Shutdown()
		if !errors.Is(err, boom) {
			t.Errorf("Shutdown() error = %v, want wrapping %v", err, boom)
		}
	})

	t.Run("times out", func(t *testing.T) {
		sm := NewShutdownManager(NopLogger(), nil, 20*time.Millisecond)
		sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		})

		if err := sm.Shutdown(); err == nil {
			t.Error("expected timeout error")
		}
	})

	t.Run("stops http server", func(t *testing.T) {
		server := &http.Server{Addr: "127.0.0.1:0"}
		sm := NewShutdownManager(NopLogger(), server, time.Second)
		if err := sm.Shutdown(); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
	})
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	var called int32
	sm.RegisterShutdownFunc("cache", func(ctx context.Context) error {
		atomic.StoreInt32(&called, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sm.WaitForShutdown(ctx); err != nil {
		t.Fatalf("WaitForShutdown() error = %v", err)
	}
	if atomic.LoadInt32(&called) != 1 {
		t.Error("shutdown function was not called")
	}
}

func TestDefaultShutdownTimeout(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, 0)
	if sm.shutdownTimeout != 30*time.Second {
		t.Errorf("shutdownTimeout = %v, want 30s", sm.shutdownTimeout)
	}
}
