package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{"custom timeout", 10 * time.Second, 10 * time.Second},
		{"zero timeout uses default", 0, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(InfoLevel, io.Discard)
			server := &http.Server{}

			sm := NewShutdownManager(logger, server, tt.timeout)

			if sm == nil {
				t.Fatal("expected non-nil shutdown manager")
			}
			if sm.server != server {
				t.Error("server not set")
			}
			if sm.shutdownTimeout != tt.expectedTimeout {
				t.Errorf("expected timeout %v, got %v", tt.expectedTimeout, sm.shutdownTimeout)
			}
			if len(sm.shutdownFuncs) != 0 {
				t.Error("expected empty shutdown function list")
			}
		})
	}
}

func TestNewShutdownManager_NilLogger(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 5*time.Second)
	if sm == nil {
		t.Fatal("expected non-nil shutdown manager")
	}
}

func TestRegisterShutdownFunc(t *testing.T) {
	logger := NewLogger(InfoLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, 5*time.Second)

	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })

	if len(sm.shutdownFuncs) != 2 {
		t.Errorf("expected 2 shutdown functions, got %d", len(sm.shutdownFuncs))
	}

	// Registration may race with goroutines closing connections at shutdown.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()

	if len(sm.shutdownFuncs) != 12 {
		t.Errorf("expected 12 shutdown functions, got %d", len(sm.shutdownFuncs))
	}
}

// runShutdown drives the manager's shutdown sequence without sending a signal.
func runShutdown(sm *ShutdownManager) error {
	return sm.shutdown()
}

func TestShutdown_RunsAllFuncs(t *testing.T) {
	logger := NewLogger(InfoLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, 5*time.Second)

	var mu sync.Mutex
	closed := map[string]bool{}
	for _, name := range []string{"database", "redis", "tracer"} {
		name := name
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			mu.Lock()
			closed[name] = true
			mu.Unlock()
			return nil
		})
	}

	if err := runShutdown(sm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, name := range []string{"database", "redis", "tracer"} {
		if !closed[name] {
			t.Errorf("shutdown function for %s was not run", name)
		}
	}
}

func TestShutdown_CollectsErrors(t *testing.T) {
	logger := NewLogger(InfoLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, 5*time.Second)

	sm.RegisterShutdownFunc(func(ctx context.Context) error { return errors.New("redis close failed") })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return errors.New("db close failed") })

	err := runShutdown(sm)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "shutdown completed with 2 errors" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestShutdown_Timeout(t *testing.T) {
	logger := NewLogger(InfoLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, 200*time.Millisecond)

	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-time.After(2 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	start := time.Now()
	err := runShutdown(sm)
	elapsed := time.Since(start)

	if err == nil || err.Error() != "shutdown timeout reached" {
		t.Errorf("expected timeout error, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("shutdown should have given up at the timeout, took %v", elapsed)
	}
}

func TestShutdown_FuncsRunConcurrently(t *testing.T) {
	logger := NewLogger(InfoLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, 5*time.Second)

	for i := 0; i < 3; i++ {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		})
	}

	start := time.Now()
	if err := runShutdown(sm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("shutdown functions did not run concurrently: %v", elapsed)
	}
}

func TestShutdown_NilFuncsSkipped(t *testing.T) {
	logger := NewLogger(InfoLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, 5*time.Second)

	sm.RegisterShutdownFunc(nil)
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })

	if err := runShutdown(sm); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestShutdown_StopsHTTPServer(t *testing.T) {
	logger := NewLogger(InfoLevel, io.Discard)

	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	server.Start()
	defer server.Close()

	sm := NewShutdownManager(logger, server.Config, 5*time.Second)

	if err := runShutdown(sm); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestShutdown_ContextHasDeadline(t *testing.T) {
	logger := NewLogger(InfoLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, 2*time.Second)

	var hasDeadline bool
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})

	if err := runShutdown(sm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasDeadline {
		t.Error("shutdown context should carry a deadline")
	}
}
