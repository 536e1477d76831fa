package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// testBackoff returns a fast backoff config for tests.
func testBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   5,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

func TestDefaultBackoffConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultBackoffConfig()

	if cfg.InitialDelay != 1*time.Second {
		t.Errorf("InitialDelay = %v, want 1s", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 15*time.Second {
		t.Errorf("MaxDelay = %v, want 15s", cfg.MaxDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", cfg.Multiplier)
	}
	if cfg.MaxRetries != 8 {
		t.Errorf("MaxRetries = %d, want 8", cfg.MaxRetries)
	}
	if cfg.ProbeTimeout != 10*time.Second {
		t.Errorf("ProbeTimeout = %v, want 10s", cfg.ProbeTimeout)
	}
}

func TestBackoffDefaultsForZeroFields(t *testing.T) {
	t.Parallel()
	got := BackoffConfig{MaxRetries: 3}.withDefaults()
	if got.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3 (explicit value kept)", got.MaxRetries)
	}
	if got.InitialDelay != DefaultBackoffConfig().InitialDelay {
		t.Errorf("InitialDelay = %v, want default", got.InitialDelay)
	}
}

func TestWaitReady_ImmediateSuccess(t *testing.T) {
	t.Parallel()

	status, err := WaitReady(context.Background(), WaitConfig{
		Name:    "test-immediate",
		Probe:   func(ctx context.Context) error { return nil },
		Backoff: testBackoff(),
		Logger:  slog.Default(),
	})
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if !status.Ready || status.Attempts != 1 {
		t.Errorf("status = %+v, want ready after 1 attempt", status)
	}
}

func TestWaitReady_BackoffThenSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	status, err := WaitReady(context.Background(), WaitConfig{
		Name: "test-backoff",
		Probe: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("not yet")
			}
			return nil
		},
		Backoff: testBackoff(),
	})
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if status.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", status.Attempts)
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty after success", status.LastError)
	}
}

func TestWaitReady_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	probeErr := errors.New("connection refused")
	status, err := WaitReady(context.Background(), WaitConfig{
		Name: "test-exhaust",
		Probe: func(ctx context.Context) error {
			calls.Add(1)
			return probeErr
		},
		Backoff: testBackoff(),
	})
	if !errors.Is(err, probeErr) {
		t.Fatalf("WaitReady() error = %v, want %v", err, probeErr)
	}
	if calls.Load() != 5 {
		t.Errorf("probe called %d times, want 5", calls.Load())
	}
	if status.Ready || status.LastError != "connection refused" {
		t.Errorf("status = %+v", status)
	}
}

func TestWaitReady_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	backoff := testBackoff()
	backoff.InitialDelay = time.Hour
	backoff.MaxDelay = time.Hour

	done := make(chan error, 1)
	go func() {
		_, err := WaitReady(ctx, WaitConfig{
			Name:    "test-cancel",
			Probe:   func(ctx context.Context) error { return errors.New("down") },
			Backoff: backoff,
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitReady did not return after cancel")
	}
}

func TestWaitReady_ProbeTimeout(t *testing.T) {
	t.Parallel()

	backoff := testBackoff()
	backoff.MaxRetries = 1
	backoff.ProbeTimeout = 10 * time.Millisecond

	_, err := WaitReady(context.Background(), WaitConfig{
		Name: "test-timeout",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Backoff: backoff,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestProbe_Healthy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	if err := Probe(context.Background(), srv.Client(), srv.URL+"/"); err != nil {
		t.Errorf("Probe() = %v", err)
	}
}

func TestProbe_Unhealthy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "starting", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := Probe(context.Background(), srv.Client(), srv.URL)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Probe() = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusServiceUnavailable || se.Body != "starting" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestProbe_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	if err := Probe(context.Background(), http.DefaultClient, base); err == nil {
		t.Error("Probe() against a closed server should fail")
	}
}
