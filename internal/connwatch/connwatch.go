// Package connwatch checks that the gateway is reachable before a
// session is attempted, optionally waiting for it with exponential
// backoff.
//
// This is a precondition check only. The MCP session itself never
// retries or reconnects; connwatch is for the minutes after a gateway
// restart, when the caller would rather wait than fail.
package connwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/hodor-mcp-client/internal/httpkit"
)

// DefaultHealthPath is the gateway's liveness endpoint.
const DefaultHealthPath = "/health"

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// StatusError reports a probe that reached the service but got an
// unexpected HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// HTTPProbe returns a probe that GETs baseURL+path and expects 200.
func HTTPProbe(client *http.Client, baseURL, path string) ProbeFunc {
	target := strings.TrimRight(baseURL, "/") + path
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("GET %s: %w", target, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("GET %s: %w", target, err)
		}
		defer httpkit.DrainAndClose(resp.Body, 64<<10)

		if resp.StatusCode != http.StatusOK {
			return &StatusError{
				URL:        target,
				StatusCode: resp.StatusCode,
				Body:       strings.TrimSpace(httpkit.ReadErrorBody(resp.Body, 512)),
			}
		}
		return nil
	}
}

// Probe checks the gateway's health endpoint once.
func Probe(ctx context.Context, client *http.Client, baseURL string) error {
	return HTTPProbe(client, baseURL, DefaultHealthPath)(ctx)
}

// BackoffConfig controls the exponential backoff behavior.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry (default: 1s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 15s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry (default: 2.0).
	Multiplier float64

	// MaxRetries is the maximum number of probe attempts (default: 8).
	MaxRetries int

	// ProbeTimeout limits how long each individual probe call may take (default: 10s).
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig returns a schedule of 1s, 2s, 4s, 8s, 15s
// (capped) over 8 attempts, a little under a minute in total.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   8,
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults replaces zero-value fields with defaults.
func (c BackoffConfig) withDefaults() BackoffConfig {
	defaults := DefaultBackoffConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = defaults.Multiplier
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaults.ProbeTimeout
	}
	return c
}

// ServiceStatus is the health status of a probed service, suitable for
// JSON output.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Attempts  int       `json:"attempts"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// WaitConfig configures WaitReady.
type WaitConfig struct {
	// Name is a human-readable identifier for logging (e.g., "gateway").
	Name string

	// Probe checks service health.
	Probe ProbeFunc

	// Backoff controls retry timing. Zero-value fields take defaults.
	Backoff BackoffConfig

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// WaitReady probes until the service answers, the attempts run out, or
// ctx is done. It returns the final status and the last probe error.
func WaitReady(ctx context.Context, cfg WaitConfig) (ServiceStatus, error) {
	if cfg.Probe == nil {
		panic("connwatch: WaitConfig.Probe must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff.withDefaults()

	status := ServiceStatus{Name: cfg.Name}
	delay := backoff.InitialDelay
	var err error
	for attempt := 1; attempt <= backoff.MaxRetries; attempt++ {
		err = probe(ctx, cfg.Probe, backoff.ProbeTimeout)
		status.Attempts = attempt
		status.LastCheck = time.Now()

		if err == nil {
			status.Ready = true
			status.LastError = ""
			logger.Info("service ready",
				"service", cfg.Name,
				"after_attempts", attempt,
			)
			return status, nil
		}
		status.LastError = err.Error()

		if attempt == backoff.MaxRetries {
			break
		}

		logger.Debug("probe failed, retrying",
			"service", cfg.Name,
			"attempt", attempt,
			"max_retries", backoff.MaxRetries,
			"next_delay", delay.String(),
			"error", err,
		)

		if !sleepCtx(ctx, delay) {
			return status, ctx.Err()
		}

		// Grow delay with ceiling.
		delay = time.Duration(float64(delay) * backoff.Multiplier)
		if delay > backoff.MaxDelay {
			delay = backoff.MaxDelay
		}
	}

	logger.Warn("service not ready",
		"service", cfg.Name,
		"attempts", status.Attempts,
		"error", err,
	)
	return status, err
}

// probe calls p with a timeout.
func probe(ctx context.Context, p ProbeFunc, timeout time.Duration) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p(probeCtx)
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
