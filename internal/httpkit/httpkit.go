// Package httpkit builds the HTTP clients used to talk to the gateway.
//
// The gateway protocol needs two shapes of client. Command submission,
// status and health calls are ordinary request/response exchanges with
// an overall deadline. The event stream is a single long-lived GET whose
// body must never be cut off by a client timeout; only establishing the
// connection and receiving the response headers are bounded.
package httpkit

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/hodor-mcp-client/internal/buildinfo"
)

// Default timeouts and connection pool limits.
const (
	// DefaultConnectTimeout bounds TCP dial and, for streams, the wait for
	// response headers.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultRequestTimeout is the overall deadline for non-streaming
	// requests. Tool execution behind a submission may be slow.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultKeepAlive is the interval between TCP keep-alive probes.
	DefaultKeepAlive = 30 * time.Second

	// DefaultIdleConnTimeout is how long idle connections stay in the pool.
	DefaultIdleConnTimeout = 90 * time.Second

	// DefaultMaxIdleConnsPerHost is the per-host idle connection limit.
	DefaultMaxIdleConnsPerHost = 4
)

// ClientOption configures a Client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout        time.Duration
	connectTimeout time.Duration
	userAgent      string
	skipUserAgent  bool
	transport      *http.Transport
	logger         *slog.Logger
}

// WithTimeout sets the overall request timeout on the http.Client.
// A zero value disables the timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithConnectTimeout sets the dial timeout.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.connectTimeout = d }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) { c.userAgent = ua }
}

// WithoutUserAgent disables the automatic User-Agent roundtripper.
func WithoutUserAgent() ClientOption {
	return func(c *clientConfig) { c.skipUserAgent = true }
}

// WithTransport overrides the default transport.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// WithLogger sets a logger for request diagnostics at debug level.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// NewTransport creates an http.Transport whose dial is bounded by
// connectTimeout.
func NewTransport(connectTimeout time.Duration) *http.Transport {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:   true,
	}
}

// NewClient builds an *http.Client for request/response calls.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout:        DefaultRequestTimeout,
		connectTimeout: DefaultConnectTimeout,
		userAgent:      buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(cfg)
	}

	t := cfg.transport
	if t == nil {
		t = NewTransport(cfg.connectTimeout)
	}

	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: wrap(t, cfg),
	}
}

// NewStreamingClient builds an *http.Client for event streams. It has no
// overall timeout; the connect timeout bounds the dial and the wait for
// response headers, after which the body may stay open indefinitely.
func NewStreamingClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		connectTimeout: DefaultConnectTimeout,
		userAgent:      buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(cfg)
	}

	t := cfg.transport
	if t == nil {
		t = NewTransport(cfg.connectTimeout)
		t.ResponseHeaderTimeout = cfg.connectTimeout
	}

	return &http.Client{
		Timeout:   0,
		Transport: wrap(t, cfg),
	}
}

func wrap(t *http.Transport, cfg *clientConfig) http.RoundTripper {
	var rt http.RoundTripper = t
	if !cfg.skipUserAgent {
		rt = &userAgentTransport{base: rt, ua: cfg.userAgent}
	}
	if cfg.logger != nil {
		rt = &loggingTransport{base: rt, logger: cfg.logger}
	}
	return rt
}

// userAgentTransport injects the User-Agent header on every request
// unless one is already set.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		// Clone the request to avoid mutating the original, per RoundTripper contract.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// loggingTransport logs each round trip at debug level.
type loggingTransport struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Debug("http round trip failed",
			"method", req.Method,
			"url", req.URL.String(),
			"elapsed", time.Since(start),
			"error", err,
		)
		return nil, err
	}
	t.logger.Debug("http round trip",
		"method", req.Method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)
	return resp, nil
}

// DrainAndClose reads up to limit bytes from rc and closes it.
// Use to ensure HTTP connections are returned to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes from rc for error messages,
// then drains and closes the remainder to allow connection reuse.
// Returns an empty string if rc is nil.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
