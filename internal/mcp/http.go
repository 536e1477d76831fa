package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nugget/hodor-mcp-client/internal/config"
	"github.com/nugget/hodor-mcp-client/internal/httpkit"
)

// DefaultDirectPath is the gateway's single request/response endpoint.
const DefaultDirectPath = "/mcp"

// sessionHeader carries session affinity on the direct transport.
const sessionHeader = "Mcp-Session-Id"

// HTTPConfig configures a direct HTTP transport that POSTs each JSON-RPC
// request and reads the response from the POST body.
type HTTPConfig struct {
	// URL is the MCP endpoint, e.g. http://localhost:8080/mcp.
	URL string

	// RequestTimeout bounds each request (default 60s).
	RequestTimeout time.Duration

	// Headers are additional HTTP headers sent with every request.
	Headers map[string]string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// HTTPTransport communicates with the gateway over plain HTTP POSTs.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPTransport creates a direct HTTP transport for the given config.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = httpkit.DefaultRequestTimeout
	}

	return &HTTPTransport{
		url:     cfg.URL,
		headers: cfg.Headers,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithLogger(logger),
		),
		logger: logger.With("transport", "http"),
	}
}

// Send POSTs req and decodes the response body. A response whose id does
// not match the request is a *ProtocolError.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	httpResp, err := t.post(ctx, req.Method, req.ID, req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if httpResp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return nil, &TransportError{
			Endpoint:   t.url,
			Method:     req.Method,
			ID:         req.ID,
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(errBody),
		}
	}

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, &ProtocolError{Endpoint: t.url, Method: req.Method, ID: req.ID, Reason: "read response body", Err: err}
	}
	t.logger.Log(ctx, config.LevelTrace, "response", "body", string(respBody))

	resp, ok := decodeResponse(respBody)
	if !ok {
		return nil, &ProtocolError{Endpoint: t.url, Method: req.Method, ID: req.ID, Reason: "response body is not a JSON-RPC response"}
	}
	if resp.ID != req.ID {
		return nil, &ProtocolError{
			Endpoint: t.url,
			Method:   req.Method,
			ID:       req.ID,
			Reason:   fmt.Sprintf("response id %d does not match request", resp.ID),
		}
	}
	return resp, nil
}

// Notify POSTs a notification. 200 and 202 are both accepted.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Notification) error {
	httpResp, err := t.post(ctx, notif.Method, 0, notif)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return &TransportError{
			Endpoint:   t.url,
			Method:     notif.Method,
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(errBody),
		}
	}
	return nil
}

// Close is a no-op for HTTP transports.
func (t *HTTPTransport) Close() error {
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, method string, id int64, msg any) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Endpoint: t.url, Method: method, ID: id, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	t.mu.RLock()
	if t.sessionID != "" {
		httpReq.Header.Set(sessionHeader, t.sessionID)
	}
	t.mu.RUnlock()

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Endpoint: t.url, Method: method, ID: id, Err: err}
	}

	if sid := httpResp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return httpResp, nil
}
