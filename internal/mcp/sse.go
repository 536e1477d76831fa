package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nugget/hodor-mcp-client/internal/config"
	"github.com/nugget/hodor-mcp-client/internal/httpkit"
	"github.com/nugget/hodor-mcp-client/internal/sse"
)

// DefaultSSEPath is the gateway's event stream path.
const DefaultSSEPath = "/sse"

// maxBuffered bounds responses held for ids nobody is waiting on yet.
const maxBuffered = 256

// State is the lifecycle state of an SSE session.
type State int

// Session states. Requests are only accepted in StateReady.
const (
	StateUnconnected State = iota
	StateConnecting        // stream open, endpoint not yet known
	StateReady             // endpoint known
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SSEConfig configures an SSE session with a gateway.
type SSEConfig struct {
	// BaseURL is the gateway address, e.g. http://localhost:8080.
	BaseURL string

	// SSEPath is appended to BaseURL to open the stream (default /sse).
	SSEPath string

	// ConnectTimeout bounds opening the stream (default 10s).
	ConnectTimeout time.Duration

	// RequestTimeout bounds each command submission (default 60s).
	RequestTimeout time.Duration

	// Headers are additional HTTP headers sent with every request.
	Headers map[string]string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// endpointEvent is the payload of the stream's first event.
type endpointEvent struct {
	URL string `json:"url"`
}

// SSETransport is a session with a gateway over an event stream plus
// command POSTs. Responses arrive on the stream and are dispatched by a
// reader goroutine to the waiter registered for their id; responses for
// ids nobody awaits yet are buffered until someone does.
type SSETransport struct {
	streamURL    string
	base         *url.URL
	headers      map[string]string
	client       *http.Client
	streamClient *http.Client
	logger       *slog.Logger

	mu          sync.Mutex
	state       State
	endpoint    string
	endpointURL string
	body        io.ReadCloser
	cancel      context.CancelFunc
	pending     map[int64]chan *Response
	buffered    map[int64]*Response
	done        chan struct{}
	readErr     error
}

// NewSSETransport creates an unconnected session. Call Connect before
// sending requests.
func NewSSETransport(cfg SSEConfig) (*SSETransport, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("parse base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	path := cfg.SSEPath
	if path == "" {
		path = DefaultSSEPath
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = httpkit.DefaultConnectTimeout
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = httpkit.DefaultRequestTimeout
	}

	return &SSETransport{
		streamURL: base.String() + path,
		base:      base,
		headers:   cfg.Headers,
		client: httpkit.NewClient(
			httpkit.WithTimeout(requestTimeout),
			httpkit.WithConnectTimeout(connectTimeout),
			httpkit.WithLogger(logger),
		),
		streamClient: httpkit.NewStreamingClient(
			httpkit.WithConnectTimeout(connectTimeout),
			httpkit.WithLogger(logger),
		),
		logger:   logger.With("transport", "sse"),
		pending:  make(map[int64]chan *Response),
		buffered: make(map[int64]*Response),
	}, nil
}

// State returns the session's lifecycle state.
func (t *SSETransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Endpoint returns the command endpoint exactly as the gateway sent it,
// or "" before Connect succeeds.
func (t *SSETransport) Endpoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endpoint
}

// EndpointURL returns the command endpoint resolved against the base
// address.
func (t *SSETransport) EndpointURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endpointURL
}

// Connect opens the event stream and reads its first event to learn the
// command endpoint. ctx bounds only the handshake; the stream stays open
// until Close. Failure to open the stream is a *ConnectionError; a
// stream that ends or carries no endpoint is a *ProtocolError.
func (t *SSETransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateUnconnected {
		st := t.state
		t.mu.Unlock()
		if st == StateClosed {
			return ErrClosed
		}
		return fmt.Errorf("connect: session already %s", st)
	}
	t.state = StateConnecting
	t.mu.Unlock()

	streamCtx, cancel := context.WithCancel(context.Background())
	stopHandshake := context.AfterFunc(ctx, cancel)

	fail := func(err error) error {
		stopHandshake()
		cancel()
		t.mu.Lock()
		t.state = StateClosed
		t.mu.Unlock()
		return err
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.streamURL, nil)
	if err != nil {
		return fail(&ConnectionError{URL: t.streamURL, Err: err})
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	t.logger.Debug("opening event stream", "url", t.streamURL)

	resp, err := t.streamClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return fail(&ConnectionError{URL: t.streamURL, Err: err})
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		return fail(&ConnectionError{
			URL:        t.streamURL,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(body)),
		})
	}

	dec := sse.NewDecoder(resp.Body, sse.WithLogger(t.logger))
	first, err := dec.Next()
	if err != nil {
		resp.Body.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return fail(&ProtocolError{
			Endpoint: t.streamURL,
			Reason:   "stream closed before command endpoint was received",
			Err:      err,
		})
	}

	var ep endpointEvent
	if err := json.Unmarshal(first.Data, &ep); err != nil || ep.URL == "" {
		resp.Body.Close()
		return fail(&ProtocolError{
			Endpoint: t.streamURL,
			Reason:   fmt.Sprintf("first event (%q) carries no command endpoint", first.Type),
			Err:      err,
		})
	}

	ref, err := url.Parse(ep.URL)
	if err != nil {
		resp.Body.Close()
		return fail(&ProtocolError{
			Endpoint: t.streamURL,
			Reason:   fmt.Sprintf("invalid command endpoint %q", ep.URL),
			Err:      err,
		})
	}

	// The handshake is over; from here on only Close ends the stream.
	if !stopHandshake() {
		resp.Body.Close()
		return fail(&ConnectionError{URL: t.streamURL, Err: ctx.Err()})
	}

	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		cancel()
		resp.Body.Close()
		return ErrClosed
	}
	t.endpoint = ep.URL
	t.endpointURL = t.base.ResolveReference(ref).String()
	t.body = resp.Body
	t.cancel = cancel
	t.done = make(chan struct{})
	t.state = StateReady
	t.mu.Unlock()

	t.logger.Info("session connected",
		"stream", t.streamURL,
		"endpoint", t.endpointURL,
	)

	go t.readLoop(dec)
	return nil
}

// readLoop dispatches every response on the stream to its waiter until
// the stream ends.
func (t *SSETransport) readLoop(dec *sse.Decoder) {
	var loopErr error
	for ev, err := range dec.All() {
		if err != nil {
			loopErr = err
			break
		}
		t.logger.Log(context.Background(), config.LevelTrace, "stream event",
			"event", ev.Type,
			"data", string(ev.Data),
		)

		resp, ok := decodeResponse(ev.Data)
		if !ok {
			t.logger.Debug("ignoring non-response stream event", "event", ev.Type)
			continue
		}
		t.deliver(resp)
	}
	if loopErr == nil {
		loopErr = io.EOF
	}

	t.mu.Lock()
	if t.state != StateClosed {
		t.logger.Warn("event stream ended", "error", loopErr)
	}
	t.state = StateClosed
	t.readErr = loopErr
	close(t.done)
	t.mu.Unlock()
}

func (t *SSETransport) deliver(resp *Response) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// The slot stays registered until Await claims it, so an answer that
	// lands before Await runs is not lost.
	if ch, ok := t.pending[resp.ID]; ok {
		select {
		case ch <- resp:
		default:
			t.logger.Warn("dropping duplicate response", "id", resp.ID)
		}
		return
	}

	if len(t.buffered) >= maxBuffered {
		t.logger.Warn("dropping unclaimed response, buffer full", "id", resp.ID)
		return
	}
	t.logger.Debug("buffering response with no waiter", "id", resp.ID)
	t.buffered[resp.ID] = resp
}

// Submit POSTs req to the command endpoint and registers a waiter for
// its id. The gateway acknowledges with 202; the answer arrives later
// on the stream and is collected with Await. A failed POST is a
// *TransportError and closes the session.
func (t *SSETransport) Submit(ctx context.Context, req *Request) error {
	t.mu.Lock()
	if err := t.readyLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	if _, dup := t.pending[req.ID]; dup {
		t.mu.Unlock()
		return fmt.Errorf("submit %s: %w: %d", req.Method, ErrDuplicateID, req.ID)
	}
	t.pending[req.ID] = make(chan *Response, 1)
	endpoint := t.endpointURL
	t.mu.Unlock()

	if err := t.post(ctx, endpoint, req.Method, req.ID, req); err != nil {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		t.closeOn(err)
		return err
	}
	return nil
}

// Await blocks until the response for id arrives, the stream ends, or
// ctx is done. A response that arrived before Await was called is
// returned immediately. A stream that ends first is a *ProtocolError.
func (t *SSETransport) Await(ctx context.Context, id int64) (*Response, error) {
	t.mu.Lock()
	if resp, ok := t.buffered[id]; ok {
		delete(t.buffered, id)
		t.mu.Unlock()
		return resp, nil
	}
	if t.done == nil {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	ch, ok := t.pending[id]
	if !ok {
		ch = make(chan *Response, 1)
		t.pending[id] = ch
	}
	done := t.done
	endpoint := t.endpointURL
	t.mu.Unlock()

	select {
	case resp := <-ch:
		t.release(id)
		return resp, nil
	case <-done:
		// The reader may have delivered just before exiting.
		select {
		case resp := <-ch:
			t.release(id)
			return resp, nil
		default:
		}
		t.mu.Lock()
		delete(t.pending, id)
		readErr := t.readErr
		t.mu.Unlock()
		return nil, &ProtocolError{
			Endpoint: endpoint,
			ID:       id,
			Reason:   "stream closed while awaiting response",
			Err:      readErr,
		}
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

// release frees the slot for id once its response has been claimed.
func (t *SSETransport) release(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Send submits req and waits for its response.
func (t *SSETransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := t.Submit(ctx, req); err != nil {
		return nil, err
	}
	resp, err := t.Await(ctx, req.ID)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			perr.Method = req.Method
		}
		return nil, err
	}
	return resp, nil
}

// Notify POSTs a notification to the command endpoint.
func (t *SSETransport) Notify(ctx context.Context, notif *Notification) error {
	t.mu.Lock()
	if err := t.readyLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	endpoint := t.endpointURL
	t.mu.Unlock()

	if err := t.post(ctx, endpoint, notif.Method, 0, notif); err != nil {
		t.closeOn(err)
		return err
	}
	return nil
}

// Close ends the stream and waits for the reader to exit. Waiters
// blocked in Await fail with a *ProtocolError. Close is idempotent.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	prev := t.state
	t.state = StateClosed
	cancel, body, done := t.cancel, t.body, t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if body != nil {
		body.Close()
	}
	if done != nil {
		<-done
	}
	if prev != StateClosed {
		t.logger.Debug("session closed")
	}
	return nil
}

func (t *SSETransport) readyLocked() error {
	switch t.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotConnected
	}
}

// closeOn tears the session down after a fatal submission error.
func (t *SSETransport) closeOn(err error) {
	t.logger.Warn("closing session after submission failure", "error", err)
	_ = t.Close()
}

func (t *SSETransport) post(ctx context.Context, endpoint, method string, id int64, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	t.logger.Log(ctx, config.LevelTrace, "submitting",
		"endpoint", endpoint,
		"body", string(body),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Endpoint: endpoint, Method: method, ID: id, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Method: method, ID: id, Err: err}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return &TransportError{
			Endpoint:   endpoint,
			Method:     method,
			ID:         id,
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(errBody),
		}
	}
	httpkit.DrainAndClose(httpResp.Body, 1<<20)

	t.logger.Debug("request submitted",
		"method", method,
		"id", id,
		"status", httpResp.StatusCode,
		"elapsed", time.Since(start),
	)
	return nil
}
