package hodor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/hodor-mcp-client/internal/mcp"
)

// Gateway meta-tools.
const (
	ToolFind   = "hodor-find"
	ToolSchema = "hodor-schema"
	ToolExec   = "hodor-exec"
)

// Preferred request ids for each step of a session.
const (
	idInitialize int64 = 1
	idFind       int64 = 2
	idSchema     int64 = 3
	idExec       int64 = 4
)

// InitializePolicy decides what a response to initialize without a
// result means.
type InitializePolicy int

const (
	// TolerateMissingResult logs and carries on. Some gateways answer
	// initialize with an empty message or an error and still serve
	// tools/call.
	TolerateMissingResult InitializePolicy = iota

	// RequireResult fails the session with the *mcp.NoResultError.
	RequireResult
)

// Connector is implemented by transports that need a handshake before
// the first request.
type Connector interface {
	Connect(ctx context.Context) error
}

// CallRecord describes one completed hodor-exec call.
type CallRecord struct {
	Tool      string
	Arguments map[string]any
	Result    json.RawMessage
	Err       error
	Started   time.Time
	Duration  time.Duration
}

// CallObserver is notified after every hodor-exec call, successful or
// not.
type CallObserver func(ctx context.Context, rec CallRecord)

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithInitializePolicy sets how a missing initialize result is handled.
func WithInitializePolicy(p InitializePolicy) Option {
	return func(g *Gateway) { g.initPolicy = p }
}

// WithCallObserver adds an observer for hodor-exec calls.
func WithCallObserver(obs CallObserver) Option {
	return func(g *Gateway) {
		if obs != nil {
			g.observers = append(g.observers, obs)
		}
	}
}

// Gateway runs the gateway's meta-tools over a single MCP session. Calls
// are sequential; ids follow the 1..4 sequence where possible and always
// increase.
type Gateway struct {
	transport  mcp.Transport
	client     *mcp.Client
	logger     *slog.Logger
	initPolicy InitializePolicy
	observers  []CallObserver

	mu     sync.Mutex
	lastID int64
}

// NewGateway wraps transport. The gateway owns it and closes it in Close.
func NewGateway(transport mcp.Transport, opts ...Option) *Gateway {
	g := &Gateway{
		transport: transport,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client = mcp.NewClient(transport, g.logger)
	return g
}

// nextID returns preferred unless it has already been used, in which
// case it returns the next unused id.
func (g *Gateway) nextID(preferred int64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if preferred <= g.lastID {
		preferred = g.lastID + 1
	}
	g.lastID = preferred
	return preferred
}

// Connect performs the transport handshake if the transport has one.
func (g *Gateway) Connect(ctx context.Context) error {
	c, ok := g.transport.(Connector)
	if !ok {
		return nil
	}
	return c.Connect(ctx)
}

// Initialize performs the initialize exchange and sends the initialized
// notification. Under TolerateMissingResult a response without a result
// yields a nil result and no error.
func (g *Gateway) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	result, err := g.client.Initialize(ctx, g.nextID(idInitialize))
	if err != nil {
		var nre *mcp.NoResultError
		if !errors.As(err, &nre) || g.initPolicy == RequireResult {
			return nil, err
		}
		g.logger.Warn("initialize returned no result, continuing", "error", err)
		result = nil
	}

	if err := g.client.Initialized(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// Find runs hodor-find and returns the matching catalog entries.
func (g *Gateway) Find(ctx context.Context, query string) ([]ToolDescriptor, error) {
	payload, err := g.client.CallTool(ctx, g.nextID(idFind), ToolFind, map[string]any{"query": query})
	if err != nil {
		return nil, err
	}

	var res findResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("%s: decode tool list: %w", ToolFind, err)
	}
	g.logger.Debug("tools found", "query", query, "count", len(res.Tools))
	return res.Tools, nil
}

// Schema runs hodor-schema for a qualified tool name and returns the
// input schema document.
func (g *Gateway) Schema(ctx context.Context, tool string) (json.RawMessage, error) {
	if _, _, err := SplitToolName(tool); err != nil {
		return nil, fmt.Errorf("%s: %w", ToolSchema, err)
	}
	return g.client.CallTool(ctx, g.nextID(idSchema), ToolSchema, map[string]any{"tool": tool})
}

// Exec runs hodor-exec for a qualified tool name. A JSON-RPC error is
// returned as a *mcp.NoResultError wrapping the *mcp.RPCError. Names not
// of the form server:tool are rejected without contacting the gateway.
func (g *Gateway) Exec(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	if _, _, err := SplitToolName(tool); err != nil {
		return nil, fmt.Errorf("%s: %w", ToolExec, err)
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	result, err := g.client.CallTool(ctx, g.nextID(idExec), ToolExec, map[string]any{
		"tool":      tool,
		"arguments": args,
	})
	elapsed := time.Since(start)

	if err != nil {
		g.logger.Warn("tool execution failed", "tool", tool, "elapsed", elapsed, "error", err)
	} else {
		g.logger.Info("tool executed", "tool", tool, "elapsed", elapsed)
	}

	rec := CallRecord{
		Tool:      tool,
		Arguments: args,
		Result:    result,
		Err:       err,
		Started:   start,
		Duration:  elapsed,
	}
	for _, obs := range g.observers {
		obs(ctx, rec)
	}
	return result, err
}

// ServerName returns the name the gateway reported during initialize.
func (g *Gateway) ServerName() string {
	return g.client.ServerName()
}

// Close closes the underlying transport.
func (g *Gateway) Close() error {
	return g.client.Close()
}
