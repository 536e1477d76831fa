package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/hodor-mcp-client/internal/buildinfo"
)

// protocolVersion is the MCP protocol version we advertise during initialization.
const protocolVersion = "2024-11-05"

// Method names used by the client.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsCall   = "tools/call"
)

// ServerInfo identifies the gateway, as returned by initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result of an initialize call.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

// Client provides typed access to the MCP operations the gateway
// workflow needs. Request ids are chosen by the caller.
type Client struct {
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	serverName string
	serverVer  string
}

// NewClient creates an MCP client over transport.
func NewClient(transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport: transport,
		logger:    logger,
	}
}

// ServerName returns the server name reported by initialize, if any.
func (c *Client) ServerName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName
}

// ServerVersion returns the server version reported by initialize, if any.
func (c *Client) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVer
}

// Call sends a request and returns the raw response. JSON-RPC errors
// are left in the response for the caller to interpret.
func (c *Client) Call(ctx context.Context, id int64, method string, params any) (*Response, error) {
	start := time.Now()
	resp, err := c.transport.Send(ctx, NewRequest(id, method, params))
	if err != nil {
		c.logger.Debug("MCP call failed", "method", method, "id", id, "error", err)
		return nil, err
	}
	c.logger.Debug("MCP call completed",
		"method", method,
		"id", id,
		"has_result", resp.HasResult(),
		"has_error", resp.Error != nil,
		"elapsed", time.Since(start),
	)
	return resp, nil
}

// Initialize performs the initialize call. A response without a result
// yields a *NoResultError; whether that is fatal is the caller's choice.
func (c *Client) Initialize(ctx context.Context, id int64) (*InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      buildinfo.ClientInfo(),
	}

	resp, err := c.Call(ctx, id, MethodInitialize, params)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if !resp.HasResult() {
		return nil, &NoResultError{Method: MethodInitialize, ID: id, RPC: resp.Error}
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverName = result.ServerInfo.Name
	c.serverVer = result.ServerInfo.Version
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)
	return &result, nil
}

// Initialized sends the notifications/initialized notification that
// completes the handshake.
func (c *Client) Initialized(ctx context.Context) error {
	if err := c.transport.Notify(ctx, NewNotification(MethodInitialized, nil)); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// CallTool invokes tools/call for name and returns the unwrapped
// payload. A response without a result is a *NoResultError (wrapping
// the *RPCError if one was sent); a result flagged isError is a
// *ToolError.
func (c *Client) CallTool(ctx context.Context, id int64, name string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := c.Call(ctx, id, MethodToolsCall, params)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	if !resp.HasResult() {
		return nil, &NoResultError{Method: MethodToolsCall, Tool: name, ID: id, RPC: resp.Error}
	}
	if err := CheckToolError(name, resp.Result); err != nil {
		return nil, err
	}

	payload, err := UnwrapContent(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	return payload, nil
}

// Close shuts down the client and its transport.
func (c *Client) Close() error {
	c.logger.Debug("closing MCP client")
	return c.transport.Close()
}
