// Package mcp implements the client side of an MCP (Model Context
// Protocol) session with a Hodor gateway.
//
// MCP uses JSON-RPC 2.0. The gateway offers two transports. The SSE
// transport opens a long-lived event stream, learns a session-specific
// command endpoint from the first event, POSTs requests to that endpoint
// and receives the answers out of band on the stream; responses are
// correlated to requests by id. The direct HTTP transport POSTs to a
// single endpoint and reads the answer from the response body.
//
// Both satisfy [Transport], so callers above this package do not care
// which one carries a session.
package mcp
