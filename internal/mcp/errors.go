package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for session state checks.
var (
	// ErrNotConnected is returned when a request is attempted before the
	// command endpoint is known.
	ErrNotConnected = errors.New("mcp: session not connected")

	// ErrClosed is returned when the session has been closed.
	ErrClosed = errors.New("mcp: session closed")

	// ErrDuplicateID is returned when a request id is already awaiting
	// a response on the same session.
	ErrDuplicateID = errors.New("mcp: duplicate request id")
)

// ConnectionError reports that the gateway could not be reached or the
// event stream could not be opened. Fatal to the session.
type ConnectionError struct {
	URL        string
	StatusCode int // zero when no HTTP response was received
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connect %s: gateway returned %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports that the event stream ended, or violated the
// protocol, before the expected message arrived. Fatal to the session.
type ProtocolError struct {
	Endpoint string
	Method   string
	ID       int64
	Reason   string
	Err      error
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	b.WriteString("protocol error: ")
	b.WriteString(e.Reason)
	if e.Method != "" {
		fmt.Fprintf(&b, " (method=%s id=%d)", e.Method, e.ID)
	} else if e.ID != 0 {
		fmt.Fprintf(&b, " (id=%d)", e.ID)
	}
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " [%s]", e.Endpoint)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports that submitting a request failed at the HTTP
// layer: the POST could not be sent or the gateway refused it.
type TransportError struct {
	Endpoint   string
	Method     string
	ID         int64
	StatusCode int // zero when no HTTP response was received
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		msg := fmt.Sprintf("submit %s (id=%d) to %s: gateway returned %d", e.Method, e.ID, e.Endpoint, e.StatusCode)
		if e.Body != "" {
			msg += ": " + e.Body
		}
		return msg
	}
	return fmt.Sprintf("submit %s (id=%d) to %s: %v", e.Method, e.ID, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NoResultError reports a response that carried no result. When the
// response carried a JSON-RPC error instead, it is available through
// RPC and via errors.As.
type NoResultError struct {
	Method string
	Tool   string
	ID     int64
	RPC    *RPCError
}

func (e *NoResultError) Error() string {
	name := e.Method
	if e.Tool != "" {
		name = e.Tool
	}
	if e.RPC != nil {
		return fmt.Sprintf("no result from %s (id=%d): %v", name, e.ID, e.RPC)
	}
	return fmt.Sprintf("no result from %s (id=%d)", name, e.ID)
}

func (e *NoResultError) Unwrap() error {
	if e.RPC == nil {
		return nil
	}
	return e.RPC
}

// ToolError reports a tools/call result flagged with isError. Text is
// the tool's own description of the failure.
type ToolError struct {
	Tool string
	Text string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s returned error: %s", e.Tool, e.Text)
}
