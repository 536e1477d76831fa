package mcp

import (
	"encoding/json"
	"fmt"
)

// jsonrpcVersion is the JSON-RPC protocol version used by MCP.
const jsonrpcVersion = "2.0"

// Request is a JSON-RPC 2.0 request message.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// NewRequest creates a JSON-RPC 2.0 request with the given method and
// params. Nil params are sent as an empty object; the gateway expects
// params to be present.
func NewRequest(id int64, method string, params any) *Request {
	if params == nil {
		params = map[string]any{}
	}
	return &Request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Response is a JSON-RPC 2.0 response message. Exactly one of Result
// or Error is set in a well-formed response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// HasResult reports whether the response carried a result member. A
// JSON null result counts as present.
func (r *Response) HasResult() bool {
	return r != nil && len(r.Result) > 0
}

// RPCError is a JSON-RPC 2.0 error object. It is the domain error of
// the protocol: the gateway understood the request and refused it.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Notification is a JSON-RPC 2.0 notification (no ID, no response expected).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification creates a JSON-RPC 2.0 notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	}
}

// inbound is the shape of any message arriving on the event stream. It
// distinguishes responses from server-initiated messages before the
// payload is decoded as a Response.
type inbound struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// decodeResponse decodes data as a JSON-RPC response. It reports false
// for messages that are not responses: requests and notifications from
// the server, or anything without a numeric id.
func decodeResponse(data []byte) (*Response, bool) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil || in.ID == nil {
		return nil, false
	}
	if in.Method != "" && len(in.Result) == 0 && len(in.Error) == 0 {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}
