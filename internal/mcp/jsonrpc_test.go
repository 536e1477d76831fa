package mcp

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRequest(t *testing.T) {
	req := NewRequest(42, "tools/call", map[string]any{"name": "hodor-find"})

	if req.JSONRPC != "2.0" {
		t.Errorf("JSONRPC = %q, want %q", req.JSONRPC, "2.0")
	}
	if req.ID != 42 {
		t.Errorf("ID = %d, want 42", req.ID)
	}
	if req.Method != "tools/call" {
		t.Errorf("Method = %q, want %q", req.Method, "tools/call")
	}
}

func TestRequestMarshalRoundtrip(t *testing.T) {
	req := NewRequest(1, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
	})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Request
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.JSONRPC != req.JSONRPC {
		t.Errorf("JSONRPC = %q, want %q", decoded.JSONRPC, req.JSONRPC)
	}
	if decoded.ID != req.ID {
		t.Errorf("ID = %d, want %d", decoded.ID, req.ID)
	}
	if decoded.Method != req.Method {
		t.Errorf("Method = %q, want %q", decoded.Method, req.Method)
	}
}

func TestRequestNilParamsSentAsEmptyObject(t *testing.T) {
	data, err := json.Marshal(NewRequest(1, "initialize", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"params":{}`) {
		t.Errorf("nil params should be sent as {}, got: %s", data)
	}
}

func TestResponseUnmarshal(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.ID != 1 {
		t.Errorf("ID = %d, want 1", resp.ID)
	}
	if resp.Error != nil {
		t.Errorf("unexpected error: %v", resp.Error)
	}
	if !resp.HasResult() {
		t.Error("expected result")
	}
}

func TestResponseUnmarshalError(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"Method not found"}}`

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Error == nil {
		t.Fatal("expected error, got nil")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("Error.Code = %d, want -32601", resp.Error.Code)
	}
	if resp.HasResult() {
		t.Error("error response should have no result")
	}
}

func TestResponseNullResultCountsAsPresent(t *testing.T) {
	resp, ok := decodeResponse([]byte(`{"jsonrpc":"2.0","id":3,"result":null}`))
	if !ok {
		t.Fatal("decodeResponse rejected a response with a null result")
	}
	if !resp.HasResult() {
		t.Error("null result should count as present")
	}
}

func TestRPCErrorString(t *testing.T) {
	e := &RPCError{Code: -32600, Message: "Invalid Request"}
	want := "jsonrpc error -32600: Invalid Request"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotification(t *testing.T) {
	n := NewNotification("notifications/initialized", nil)

	if n.JSONRPC != "2.0" {
		t.Errorf("JSONRPC = %q, want %q", n.JSONRPC, "2.0")
	}
	if n.Method != "notifications/initialized" {
		t.Errorf("Method = %q, want %q", n.Method, "notifications/initialized")
	}
}

func TestNotificationOmitsNilParams(t *testing.T) {
	n := NewNotification("notifications/initialized", nil)
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["params"]; ok {
		t.Error("nil params should be omitted from JSON")
	}
	if _, ok := raw["id"]; ok {
		t.Error("notifications must not carry an id")
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		wantOK bool
		wantID int64
	}{
		{"result", `{"jsonrpc":"2.0","id":4,"result":{}}`, true, 4},
		{"error", `{"jsonrpc":"2.0","id":5,"error":{"code":-1,"message":"x"}}`, true, 5},
		{"neither member", `{"jsonrpc":"2.0","id":6}`, true, 6},
		{"no id", `{"jsonrpc":"2.0","result":{}}`, false, 0},
		{"string id", `{"jsonrpc":"2.0","id":"abc","result":{}}`, false, 0},
		{"server request", `{"jsonrpc":"2.0","id":9,"method":"ping"}`, false, 0},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/message"}`, false, 0},
		{"endpoint event", `{"url":"/messages?session=abc"}`, false, 0},
		{"not json", `hello`, false, 0},
		{"array", `[1,2]`, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, ok := decodeResponse([]byte(tt.data))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && resp.ID != tt.wantID {
				t.Errorf("ID = %d, want %d", resp.ID, tt.wantID)
			}
		})
	}
}
