package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentBlock is a single content item in a tools/call response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the result payload of a tools/call response.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// UnwrapContent returns the domain payload of a call result.
//
// MCP wraps call results in a content envelope whose first item's text
// holds the JSON-encoded payload. If result carries a non-empty content
// array, that text is returned: as-is when it is valid JSON, otherwise
// encoded as a JSON string. An empty text yields an empty object.
// Results without content are their own payload.
func UnwrapContent(result json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("unwrap content: empty result")
	}
	if trimmed[0] != '{' {
		return result, nil
	}

	var env struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("unwrap content: %w", err)
	}
	var blocks []ContentBlock
	if len(env.Content) == 0 || json.Unmarshal(env.Content, &blocks) != nil || len(blocks) == 0 {
		return result, nil
	}

	text := strings.TrimSpace(blocks[0].Text)
	if text == "" {
		return json.RawMessage(`{}`), nil
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}

	quoted, err := json.Marshal(blocks[0].Text)
	if err != nil {
		return nil, fmt.Errorf("unwrap content: %w", err)
	}
	return quoted, nil
}

// WrapContent encodes v as a single-item text content envelope, the
// shape the gateway uses for every tools/call result.
func WrapContent(v any) (json.RawMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wrap content: %w", err)
	}
	return json.Marshal(CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: string(payload)}},
	})
}

// CheckToolError returns a *ToolError if result is flagged isError.
// Results that are not envelopes are never errors.
func CheckToolError(tool string, result json.RawMessage) error {
	var env CallToolResult
	if err := json.Unmarshal(result, &env); err != nil || !env.IsError {
		return nil
	}
	return &ToolError{Tool: tool, Text: extractText(env.Content)}
}

// extractText joins all text content blocks into a single string.
// Non-text blocks are represented as inline markers.
func extractText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text", "":
			parts = append(parts, b.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}
