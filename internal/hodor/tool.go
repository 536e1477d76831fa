package hodor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// disabledSuffix marks catalog entries for servers that are configured
// but not enabled on the gateway.
const disabledSuffix = ":(disabled)"

// ErrInvalidToolName is returned for tool names not of the form
// "server:tool".
var ErrInvalidToolName = errors.New("tool name must be server:tool")

// ToolDescriptor describes one tool in the gateway catalog.
type ToolDescriptor struct {
	FullName    string          `json:"fullName"`
	Description string          `json:"description,omitempty"`
	ServerName  string          `json:"serverName,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// UnmarshalJSON accepts both spellings the gateway has used for catalog
// fields (FullName and fullName, Description and description, and so
// on). When both are present the lower-camel spelling wins.
func (d *ToolDescriptor) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode tool descriptor: %w", err)
	}

	str := func(upper, lower string) (string, error) {
		var s string
		for _, key := range []string{upper, lower} {
			raw, ok := fields[key]
			if !ok || string(raw) == "null" {
				continue
			}
			if err := json.Unmarshal(raw, &s); err != nil {
				return "", fmt.Errorf("decode tool descriptor %s: %w", key, err)
			}
		}
		return s, nil
	}

	var out ToolDescriptor
	var err error
	if out.FullName, err = str("FullName", "fullName"); err != nil {
		return err
	}
	if out.Description, err = str("Description", "description"); err != nil {
		return err
	}
	if out.ServerName, err = str("ServerName", "serverName"); err != nil {
		return err
	}
	for _, key := range []string{"InputSchema", "inputSchema"} {
		if raw, ok := fields[key]; ok && string(raw) != "null" {
			out.InputSchema = raw
		}
	}

	*d = out
	return nil
}

// Disabled reports whether the entry stands for a disabled server rather
// than a callable tool.
func (d ToolDescriptor) Disabled() bool {
	return strings.HasSuffix(d.FullName, disabledSuffix)
}

// SplitToolName splits a qualified "server:tool" name at the first colon.
// Both halves must be non-empty.
func SplitToolName(full string) (server, tool string, err error) {
	server, tool, ok := strings.Cut(full, ":")
	if !ok || server == "" || tool == "" {
		return "", "", fmt.Errorf("%w, got %q", ErrInvalidToolName, full)
	}
	return server, tool, nil
}

// findResult is the payload of hodor-find.
type findResult struct {
	Tools []ToolDescriptor `json:"tools"`
}
