package hodor

import "strings"

// SelectionPolicy picks the tool to execute when the caller did not name
// one. It reports false when nothing is suitable.
type SelectionPolicy func(tools []ToolDescriptor) (ToolDescriptor, bool)

// ArgumentPolicy derives arguments for a tool when the caller supplied
// none.
type ArgumentPolicy func(tool string) map[string]any

// DefaultContent is the payload DefaultArguments sends to create-style
// tools.
const DefaultContent = "Hello from the Hodor Go client!"

// DefaultSelection prefers a tool whose name mentions both "memory" and
// "create", then one mentioning "time", then the first tool. Matching is
// case-insensitive. Disabled entries are never chosen.
func DefaultSelection(tools []ToolDescriptor) (ToolDescriptor, bool) {
	var enabled []ToolDescriptor
	for _, t := range tools {
		if !t.Disabled() && t.FullName != "" {
			enabled = append(enabled, t)
		}
	}

	for _, t := range enabled {
		name := strings.ToLower(t.FullName)
		if strings.Contains(name, "memory") && strings.Contains(name, "create") {
			return t, true
		}
	}
	for _, t := range enabled {
		if strings.Contains(strings.ToLower(t.FullName), "time") {
			return t, true
		}
	}
	if len(enabled) > 0 {
		return enabled[0], true
	}
	return ToolDescriptor{}, false
}

// DefaultArguments sniffs the tool name: create-style tools get a create
// payload, fetch or url tools get a URL, everything else gets no
// arguments.
func DefaultArguments(tool string) map[string]any {
	name := strings.ToLower(tool)
	switch {
	case strings.Contains(name, "create"):
		return map[string]any{"type": "create", "content": DefaultContent}
	case strings.Contains(name, "fetch"), strings.Contains(name, "url"):
		return map[string]any{"url": "https://example.com"}
	default:
		return map[string]any{}
	}
}
