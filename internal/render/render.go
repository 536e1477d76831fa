// Package render turns gateway payloads into terminal-friendly text.
package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// truncatedMarker is appended to output cut short by a limit.
const truncatedMarker = "\n... (truncated)"

// Payload renders a tool result. JSON strings are unquoted, and when
// the string is an HTML document its readable text is shown instead of
// the markup. Everything else is indented JSON. max limits the output
// in runes; zero means no limit.
func Payload(raw json.RawMessage, max int) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if LooksLikeHTML(s) {
			title, text := HTMLText(s)
			if title != "" {
				text = title + "\n\n" + text
			}
			s = text
		}
		return limit(s, max)
	}
	return JSON(raw, max)
}

// JSON indents raw with two spaces. Input that is not valid JSON is
// returned as-is. max limits the output in runes; zero means no limit.
func JSON(raw json.RawMessage, max int) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return limit(string(raw), max)
	}
	return limit(buf.String(), max)
}

// Truncate cuts s to at most maxChars runes without splitting a
// multi-byte character. It reports whether anything was cut.
func Truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s, false
	}
	// Walk runes to find safe cut point
	count := 0
	for i := range s {
		if count == maxChars {
			return s[:i], true
		}
		count++
	}
	return s, false
}

func limit(s string, max int) string {
	out, cut := Truncate(s, max)
	if cut {
		out += truncatedMarker
	}
	return out
}

// LooksLikeHTML reports whether s starts like an HTML document or
// fragment.
func LooksLikeHTML(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.HasPrefix(head, "<html") ||
		(strings.HasPrefix(head, "<") && strings.Contains(head, "<body"))
}
