package config

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
)

// LevelTrace sits below [slog.LevelDebug] and logs every raw stream
// event and POST body exchanged with the gateway.
const LevelTrace = slog.Level(-8)

// Log output formats accepted by log_format and --log-format.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// logLevels maps accepted level names to levels. "" means info.
var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLogLevel converts a case-insensitive level name to an
// [slog.Level]. Surrounding whitespace is ignored.
func ParseLogLevel(s string) (slog.Level, error) {
	if level, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: %s)", s, strings.Join(levelNames(), ", "))
}

func levelNames() []string {
	names := make([]string, 0, len(logLevels))
	for name := range logLevels {
		if name != "" && name != "warning" {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return logLevels[names[i]] < logLevels[names[j]]
	})
	return names
}

// ParseLogFormat normalizes a log format name. Empty means text.
func ParseLogFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q (valid: text, json)", s)
	}
}

// ReplaceLogLevelNames renders [LevelTrace] as "TRACE" instead of
// slog's "DEBUG-4". Use it as [slog.HandlerOptions.ReplaceAttr].
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// NewLogHandler returns a text or JSON handler writing to w. An
// unrecognized format falls back to text.
func NewLogHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: ReplaceLogLevelNames,
	}
	if f, _ := ParseLogFormat(format); f == LogFormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
