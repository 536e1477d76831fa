package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/hodor-mcp-client/internal/connwatch"
	"github.com/nugget/hodor-mcp-client/internal/hodor"
	"github.com/nugget/hodor-mcp-client/internal/mcp"
	"github.com/nugget/hodor-mcp-client/internal/mcp/mcptest"
)

// writeConfig writes a hodor.yaml pointing at baseURL with a journal in
// a temp directory, plus any extra YAML, and returns its path.
func writeConfig(t *testing.T, baseURL, extra string) string {
	t.Helper()
	// Keep a developer's environment out of the tests.
	t.Setenv(envBaseURL, "")

	dir := t.TempDir()
	var b strings.Builder
	if baseURL != "" {
		fmt.Fprintf(&b, "base_url: %s\n", baseURL)
	}
	fmt.Fprintf(&b, "connect_timeout: 2s\nrequest_timeout: 2s\n")
	fmt.Fprintf(&b, "journal:\n  path: %s\n", filepath.Join(dir, "journal.db"))
	b.WriteString(extra)

	path := filepath.Join(dir, "hodor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

// runCLI invokes run with args and returns what it wrote.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	err := run(ctx, &stdout, &stderr, args)
	return stdout.String(), stderr.String(), err
}

// catalog serves hodor-find, hodor-schema and hodor-exec.
func catalog(t *testing.T, tools ...map[string]any) *mcptest.Gateway {
	t.Helper()
	fake := mcptest.NewGateway(t)
	fake.HandleTool(hodor.ToolFind, func(json.RawMessage) (any, *mcptest.Error) {
		return map[string]any{"tools": tools}, nil
	})
	fake.HandleTool(hodor.ToolSchema, func(json.RawMessage) (any, *mcptest.Error) {
		return map[string]any{"type": "object", "properties": map[string]any{"content": map[string]any{"type": "string"}}}, nil
	})
	fake.HandleTool(hodor.ToolExec, func(params json.RawMessage) (any, *mcptest.Error) {
		var p struct {
			Tool      string         `json:"tool"`
			Arguments map[string]any `json:"arguments"`
		}
		_ = json.Unmarshal(params, &p)
		return map[string]any{"ran": p.Tool, "args": p.Arguments}, nil
	})
	return fake
}

func standardCatalog(t *testing.T) *mcptest.Gateway {
	return catalog(t,
		map[string]any{"FullName": "fs:read", "Description": "Read a file"},
		map[string]any{"FullName": "memory:create_scratchpad", "Description": "Create a scratchpad"},
		map[string]any{"fullName": "time:now", "description": "Current time"},
	)
}

func TestVersion(t *testing.T) {
	out, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Hodor client")
	assert.Contains(t, out, "go_version:")

	out, _, err = runCLI(t, "-o", "json", "version")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "git_commit")
}

func TestUnknownOutputFormat(t *testing.T) {
	_, _, err := runCLI(t, "-o", "yaml", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestUnknownCommand(t *testing.T) {
	_, _, err := runCLI(t, "frobnicate")
	require.Error(t, err)
}

func TestRunCommand_EndToEnd(t *testing.T) {
	fake := standardCatalog(t)
	cfg := writeConfig(t, fake.URL(), "")

	out, _, err := runCLI(t, "--config", cfg, "run", "-q", "memory")
	require.NoError(t, err)

	assert.Contains(t, out, "Connected to hodor 1.0.0")
	assert.Contains(t, out, "Found 3 tools")
	assert.Contains(t, out, "Tool: memory:create_scratchpad")
	assert.Contains(t, out, "Schema:")
	assert.Contains(t, out, `"ran": "memory:create_scratchpad"`)
	assert.Equal(t,
		[]string{"initialize", "notifications/initialized", "tools/call", "tools/call", "tools/call"},
		fake.Methods())
	assert.Equal(t, []string{hodor.ToolFind, hodor.ToolSchema, hodor.ToolExec}, fake.ToolCalls())

	// The execution was journaled.
	out, _, err = runCLI(t, "--config", cfg, "-o", "json", "history")
	require.NoError(t, err)
	var entries []struct {
		Tool      string          `json:"tool"`
		Gateway   string          `json:"gateway"`
		Arguments json.RawMessage `json:"arguments"`
		Error     string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "memory:create_scratchpad", entries[0].Tool)
	assert.Equal(t, fake.URL(), entries[0].Gateway)
	assert.JSONEq(t, `{"type":"create","content":"`+hodor.DefaultContent+`"}`, string(entries[0].Arguments))
	assert.Empty(t, entries[0].Error)

	out, _, err = runCLI(t, "--config", cfg, "history", "--summary")
	require.NoError(t, err)
	assert.Contains(t, out, "memory:create_scratchpad")
	assert.Contains(t, out, "CALLS")
}

func TestRunCommand_JSONWithExplicitTool(t *testing.T) {
	fake := standardCatalog(t)
	cfg := writeConfig(t, fake.URL(), "")

	out, _, err := runCLI(t, "--config", cfg, "-o", "json",
		"run", "--execute", "time:now", "--args", `{"tz":"UTC"}`, "--skip-schema")
	require.NoError(t, err)

	var report flowReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "hodor", report.Server)
	assert.Equal(t, "time:now", report.Tool)
	assert.Len(t, report.Tools, 3)
	assert.Equal(t, map[string]any{"tz": "UTC"}, report.Arguments)
	assert.JSONEq(t, `{"ran":"time:now","args":{"tz":"UTC"}}`, string(report.Output))
	assert.Nil(t, report.Schema)

	assert.Equal(t, []string{hodor.ToolFind, hodor.ToolExec}, fake.ToolCalls())
}

func TestRunCommand_Direct(t *testing.T) {
	fake := standardCatalog(t)
	cfg := writeConfig(t, fake.URL(), "")

	out, _, err := runCLI(t, "--config", cfg, "--direct", "run", "-q", "time")
	require.NoError(t, err)
	assert.Contains(t, out, "Tool: memory:create_scratchpad")
	assert.Contains(t, out, `"ran": "memory:create_scratchpad"`)
	for _, p := range fake.Posts() {
		assert.Empty(t, p.Session, "direct transport never uses the stream")
	}
}

func TestRunCommand_NoSelectableTools(t *testing.T) {
	fake := catalog(t, map[string]any{"FullName": "memory:(disabled)"})
	cfg := writeConfig(t, fake.URL(), "")

	out, _, err := runCLI(t, "--config", cfg, "run")
	require.ErrorIs(t, err, hodor.ErrNoToolSelected)
	assert.Contains(t, out, "Found 1 tools")
	assert.NotContains(t, out, "Result:")
	assert.Equal(t, []string{hodor.ToolFind}, fake.ToolCalls())
}

func TestRunCommand_BadArguments(t *testing.T) {
	fake := standardCatalog(t)
	cfg := writeConfig(t, fake.URL(), "")

	_, _, err := runCLI(t, "--config", cfg, "run", "--args", `[1,2]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--args must be a JSON object")
	assert.Empty(t, fake.Posts())
}

func TestRunCommand_Unreachable(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1", "")

	_, _, err := runCLI(t, "--config", cfg, "run")
	var connErr *mcp.ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestFindCommand(t *testing.T) {
	fake := standardCatalog(t)
	cfg := writeConfig(t, fake.URL(), "")

	out, _, err := runCLI(t, "--config", cfg, "find", "time")
	require.NoError(t, err)
	assert.Contains(t, out, "fs:read")
	assert.Contains(t, out, "Read a file")
	assert.Contains(t, out, "time:now")

	posts := fake.Posts()
	require.NotEmpty(t, posts)
	last := posts[len(posts)-1]
	assert.JSONEq(t, `{"name":"hodor-find","arguments":{"query":"time"}}`, string(last.Params))

	out, _, err = runCLI(t, "--config", cfg, "-o", "json", "find")
	require.NoError(t, err)
	var tools []hodor.ToolDescriptor
	require.NoError(t, json.Unmarshal([]byte(out), &tools))
	require.Len(t, tools, 3)
	assert.Equal(t, "time:now", tools[2].FullName)
}

func TestSchemaCommand(t *testing.T) {
	fake := standardCatalog(t)
	cfg := writeConfig(t, fake.URL(), "")

	out, _, err := runCLI(t, "--config", cfg, "schema", "memory:create_scratchpad")
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "object"`)

	_, _, err = runCLI(t, "--config", cfg, "schema", "create_scratchpad")
	require.ErrorIs(t, err, hodor.ErrInvalidToolName)
}

func TestExecCommand(t *testing.T) {
	fake := standardCatalog(t)
	cfg := writeConfig(t, fake.URL(), "")

	out, _, err := runCLI(t, "--config", cfg, "exec", "web:fetch")
	require.NoError(t, err)
	assert.Contains(t, out, `"url": "https://example.com"`, "arguments derived from the tool name")

	before := len(fake.Posts())
	_, _, err = runCLI(t, "--config", cfg, "exec", "fetch")
	require.ErrorIs(t, err, hodor.ErrInvalidToolName)
	assert.Len(t, fake.Posts(), before, "invalid names never reach the gateway")
}

func TestExecCommand_FailureIsJournaled(t *testing.T) {
	fake := mcptest.NewGateway(t)
	fake.HandleTool(hodor.ToolExec, func(json.RawMessage) (any, *mcptest.Error) {
		return nil, &mcptest.Error{Code: -32000, Message: "backend offline"}
	})
	cfg := writeConfig(t, fake.URL(), "")

	_, _, err := runCLI(t, "--config", cfg, "exec", "time:now")
	var rpcErr *mcp.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)

	out, _, err := runCLI(t, "--config", cfg, "history", "--tool", "time:now")
	require.NoError(t, err)
	assert.Contains(t, out, "time:now")
	assert.Contains(t, out, "backend offline")
}

func TestHealthCommand(t *testing.T) {
	fake := mcptest.NewGateway(t)
	cfg := writeConfig(t, fake.URL(), "")

	out, _, err := runCLI(t, "--config", cfg, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "is healthy")

	fake.SetHealthStatus(http.StatusServiceUnavailable)
	out, _, err = runCLI(t, "--config", cfg, "-o", "json", "health")
	require.Error(t, err)
	var statusErr *connwatch.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)

	var status connwatch.ServiceStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.False(t, status.Ready)
	assert.Equal(t, 1, status.Attempts)
}

func TestHealthCommand_Wait(t *testing.T) {
	fake := mcptest.NewGateway(t)
	fake.SetHealthStatus(http.StatusServiceUnavailable)
	cfg := writeConfig(t, fake.URL(), "")

	go func() {
		time.Sleep(50 * time.Millisecond)
		fake.SetHealthStatus(http.StatusOK)
	}()

	out, _, err := runCLI(t, "--config", cfg, "health", "--wait", "--attempts", "20", "--interval", "20ms")
	require.NoError(t, err)
	assert.Contains(t, out, "is healthy")
}

func TestStatusCommand(t *testing.T) {
	fake := mcptest.NewGateway(t)
	cfg := writeConfig(t, fake.URL(), "")

	out, _, err := runCLI(t, "--config", cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "GET /health: 200 OK")
	assert.Contains(t, out, "GET /ready: 200 OK")
	assert.Contains(t, out, `"tools_count": 3`)
	assert.Contains(t, out, "hodor-schema")

	out, _, err = runCLI(t, "--config", cfg, "-o", "json", "status")
	require.NoError(t, err)
	var results []endpointStatus
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)
	assert.Equal(t, "/api/tools", results[2].Path)
	assert.Equal(t, http.StatusOK, results[2].Status)
}

func TestStatusCommand_Unreachable(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1", "")

	_, _, err := runCLI(t, "--config", cfg, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not answering")
}

func TestBaseURLPrecedence(t *testing.T) {
	fake := mcptest.NewGateway(t)

	t.Run("env overrides file", func(t *testing.T) {
		cfg := writeConfig(t, "http://127.0.0.1:1", "")
		t.Setenv(envBaseURL, fake.URL())
		_, _, err := runCLI(t, "--config", cfg, "health")
		require.NoError(t, err)
	})

	t.Run("flag overrides env", func(t *testing.T) {
		cfg := writeConfig(t, "", "")
		t.Setenv(envBaseURL, "http://127.0.0.1:1")
		_, _, err := runCLI(t, "--config", cfg, "--url", fake.URL(), "health")
		require.NoError(t, err)
	})
}

func TestConfigErrors(t *testing.T) {
	t.Setenv(envBaseURL, "")

	_, _, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")

	cfg := writeConfig(t, "http://localhost:8080", "")
	_, _, err = runCLI(t, "--config", cfg, "--url", "ftp://gateway", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")

	_, _, err = runCLI(t, "--config", cfg, "--log-level", "loud", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestHistory_JournalDisabled(t *testing.T) {
	t.Setenv(envBaseURL, "")
	path := filepath.Join(t.TempDir(), "hodor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: http://localhost:8080\n"), 0o600))

	_, _, err := runCLI(t, "--config", path, "history")
	require.ErrorIs(t, err, errNoJournal)
}

func TestLogsGoToStderr(t *testing.T) {
	fake := standardCatalog(t)
	cfg := writeConfig(t, fake.URL(), "")

	out, logs, err := runCLI(t, "--config", cfg, "--log-format", "json", "--log-level", "debug", "exec", "time:now")
	require.NoError(t, err)
	assert.NotContains(t, out, `"level"`)

	var sawExec bool
	for _, line := range strings.Split(strings.TrimSpace(logs), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "log line %q", line)
		if rec["msg"] == "tool executed" {
			sawExec = true
			assert.Equal(t, "time:now", rec["tool"])
		}
	}
	assert.True(t, sawExec, "exec logged")
}

func TestParseArguments(t *testing.T) {
	args, err := parseArguments("")
	require.NoError(t, err)
	assert.Nil(t, args)

	args, err = parseArguments(`{}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, args)

	args, err = parseArguments(`null`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, args)

	_, err = parseArguments(`"text"`)
	assert.Error(t, err)
}

func TestRecordersSurviveUnreachableBroker(t *testing.T) {
	fake := standardCatalog(t)
	cfg := writeConfig(t, fake.URL(), "notify:\n  mqtt:\n    broker: mqtt://127.0.0.1:1\n")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	// Publishing fails but the call itself succeeds.
	c := &cli{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, configPath: cfg}
	require.NoError(t, c.setup())
	observers, closeRecorders, err := c.recorders()
	require.NoError(t, err)
	defer closeRecorders()
	require.Len(t, observers, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	observers[1](ctx, hodor.CallRecord{Tool: "time:now", Started: time.Now(), Err: errors.New("boom")})
}

func TestBenchCommand(t *testing.T) {
	fake := mcptest.NewGateway(t)
	cfg := writeConfig(t, fake.URL(), "")

	out, _, err := runCLI(t, "--config", cfg, "-o", "json", "bench", "-n", "5", "--warmup", "1")
	require.NoError(t, err)
	var results []benchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, 5, r.Requests, r.Path)
		assert.Zero(t, r.Errors, r.Path)
		assert.Positive(t, r.PerSecond, r.Path)
	}

	fake.SetHealthStatus(http.StatusServiceUnavailable)
	out, _, err = runCLI(t, "--config", cfg, "bench", "--path", "/health", "-n", "3", "--warmup", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "PATH")
	assert.Contains(t, out, "/health: last error:")
	assert.Contains(t, out, "status 503")

	_, _, err = runCLI(t, "--config", cfg, "bench", "-n", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--requests")
}

func TestRunBench(t *testing.T) {
	calls := 0
	probe := func(context.Context) error {
		calls++
		if calls%2 == 0 {
			return errors.New("flaky")
		}
		return nil
	}

	res, err := runBench(context.Background(), "/x", probe, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, calls, "warmup probes are sent but not counted")
	assert.Equal(t, 4, res.Requests)
	assert.Equal(t, 2, res.Errors)
	assert.Equal(t, "flaky", res.LastError)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runBench(ctx, "/x", probe, 0, 3)
	assert.ErrorIs(t, err, context.Canceled)
}
