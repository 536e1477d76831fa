// Hodor is a command-line client for the Hodor MCP gateway.
//
// It opens a session with the gateway (an event stream plus command
// POSTs, or the direct POST /mcp endpoint), discovers tools through the
// gateway's hodor-find and hodor-schema meta-tools, and executes them
// through hodor-exec. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	hodor run                 Discover a tool and execute it
//	hodor find [query]        List tools matching a query
//	hodor schema <tool>       Show a tool's input schema
//	hodor exec <tool>         Execute a tool
//	hodor health              Check the gateway's /health endpoint
//	hodor status              Show gateway health, readiness and catalog
//	hodor history             List recorded tool executions
//	hodor init [dir]          Write a default hodor.yaml
//	hodor version             Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nugget/hodor-mcp-client/internal/buildinfo"
	"github.com/nugget/hodor-mcp-client/internal/config"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// every subcommand can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// run is the real entry point for the hodor command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx bounds every gateway exchange. Cancelling it closes the session.
//   - stdout receives command output; stderr receives structured logs.
//   - args is os.Args[1:].
//
// The command tree is built per call so that concurrent calls from tests
// share no flag state.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// newLogger creates a structured logger that writes to w at the given level
// and format. Format must be "text" or "json"; any other value defaults to
// text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	return slog.New(config.NewLogHandler(w, level, format))
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
