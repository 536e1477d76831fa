package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nugget/hodor-mcp-client/internal/buildinfo"
	"github.com/nugget/hodor-mcp-client/internal/config"
	"github.com/nugget/hodor-mcp-client/internal/hodor"
	"github.com/nugget/hodor-mcp-client/internal/mcp"
)

// envBaseURL overrides base_url from the config file.
const envBaseURL = "HODOR_URL"

// cli holds the global flags and the state shared by subcommands.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	baseURL    string
	logLevel   string
	logFormat  string
	output     string
	direct     bool

	cfg    *config.Config
	logger *slog.Logger
}

// newRootCommand builds the hodor command tree writing to stdout and
// stderr.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "hodor",
		Short: "Client for the Hodor MCP gateway",
		Long: `Hodor discovers and executes tools through a Hodor MCP gateway.

The gateway exposes three meta-tools: hodor-find searches the tool
catalog, hodor-schema describes a tool's input, and hodor-exec runs a
tool on its backing server. Tool names take the form server:tool.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.output != "text" && c.output != "json" {
				return fmt.Errorf("unknown output format: %q (expected text or json)", c.output)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to config file (default: auto-discover)")
	flags.StringVar(&c.baseURL, "url", "", "gateway address (overrides $"+envBaseURL+" and base_url)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.StringVar(&c.logFormat, "log-format", "", "log format: text or json")
	flags.StringVarP(&c.output, "output", "o", "text", "output format: text or json")
	flags.BoolVar(&c.direct, "direct", false, "use the direct POST /mcp transport instead of the event stream")

	root.AddCommand(
		newRunCommand(c),
		newFindCommand(c),
		newSchemaCommand(c),
		newExecCommand(c),
		newHealthCommand(c),
		newStatusCommand(c),
		newBenchCommand(c),
		newHistoryCommand(c),
		newInitCommand(c),
		newVersionCommand(c),
	)

	return root
}

// setup loads configuration, applies environment and flag overrides,
// and builds the logger. Subcommands that talk to the gateway or the
// journal call it first.
func (c *cli) setup() error {
	cfg, cfgPath, err := loadConfig(c.configPath)
	switch {
	case errors.Is(err, config.ErrNoConfig):
		cfg = config.Default()
	case err != nil:
		return err
	}

	if v := os.Getenv(envBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.LogFormat = c.logFormat
	}
	if c.direct {
		cfg.Transport = "direct"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	c.logger = newLogger(c.stderr, level, cfg.LogFormat)
	if cfgPath != "" {
		c.logger.Debug("config loaded", "path", cfgPath)
	}
	c.cfg = cfg
	return nil
}

// newTransport builds the session transport selected by configuration.
func (c *cli) newTransport() (mcp.Transport, error) {
	if c.cfg.Transport == "direct" {
		return mcp.NewHTTPTransport(mcp.HTTPConfig{
			URL:            strings.TrimRight(c.cfg.BaseURL, "/") + mcp.DefaultDirectPath,
			RequestTimeout: c.cfg.RequestTimeout,
			Headers:        c.cfg.Headers,
			Logger:         c.logger,
		}), nil
	}
	return mcp.NewSSETransport(mcp.SSEConfig{
		BaseURL:        c.cfg.BaseURL,
		ConnectTimeout: c.cfg.ConnectTimeout,
		RequestTimeout: c.cfg.RequestTimeout,
		Headers:        c.cfg.Headers,
		Logger:         c.logger,
	})
}

// newGateway opens nothing yet; it wires a fresh transport into a
// gateway with the configured initialize policy and observers.
func (c *cli) newGateway(observers ...hodor.CallObserver) (*hodor.Gateway, error) {
	transport, err := c.newTransport()
	if err != nil {
		return nil, err
	}
	opts := []hodor.Option{hodor.WithLogger(c.logger)}
	if c.cfg.RequireInitResult {
		opts = append(opts, hodor.WithInitializePolicy(hodor.RequireResult))
	}
	for _, obs := range observers {
		opts = append(opts, hodor.WithCallObserver(obs))
	}
	return hodor.NewGateway(transport, opts...), nil
}

// withSession connects and initializes a gateway session, runs fn, and
// closes the session.
func (c *cli) withSession(ctx context.Context, observers []hodor.CallObserver, fn func(ctx context.Context, gw *hodor.Gateway) error) (err error) {
	gw, err := c.newGateway(observers...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := gw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close session: %w", cerr)
		}
	}()

	if err := gw.Connect(ctx); err != nil {
		return err
	}
	if _, err := gw.Initialize(ctx); err != nil {
		return err
	}
	return fn(ctx, gw)
}

func newVersionCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(c.stdout, c.output)
		},
	}
}
