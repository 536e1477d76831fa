package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/hodor-mcp-client/internal/hodor"
	"github.com/nugget/hodor-mcp-client/internal/render"
)

// defaultMaxOutput limits tool output printed in text mode, in runes.
const defaultMaxOutput = 4000

func newRunCommand(c *cli) *cobra.Command {
	var (
		query      string
		execute    string
		argsJSON   string
		skipSchema bool
		maxOutput  int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover a tool and execute it",
		Long: `Run opens a session, initializes it, searches the catalog with
hodor-find, shows the chosen tool's schema, and executes it with
hodor-exec.

Without --execute the tool is chosen from the search results: a memory
tool that creates something first, then a time tool, then the first
enabled result. Without --args the arguments are derived from the tool
name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			arguments, err := parseArguments(argsJSON)
			if err != nil {
				return err
			}
			if query == "" {
				query = c.cfg.Query
			}

			observers, closeRecorders, err := c.recorders()
			if err != nil {
				return err
			}
			defer closeRecorders()

			gw, err := c.newGateway(observers...)
			if err != nil {
				return err
			}
			res, runErr := hodor.Run(cmd.Context(), gw, hodor.FlowOptions{
				Query:      query,
				Tool:       execute,
				Arguments:  arguments,
				SkipSchema: skipSchema || c.cfg.SkipSchema,
			})
			if res != nil {
				if err := c.printFlow(res, maxOutput); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&query, "query", "q", "", "hodor-find query (default from config, else \"memory\")")
	flags.StringVarP(&execute, "execute", "e", "", "execute this server:tool instead of choosing one")
	flags.StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")
	flags.BoolVar(&skipSchema, "skip-schema", false, "skip the hodor-schema step")
	flags.IntVar(&maxOutput, "max-output", defaultMaxOutput, "truncate text output to this many characters (0 for no limit)")
	return cmd
}

func newFindCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "find [query]",
		Short: "List tools matching a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			query := c.cfg.Query
			if len(args) == 1 {
				query = args[0]
			}

			return c.withSession(cmd.Context(), nil, func(ctx context.Context, gw *hodor.Gateway) error {
				tools, err := gw.Find(ctx, query)
				if err != nil {
					return err
				}
				if c.output == "json" {
					return writeJSON(c.stdout, tools)
				}
				printTools(c.stdout, tools)
				return nil
			})
		},
	}
}

func newSchemaCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <server:tool>",
		Short: "Show a tool's input schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			if _, _, err := hodor.SplitToolName(args[0]); err != nil {
				return err
			}

			return c.withSession(cmd.Context(), nil, func(ctx context.Context, gw *hodor.Gateway) error {
				schema, err := gw.Schema(ctx, args[0])
				if err != nil {
					return err
				}
				if c.output == "json" {
					return writeJSON(c.stdout, schema)
				}
				fmt.Fprintln(c.stdout, render.JSON(schema, 0))
				return nil
			})
		},
	}
}

func newExecCommand(c *cli) *cobra.Command {
	var (
		argsJSON  string
		maxOutput int
	)

	cmd := &cobra.Command{
		Use:   "exec <server:tool>",
		Short: "Execute a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			tool := args[0]
			if _, _, err := hodor.SplitToolName(tool); err != nil {
				return err
			}
			arguments, err := parseArguments(argsJSON)
			if err != nil {
				return err
			}
			if arguments == nil {
				arguments = hodor.DefaultArguments(tool)
			}

			observers, closeRecorders, err := c.recorders()
			if err != nil {
				return err
			}
			defer closeRecorders()

			return c.withSession(cmd.Context(), observers, func(ctx context.Context, gw *hodor.Gateway) error {
				output, err := gw.Exec(ctx, tool, arguments)
				if err != nil {
					return err
				}
				if c.output == "json" {
					return writeJSON(c.stdout, output)
				}
				fmt.Fprintln(c.stdout, render.Payload(output, maxOutput))
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&argsJSON, "args", "", "tool arguments as a JSON object (default derived from the tool name)")
	flags.IntVar(&maxOutput, "max-output", defaultMaxOutput, "truncate text output to this many characters (0 for no limit)")
	return cmd
}

// parseArguments decodes a JSON object given on the command line. An
// empty string yields nil.
func parseArguments(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// flowReport is the JSON form of a run.
type flowReport struct {
	Server      string                 `json:"server,omitempty"`
	Version     string                 `json:"version,omitempty"`
	Tools       []hodor.ToolDescriptor `json:"tools"`
	Tool        string                 `json:"tool,omitempty"`
	Schema      json.RawMessage        `json:"schema,omitempty"`
	SchemaError string                 `json:"schemaError,omitempty"`
	Arguments   map[string]any         `json:"arguments,omitempty"`
	Output      json.RawMessage        `json:"output,omitempty"`
	ElapsedMS   int64                  `json:"elapsedMs"`
}

// printFlow prints whatever steps of a run completed.
func (c *cli) printFlow(res *hodor.FlowResult, maxOutput int) error {
	if c.output == "json" {
		report := flowReport{
			Tools:     res.Tools,
			Tool:      res.Tool,
			Schema:    res.Schema,
			Arguments: res.Arguments,
			Output:    res.Output,
			ElapsedMS: res.Elapsed.Milliseconds(),
		}
		if res.Server != nil {
			report.Server = res.Server.ServerInfo.Name
			report.Version = res.Server.ServerInfo.Version
		}
		if res.SchemaErr != nil {
			report.SchemaError = res.SchemaErr.Error()
		}
		if report.Tools == nil {
			report.Tools = []hodor.ToolDescriptor{}
		}
		return writeJSON(c.stdout, report)
	}

	w := c.stdout
	if res.Server != nil {
		fmt.Fprintf(w, "Connected to %s %s\n", res.Server.ServerInfo.Name, res.Server.ServerInfo.Version)
	}
	if res.Tools != nil {
		fmt.Fprintf(w, "\nFound %d tools:\n", len(res.Tools))
		printTools(w, res.Tools)
	}
	if res.Tool != "" {
		fmt.Fprintf(w, "\nTool: %s\n", res.Tool)
	}
	switch {
	case res.SchemaErr != nil:
		fmt.Fprintf(w, "\nSchema unavailable: %v\n", res.SchemaErr)
	case res.Schema != nil:
		fmt.Fprintf(w, "\nSchema:\n%s\n", render.JSON(res.Schema, maxOutput))
	}
	if res.Executed() {
		args, _ := json.Marshal(res.Arguments)
		fmt.Fprintf(w, "\nArguments: %s\n", args)
		fmt.Fprintf(w, "\nResult:\n%s\n", render.Payload(res.Output, maxOutput))
	}
	fmt.Fprintf(w, "\nCompleted in %s\n", res.Elapsed.Round(time.Millisecond))
	return nil
}

// printTools writes one line per catalog entry.
func printTools(w io.Writer, tools []hodor.ToolDescriptor) {
	if len(tools) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, t := range tools {
		desc, cut := render.Truncate(firstLine(t.Description), 80)
		if cut {
			desc += "..."
		}
		fmt.Fprintf(tw, "  %s\t%s\n", t.FullName, desc)
	}
	tw.Flush()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
