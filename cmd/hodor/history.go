package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/hodor-mcp-client/internal/journal"
	"github.com/nugget/hodor-mcp-client/internal/render"
)

// errNoJournal is returned by history when journal.path is unset.
var errNoJournal = errors.New("journal is disabled: set journal.path in the config file")

func newHistoryCommand(c *cli) *cobra.Command {
	var (
		tool    string
		limit   int
		summary bool
		since   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded tool executions",
		Long: `History lists recent hodor-exec calls from the local journal,
newest first. With --summary it prints per-tool call counts, failures
and average duration over the --since window instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			if c.cfg.Journal.Path == "" {
				return errNoJournal
			}
			store, err := journal.Open(c.cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if summary {
				end := time.Now()
				sums, err := store.SummaryByTool(cmd.Context(), end.Add(-since), end)
				if err != nil {
					return err
				}
				return c.printSummary(sums)
			}

			entries, err := store.Recent(cmd.Context(), tool, limit)
			if err != nil {
				return err
			}
			return c.printEntries(entries)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&tool, "tool", "t", "", "only show calls of this server:tool")
	flags.IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
	flags.BoolVar(&summary, "summary", false, "show per-tool totals instead of individual calls")
	flags.DurationVar(&since, "since", 24*time.Hour, "summary window ending now")
	return cmd
}

func (c *cli) printEntries(entries []journal.Entry) error {
	if c.output == "json" {
		type entryJSON struct {
			ID         string          `json:"id"`
			Timestamp  time.Time       `json:"timestamp"`
			Gateway    string          `json:"gateway,omitempty"`
			Tool       string          `json:"tool"`
			Arguments  json.RawMessage `json:"arguments"`
			Result     json.RawMessage `json:"result,omitempty"`
			Error      string          `json:"error,omitempty"`
			DurationMS int64           `json:"durationMs"`
		}
		out := make([]entryJSON, len(entries))
		for i, e := range entries {
			out[i] = entryJSON(e)
		}
		return writeJSON(c.stdout, out)
	}

	if len(entries) == 0 {
		fmt.Fprintln(c.stdout, "No tool calls recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTOOL\tDURATION\tOUTCOME")
	for _, e := range entries {
		outcome := "ok"
		if !e.Succeeded() {
			outcome, _ = render.Truncate(firstLine(e.Error), 100)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime),
			e.Tool,
			time.Duration(e.DurationMS)*time.Millisecond,
			outcome,
		)
	}
	return tw.Flush()
}

func (c *cli) printSummary(sums map[string]*journal.Summary) error {
	tools := make([]string, 0, len(sums))
	for name := range sums {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	if c.output == "json" {
		type summaryJSON struct {
			Tool      string    `json:"tool"`
			Calls     int       `json:"calls"`
			Failures  int       `json:"failures"`
			AverageMS int64     `json:"averageMs"`
			LastCall  time.Time `json:"lastCall"`
		}
		out := make([]summaryJSON, 0, len(tools))
		for _, name := range tools {
			s := sums[name]
			out = append(out, summaryJSON{
				Tool:      name,
				Calls:     s.Calls,
				Failures:  s.Failures,
				AverageMS: s.AverageDuration().Milliseconds(),
				LastCall:  s.LastCall,
			})
		}
		return writeJSON(c.stdout, out)
	}

	if len(tools) == 0 {
		fmt.Fprintln(c.stdout, "No tool calls recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tCALLS\tFAILURES\tAVERAGE\tLAST CALL")
	for _, name := range tools {
		s := sums[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			name, s.Calls, s.Failures,
			s.AverageDuration().Round(time.Millisecond),
			s.LastCall.Local().Format(time.DateTime),
		)
	}
	return tw.Flush()
}
