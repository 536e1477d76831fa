package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/hodor-mcp-client/internal/connwatch"
)

// benchResult is one endpoint's latency and throughput run.
type benchResult struct {
	Path      string  `json:"path"`
	Requests  int     `json:"requests"`
	Errors    int     `json:"errors"`
	ElapsedMS int64   `json:"elapsedMs"`
	AvgMS     float64 `json:"avgMs"`
	PerSecond float64 `json:"perSecond"`
	LastError string  `json:"lastError,omitempty"`
}

func newBenchCommand(c *cli) *cobra.Command {
	var (
		requests int
		warmup   int
		paths    []string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure latency and throughput of the gateway's GET endpoints",
		Long: `Bench issues sequential GETs against each path and reports how many
failed, the average latency of the successful ones and the request
rate. Warmup requests are sent first and not counted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			if requests < 1 {
				return fmt.Errorf("--requests must be at least 1, got %d", requests)
			}

			client := c.httpClient()
			results := make([]benchResult, 0, len(paths))
			for _, path := range paths {
				probe := connwatch.HTTPProbe(client, c.cfg.BaseURL, path)
				res, err := runBench(cmd.Context(), path, probe, warmup, requests)
				if err != nil {
					return err
				}
				c.logger.Debug("bench finished", "path", path, "requests", res.Requests, "errors", res.Errors)
				results = append(results, res)
			}

			if c.output == "json" {
				return writeJSON(c.stdout, results)
			}
			return printBench(c.stdout, results)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&requests, "requests", "n", 20, "measured requests per path")
	flags.IntVar(&warmup, "warmup", 2, "unmeasured requests per path")
	flags.StringSliceVar(&paths, "path", statusPaths, "paths to measure (repeatable)")
	return cmd
}

// runBench sends warmup then n probes in sequence. Only a cancelled ctx
// aborts the run; failed requests are counted.
func runBench(ctx context.Context, path string, probe connwatch.ProbeFunc, warmup, n int) (benchResult, error) {
	res := benchResult{Path: path, Requests: n}

	for range warmup {
		_ = probe(ctx)
	}

	var ok time.Duration
	start := time.Now()
	for range n {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		t0 := time.Now()
		if err := probe(ctx); err != nil {
			res.Errors++
			res.LastError = err.Error()
			continue
		}
		ok += time.Since(t0)
	}
	elapsed := time.Since(start)

	res.ElapsedMS = elapsed.Milliseconds()
	if succeeded := n - res.Errors; succeeded > 0 {
		res.AvgMS = float64(ok.Microseconds()) / 1000 / float64(succeeded)
	}
	if elapsed > 0 {
		res.PerSecond = float64(n) / elapsed.Seconds()
	}
	return res, nil
}

func printBench(w io.Writer, results []benchResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tREQUESTS\tERRORS\tAVG MS\tREQ/S")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.1f\n", r.Path, r.Requests, r.Errors, r.AvgMS, r.PerSecond)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range results {
		if r.LastError != "" {
			fmt.Fprintf(w, "%s: last error: %s\n", r.Path, r.LastError)
		}
	}
	return nil
}
