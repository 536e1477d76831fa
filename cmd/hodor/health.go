package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/hodor-mcp-client/internal/connwatch"
	"github.com/nugget/hodor-mcp-client/internal/httpkit"
	"github.com/nugget/hodor-mcp-client/internal/render"
)

// maxStatusBody caps how much of a status endpoint's body is read.
const maxStatusBody = 1 << 20

// statusPaths are the gateway's informational endpoints.
var statusPaths = []string{"/health", "/ready", "/api/tools"}

func (c *cli) httpClient() *http.Client {
	return httpkit.NewClient(
		httpkit.WithTimeout(c.cfg.RequestTimeout),
		httpkit.WithConnectTimeout(c.cfg.ConnectTimeout),
		httpkit.WithLogger(c.logger),
	)
}

func newHealthCommand(c *cli) *cobra.Command {
	var (
		wait     bool
		attempts int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the gateway's /health endpoint",
		Long: `Health GETs the gateway's /health endpoint and reports whether it
answered 200. With --wait it keeps probing with exponential backoff
until the gateway answers or the attempts run out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}

			backoff := connwatch.DefaultBackoffConfig()
			backoff.ProbeTimeout = c.cfg.RequestTimeout
			backoff.MaxRetries = 1
			if wait {
				backoff.MaxRetries = attempts
				backoff.InitialDelay = interval
			}

			status, err := connwatch.WaitReady(cmd.Context(), connwatch.WaitConfig{
				Name:    c.cfg.BaseURL,
				Probe:   connwatch.HTTPProbe(c.httpClient(), c.cfg.BaseURL, connwatch.DefaultHealthPath),
				Backoff: backoff,
				Logger:  c.logger,
			})

			if c.output == "json" {
				if werr := writeJSON(c.stdout, status); werr != nil {
					return werr
				}
			} else if status.Ready {
				fmt.Fprintf(c.stdout, "%s is healthy (%d attempt(s))\n", status.Name, status.Attempts)
			}
			if err != nil {
				return fmt.Errorf("gateway not healthy after %d attempt(s): %w", status.Attempts, err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&wait, "wait", false, "keep probing until the gateway is healthy")
	flags.IntVar(&attempts, "attempts", connwatch.DefaultBackoffConfig().MaxRetries, "maximum probes with --wait")
	flags.DurationVar(&interval, "interval", connwatch.DefaultBackoffConfig().InitialDelay, "initial delay between probes with --wait")
	return cmd
}

// endpointStatus is one informational endpoint's answer.
type endpointStatus struct {
	Path   string          `json:"path"`
	Status int             `json:"status,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func newStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway health, readiness and catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}

			client := c.httpClient()
			results := make([]endpointStatus, 0, len(statusPaths))
			failed := 0
			for _, path := range statusPaths {
				st := fetchStatus(cmd.Context(), client, c.cfg.BaseURL, path)
				if st.Error != "" || st.Status != http.StatusOK {
					failed++
				}
				results = append(results, st)
			}

			if c.output == "json" {
				if err := writeJSON(c.stdout, results); err != nil {
					return err
				}
			} else {
				printStatus(c.stdout, results)
			}

			if failed == len(statusPaths) {
				return fmt.Errorf("gateway %s is not answering", c.cfg.BaseURL)
			}
			return nil
		},
	}
}

// fetchStatus GETs one endpoint. Bodies that are not JSON are kept as a
// JSON string.
func fetchStatus(ctx context.Context, client *http.Client, baseURL, path string) endpointStatus {
	st := endpointStatus{Path: path}
	target := strings.TrimRight(baseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	resp, err := client.Do(req)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	defer httpkit.DrainAndClose(resp.Body, maxStatusBody)

	st.Status = resp.StatusCode
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		st.Error = err.Error()
		return st
	}
	if json.Valid(body) {
		st.Body = body
	} else if len(body) > 0 {
		st.Body, _ = json.Marshal(strings.TrimSpace(string(body)))
	}
	return st
}

func printStatus(w io.Writer, results []endpointStatus) {
	for i, st := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if st.Error != "" {
			fmt.Fprintf(w, "GET %s: %s\n", st.Path, st.Error)
			continue
		}
		fmt.Fprintf(w, "GET %s: %d %s\n", st.Path, st.Status, http.StatusText(st.Status))
		if len(st.Body) > 0 {
			fmt.Fprintln(w, render.Payload(st.Body, defaultMaxOutput))
		}
	}
}
