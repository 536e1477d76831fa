package hodor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/hodor-mcp-client/internal/mcp"
)

// DefaultQuery is the hodor-find query used when none is given.
const DefaultQuery = "memory"

// ErrNoToolSelected is returned when no tool was named and the selection
// policy found nothing to run.
var ErrNoToolSelected = errors.New("no tool selected for execution")

// FlowOptions controls a Run.
type FlowOptions struct {
	// Query is passed to hodor-find. Empty means DefaultQuery.
	Query string

	// Tool names the tool to execute. When empty, Select picks one from
	// the hodor-find results.
	Tool string

	// Arguments for the tool. When nil, Args derives them.
	Arguments map[string]any

	// SkipSchema skips the informational hodor-schema step.
	SkipSchema bool

	// Select defaults to DefaultSelection.
	Select SelectionPolicy

	// Args defaults to DefaultArguments.
	Args ArgumentPolicy
}

// FlowResult collects what each step of a Run produced.
type FlowResult struct {
	Server    *mcp.InitializeResult // nil if initialize had no result
	Tools     []ToolDescriptor
	Tool      string
	Schema    json.RawMessage
	SchemaErr error
	Arguments map[string]any
	Output    json.RawMessage
	Elapsed   time.Duration
}

// Executed reports whether the run reached hodor-exec.
func (r *FlowResult) Executed() bool {
	return r.Output != nil
}

// Run performs the full discovery and execution sequence on gw:
// connect, initialize, hodor-find, optional hodor-schema, hodor-exec.
// gw is closed on every return path. The returned result holds whatever
// steps completed, even when err is non-nil.
//
// When no tool was named and hodor-find returned nothing selectable, Run
// stops after find and returns ErrNoToolSelected.
func Run(ctx context.Context, gw *Gateway, opts FlowOptions) (res *FlowResult, err error) {
	start := time.Now()
	res = &FlowResult{}
	defer func() {
		res.Elapsed = time.Since(start)
		if cerr := gw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close session: %w", cerr)
		}
	}()

	query := opts.Query
	if query == "" {
		query = DefaultQuery
	}
	selectTool := opts.Select
	if selectTool == nil {
		selectTool = DefaultSelection
	}
	argsFor := opts.Args
	if argsFor == nil {
		argsFor = DefaultArguments
	}

	if err := gw.Connect(ctx); err != nil {
		return res, err
	}

	if res.Server, err = gw.Initialize(ctx); err != nil {
		return res, err
	}

	if res.Tools, err = gw.Find(ctx, query); err != nil {
		return res, err
	}

	res.Tool = opts.Tool
	if res.Tool == "" {
		picked, ok := selectTool(res.Tools)
		if !ok {
			return res, fmt.Errorf("%w (query %q matched %d tools)", ErrNoToolSelected, query, len(res.Tools))
		}
		res.Tool = picked.FullName
		gw.logger.Info("tool selected", "tool", res.Tool)
	}

	if !opts.SkipSchema {
		res.Schema, res.SchemaErr = gw.Schema(ctx, res.Tool)
		if res.SchemaErr != nil {
			gw.logger.Warn("schema lookup failed, continuing", "tool", res.Tool, "error", res.SchemaErr)
			// A transport failure here has already closed an SSE
			// session; exec below reports it.
		}
	}

	res.Arguments = opts.Arguments
	if res.Arguments == nil {
		res.Arguments = argsFor(res.Tool)
	}

	if res.Output, err = gw.Exec(ctx, res.Tool, res.Arguments); err != nil {
		return res, err
	}
	return res, nil
}
