package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/hodor-mcp-client/internal/hodor"
	"github.com/nugget/hodor-mcp-client/internal/journal"
	"github.com/nugget/hodor-mcp-client/internal/notify"
)

// publishTimeout bounds delivery of one tool.call event.
const publishTimeout = 15 * time.Second

// recorders opens the configured journal and event publisher and
// returns an observer for each. The returned close function releases
// them and must always be called.
func (c *cli) recorders() ([]hodor.CallObserver, func(), error) {
	var (
		observers []hodor.CallObserver
		closers   []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if path := c.cfg.Journal.Path; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, closeAll, fmt.Errorf("create journal directory: %w", err)
		}
		store, err := journal.Open(path)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, func() { store.Close() })
		observers = append(observers, c.journalObserver(store))
	}

	if mc := c.cfg.Notify.MQTT; mc.Configured() {
		instanceID, err := notify.LoadOrCreateInstanceID(stateDir())
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		pub, err := notify.NewMQTTPublisher(mc, instanceID, c.logger)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Close(ctx); err != nil {
				c.logger.Debug("mqtt disconnect failed", "error", err)
			}
		})
		observers = append(observers, c.eventObserver(pub, instanceID))
	}

	return observers, closeAll, nil
}

// journalObserver records each call in store. A failure to record is
// logged and does not fail the call.
func (c *cli) journalObserver(store *journal.Store) hodor.CallObserver {
	return func(ctx context.Context, rec hodor.CallRecord) {
		entry := journal.Entry{
			Timestamp:  rec.Started,
			Gateway:    c.cfg.BaseURL,
			Tool:       rec.Tool,
			Arguments:  marshalArguments(rec.Arguments),
			Result:     rec.Result,
			DurationMS: rec.Duration.Milliseconds(),
		}
		if rec.Err != nil {
			entry.Error = rec.Err.Error()
		}
		// Record even when the call was cancelled.
		if _, err := store.Record(context.WithoutCancel(ctx), entry); err != nil {
			c.logger.Warn("failed to record tool call", "tool", rec.Tool, "error", err)
		}
	}
}

// eventObserver publishes a tool.call event for each call.
func (c *cli) eventObserver(pub notify.Publisher, source string) hodor.CallObserver {
	return func(ctx context.Context, rec hodor.CallRecord) {
		data := notify.ToolCallData{
			Gateway:    c.cfg.BaseURL,
			Tool:       rec.Tool,
			Arguments:  marshalArguments(rec.Arguments),
			Result:     rec.Result,
			DurationMS: rec.Duration.Milliseconds(),
		}
		if rec.Err != nil {
			data.Error = rec.Err.Error()
		}
		ev, err := notify.NewToolCallEvent(source, data)
		if err != nil {
			c.logger.Warn("failed to build tool call event", "error", err)
			return
		}

		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := pub.Publish(pctx, ev); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("failed to publish tool call event", "tool", rec.Tool, "error", err)
		}
	}
}

func marshalArguments(args map[string]any) json.RawMessage {
	if args == nil {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// stateDir holds the client instance id.
func stateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hodor")
	}
	return filepath.Join(os.TempDir(), "hodor")
}
