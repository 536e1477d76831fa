// Package journal keeps a local, append-only history of tool executions
// made through the gateway. Entries are indexed by timestamp and tool so
// recent calls and per-tool totals are cheap to query.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// tsLayout is fixed-width so stored timestamps sort as strings.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one hodor-exec call.
type Entry struct {
	ID         string
	Timestamp  time.Time
	Gateway    string // base address the call went to
	Tool       string
	Arguments  json.RawMessage
	Result     json.RawMessage // nil when the call failed
	Error      string          // empty when the call succeeded
	DurationMS int64
}

// Succeeded reports whether the call returned a result.
func (e Entry) Succeeded() bool {
	return e.Error == ""
}

// Summary holds aggregated totals for a group of entries.
type Summary struct {
	Calls         int
	Failures      int
	TotalDuration time.Duration
	LastCall      time.Time
}

// AverageDuration returns the mean call duration.
func (s *Summary) AverageDuration() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Calls)
}

// Store is an append-only SQLite store of tool calls. All public methods
// are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open creates a journal at the given database path. The schema is
// created automatically on first use.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already open database, creating the schema if needed.
// The store takes ownership of db.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_calls (
		id           TEXT PRIMARY KEY,
		timestamp    TEXT NOT NULL,
		gateway      TEXT NOT NULL,
		tool         TEXT NOT NULL,
		arguments    TEXT NOT NULL,
		result       TEXT,
		error        TEXT NOT NULL DEFAULT '',
		duration_ms  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_timestamp ON tool_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists an entry. If e.ID is empty, a UUIDv7 is generated;
// if e.Timestamp is zero, the current time is used. The stored entry is
// returned.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return e, fmt.Errorf("generate journal entry ID: %w", err)
		}
		e.ID = id.String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if len(e.Arguments) == 0 {
		e.Arguments = json.RawMessage(`{}`)
	}

	var result any
	if e.Result != nil {
		result = string(e.Result)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls
			(id, timestamp, gateway, tool, arguments, result, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Timestamp.Format(tsLayout),
		e.Gateway,
		e.Tool,
		string(e.Arguments),
		result,
		e.Error,
		e.DurationMS,
	)
	if err != nil {
		return e, fmt.Errorf("insert journal entry: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first. A tool filter of ""
// matches every tool.
func (s *Store) Recent(ctx context.Context, tool string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, gateway, tool, arguments, result, error, duration_ms
		 FROM tool_calls
		 WHERE ? = '' OR tool = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		tool, tool, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent journal entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			ts     string
			args   string
			result sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Gateway, &e.Tool, &args, &result, &e.Error, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if e.Timestamp, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("parse journal timestamp %q: %w", ts, err)
		}
		e.Arguments = json.RawMessage(args)
		if result.Valid {
			e.Result = json.RawMessage(result.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SummaryByTool returns per-tool totals for entries within [start, end).
func (s *Store) SummaryByTool(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool, COUNT(*), COALESCE(SUM(error != ''), 0), COALESCE(SUM(duration_ms), 0), MAX(timestamp)
		 FROM tool_calls
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY tool
		 ORDER BY COUNT(*) DESC`,
		start.UTC().Format(tsLayout),
		end.UTC().Format(tsLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query journal by tool: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var (
			tool    string
			sum     Summary
			totalMS int64
			last    string
		)
		if err := rows.Scan(&tool, &sum.Calls, &sum.Failures, &totalMS, &last); err != nil {
			return nil, fmt.Errorf("scan journal by tool: %w", err)
		}
		sum.TotalDuration = time.Duration(totalMS) * time.Millisecond
		if sum.LastCall, err = time.Parse(tsLayout, last); err != nil {
			return nil, fmt.Errorf("parse journal timestamp %q: %w", last, err)
		}
		result[tool] = &sum
	}
	return result, rows.Err()
}
