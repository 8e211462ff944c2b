// Package history provides best-effort SQLite logging of terminal
// executions for diagnostics. It is write-mostly and never read back for
// recovery: coordinator state stays in memory only.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crewfoundry/foreman/internal/proc"
)

// DB wraps an SQLite database holding the execution history.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
}

// DefaultPath returns the XDG data path for the history database.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "foreman", "history.db")
}

// Open opens (and migrates) the history database at the given path,
// creating parent directories as needed.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrent reads while the coordinator writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// migrate creates the schema if it does not exist.
func (db *DB) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id    TEXT NOT NULL,
	work_item   TEXT NOT NULL,
	state       TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	exit_code   INTEGER NOT NULL,
	output_tail TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMP NOT NULL,
	ended_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_agent ON executions(agent_id);
`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("migrate history schema: %w", err)
	}
	return nil
}

// Record appends one terminal execution to the history.
func (db *DB) Record(res *proc.ExecutionResult) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(
		`INSERT INTO executions (agent_id, work_item, state, reason, exit_code, output_tail, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.AgentID, res.WorkItemID, string(res.State), string(res.Reason),
		res.ExitCode, tail(res.Output, 4096), res.StartedAt, res.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// Entry is one row of execution history.
type Entry struct {
	// AgentID is the agent that ran the work item.
	AgentID string
	// WorkItemID is the executed work item.
	WorkItemID string
	// State is the terminal state.
	State string
	// Reason is the failure reason, empty on success.
	Reason string
	// ExitCode is the process exit code.
	ExitCode int
	// StartedAt is when the execution began.
	StartedAt time.Time
	// EndedAt is when the execution finished.
	EndedAt time.Time
}

// Recent returns the most recent executions, newest first.
func (db *DB) Recent(limit int) ([]Entry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(
		`SELECT agent_id, work_item, state, reason, exit_code, started_at, ended_at
		 FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.AgentID, &e.WorkItemID, &e.State, &e.Reason, &e.ExitCode, &e.StartedAt, &e.EndedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
