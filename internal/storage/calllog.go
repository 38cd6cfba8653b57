// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the model call log in SQLite. Every routed call
// lands here, including failures; the cost ledger only ever sees successes,
// so this table is where failure rates and routing quality get analyzed.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/jeranaias/promptroute/internal/util"
)

// ============================================================================
// SCHEMA
// ============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS model_calls (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       TEXT NOT NULL,
	prompt_id        TEXT NOT NULL,
	ts               INTEGER NOT NULL,
	model            TEXT NOT NULL,
	prompt_type      TEXT NOT NULL,
	length_bucket    TEXT NOT NULL,
	manual_override  INTEGER NOT NULL DEFAULT 0,
	prompt_tokens    INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens     INTEGER NOT NULL DEFAULT 0,
	cost             TEXT NOT NULL DEFAULT '0',
	latency_ms       INTEGER NOT NULL DEFAULT 0,
	success          INTEGER NOT NULL DEFAULT 1,
	error_type       TEXT NOT NULL DEFAULT '',
	prompt_preview   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_model_calls_session ON model_calls(session_id);
CREATE INDEX IF NOT EXISTS idx_model_calls_ts ON model_calls(ts);
CREATE INDEX IF NOT EXISTS idx_model_calls_model ON model_calls(model);
`

// previewLimit caps stored prompt previews.
const previewLimit = 100

// ============================================================================
// RECORDS
// ============================================================================

// CallRecord is one row of the model call log.
type CallRecord struct {
	SessionID        string
	PromptID         string
	Timestamp        time.Time
	Model            string
	PromptType       string
	LengthBucket     string
	ManualOverride   bool
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             decimal.Decimal
	LatencyMs        int64
	Success          bool
	ErrorType        string
	PromptPreview    string
}

// Totals aggregates the whole call log.
type Totals struct {
	Calls       int
	Succeeded   int
	Failed      int
	TotalTokens int
}

// ============================================================================
// CALL LOG
// ============================================================================

// DefaultCallLogPath returns ~/.promptroute/calls.db.
func DefaultCallLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".promptroute", "calls.db"), nil
}

// CallLog is the SQLite-backed model call log. Safe for concurrent use;
// database/sql serializes access to the single connection.
type CallLog struct {
	db *sql.DB
}

// Open opens (creating if needed) the call log at path. An empty path uses
// DefaultCallLogPath.
func Open(path string) (*CallLog, error) {
	if path == "" {
		var err error
		path, err = DefaultCallLogPath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create call log directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	// Single writer; modernc sqlite handles WAL per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create call log schema: %w", err)
	}
	return &CallLog{db: db}, nil
}

// Record appends one call to the log. The prompt preview is truncated to
// previewLimit runes before storage.
func (c *CallLog) Record(rec CallRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := c.db.Exec(`
		INSERT INTO model_calls (
			session_id, prompt_id, ts, model, prompt_type, length_bucket,
			manual_override, prompt_tokens, completion_tokens, total_tokens,
			cost, latency_ms, success, error_type, prompt_preview
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.PromptID, ts.Unix(), rec.Model, rec.PromptType,
		rec.LengthBucket, boolToInt(rec.ManualOverride), rec.PromptTokens,
		rec.CompletionTokens, rec.TotalTokens, rec.Cost.String(),
		rec.LatencyMs, boolToInt(rec.Success), rec.ErrorType,
		util.TruncateString(rec.PromptPreview, previewLimit),
	)
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}

// BySession returns all calls for a session, oldest first.
func (c *CallLog) BySession(sessionID string) ([]CallRecord, error) {
	rows, err := c.db.Query(selectCols+` WHERE session_id = ? ORDER BY ts, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session calls: %w", err)
	}
	return scanRecords(rows)
}

// ByDay returns all calls on the local calendar day that date falls on,
// oldest first.
func (c *CallLog) ByDay(date time.Time) ([]CallRecord, error) {
	local := date.Local()
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	end := start.AddDate(0, 0, 1)

	rows, err := c.db.Query(selectCols+` WHERE ts >= ? AND ts < ? ORDER BY ts, id`, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily calls: %w", err)
	}
	return scanRecords(rows)
}

// AllTotals aggregates the entire call log.
func (c *CallLog) AllTotals() (Totals, error) {
	var t Totals
	row := c.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(SUM(1 - success), 0),
		       COALESCE(SUM(total_tokens), 0)
		FROM model_calls`)
	if err := row.Scan(&t.Calls, &t.Succeeded, &t.Failed, &t.TotalTokens); err != nil {
		return Totals{}, fmt.Errorf("failed to aggregate call log: %w", err)
	}
	return t, nil
}

// Close closes the underlying database.
func (c *CallLog) Close() error {
	return c.db.Close()
}

// ============================================================================
// SCAN HELPERS
// ============================================================================

const selectCols = `
	SELECT session_id, prompt_id, ts, model, prompt_type, length_bucket,
	       manual_override, prompt_tokens, completion_tokens, total_tokens,
	       cost, latency_ms, success, error_type, prompt_preview
	FROM model_calls`

func scanRecords(rows *sql.Rows) ([]CallRecord, error) {
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var (
			rec      CallRecord
			ts       int64
			manual   int
			success  int
			costText string
		)
		if err := rows.Scan(
			&rec.SessionID, &rec.PromptID, &ts, &rec.Model, &rec.PromptType,
			&rec.LengthBucket, &manual, &rec.PromptTokens,
			&rec.CompletionTokens, &rec.TotalTokens, &costText,
			&rec.LatencyMs, &success, &rec.ErrorType, &rec.PromptPreview,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		cost, err := decimal.NewFromString(costText)
		if err != nil {
			return nil, fmt.Errorf("bad cost value %q: %w", costText, err)
		}
		rec.Timestamp = time.Unix(ts, 0)
		rec.ManualOverride = manual != 0
		rec.Success = success != 0
		rec.Cost = cost
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate call records: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
