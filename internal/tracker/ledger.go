// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tracker records per-call usage and cost: an in-memory session
// ledger for fast summaries plus an append-only JSONL file that survives
// restarts and can be replayed for daily and all-time reporting.
package tracker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// USAGE RECORDS
// ============================================================================

// Usage is the token accounting for one completed call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// UsageRecord is one ledger entry: a successfully completed model call with
// its actual token counts and computed cost.
type UsageRecord struct {
	Timestamp        time.Time       `json:"timestamp"`
	Model            string          `json:"model"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	Cost             decimal.Decimal `json:"cost"`
	SessionID        string          `json:"session_id"`
}

// PersistenceWarning signals that a record was kept in memory but could not
// be written to the persistent ledger. Callers should surface it and carry
// on; it never invalidates the in-memory record.
type PersistenceWarning struct {
	Err error
}

func (w *PersistenceWarning) Error() string {
	return fmt.Sprintf("ledger write failed (record kept in memory): %v", w.Err)
}

func (w *PersistenceWarning) Unwrap() error {
	return w.Err
}

// ============================================================================
// JSONL LEDGER
// ============================================================================

// DefaultLedgerPath returns ~/.promptroute/costs.jsonl.
func DefaultLedgerPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".promptroute", "costs.jsonl"), nil
}

// Ledger is an append-only JSONL cost file: one marshaled UsageRecord per
// line. Each append is a single Write on an O_APPEND descriptor, so records
// from concurrent processes interleave at record granularity, never within
// a record.
type Ledger struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenLedger opens (creating if needed) the ledger at path. An empty path
// uses DefaultLedgerPath.
func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		var err error
		path, err = DefaultLedgerPath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return &Ledger{path: path, f: f}, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Append writes one record as a single JSONL line.
func (l *Ledger) Append(rec UsageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// Replay reads every record currently in the ledger file, in write order.
// Blank lines are skipped; a malformed line is an error, not silently
// dropped, so corruption is noticed.
func (l *Ledger) Replay() ([]UsageRecord, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ledger for replay: %w", err)
	}
	defer f.Close()

	var records []UsageRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec UsageRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return records, nil
}

// Close closes the underlying append descriptor.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
