// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// TRACKER: Session cost accounting over the JSONL ledger
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptroute/internal/pricing"
)

// ============================================================================
// SUMMARIES
// ============================================================================

// ModelStats aggregates usage for a single model.
type ModelStats struct {
	Calls       int             `json:"calls"`
	TotalTokens int             `json:"total_tokens"`
	Cost        decimal.Decimal `json:"cost"`
}

// SessionSummary is a fold over the current session's in-memory records.
// Two consecutive summaries with no interleaved LogCall are identical.
type SessionSummary struct {
	SessionID   string                `json:"session_id"`
	Calls       int                   `json:"calls"`
	TotalTokens int                   `json:"total_tokens"`
	TotalCost   decimal.Decimal       `json:"total_cost"`
	PerModel    map[string]ModelStats `json:"per_model"`
}

// DailySummary is a fold over persisted records for one local calendar day.
type DailySummary struct {
	// Date is the local calendar day in YYYY-MM-DD form. Day boundaries
	// follow the local timezone, matching how the records were stamped.
	Date        string                `json:"date"`
	Calls       int                   `json:"calls"`
	TotalTokens int                   `json:"total_tokens"`
	TotalCost   decimal.Decimal       `json:"total_cost"`
	PerModel    map[string]ModelStats `json:"per_model"`
}

// ============================================================================
// TRACKER
// ============================================================================

// Tracker owns the cost accounting for one session. Bookkeeping is cheap and
// synchronous; only the model call itself is slow, and that never happens
// under the tracker's lock. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	estimator *pricing.Estimator
	ledger    *Ledger
	sessionID string
	records   []UsageRecord
	now       func() time.Time
}

// New creates a Tracker with a fresh session id, writing through to ledger.
func New(estimator *pricing.Estimator, ledger *Ledger) *Tracker {
	return &Tracker{
		estimator: estimator,
		ledger:    ledger,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

// SessionID returns this tracker's session identifier.
func (t *Tracker) SessionID() string {
	return t.sessionID
}

// LogCall records a completed call with its actual token counts. The cost is
// computed from the catalog price; an unknown model is an error and nothing
// is recorded. The record is appended in memory first, then to the ledger
// file; a file failure returns the record together with a
// *PersistenceWarning rather than losing the in-memory entry.
func (t *Tracker) LogCall(model string, usage Usage) (UsageRecord, error) {
	total := usage.TotalTokens
	if total == 0 {
		total = usage.PromptTokens + usage.CompletionTokens
	}
	cost, err := t.estimator.Estimate(model, usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		return UsageRecord{}, fmt.Errorf("cannot log call: %w", err)
	}

	rec := UsageRecord{
		Timestamp:        t.now(),
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      total,
		Cost:             cost,
		SessionID:        t.sessionID,
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()

	if t.ledger != nil {
		if err := t.ledger.Append(rec); err != nil {
			return rec, &PersistenceWarning{Err: err}
		}
	}
	return rec, nil
}

// SessionSummary folds the in-memory records for this session.
func (t *Tracker) SessionSummary() SessionSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := SessionSummary{
		SessionID: t.sessionID,
		TotalCost: decimal.Zero,
		PerModel:  make(map[string]ModelStats),
	}
	for _, rec := range t.records {
		s.Calls++
		s.TotalTokens += rec.TotalTokens
		s.TotalCost = s.TotalCost.Add(rec.Cost)
		ms := s.PerModel[rec.Model]
		ms.Calls++
		ms.TotalTokens += rec.TotalTokens
		ms.Cost = ms.Cost.Add(rec.Cost)
		s.PerModel[rec.Model] = ms
	}
	return s
}

// replay reads every persisted record. A tracker without a ledger is
// memory-only; replay then yields nothing rather than failing.
func (t *Tracker) replay() ([]UsageRecord, error) {
	if t.ledger == nil {
		return nil, nil
	}
	return t.ledger.Replay()
}

// DailySummary folds the persisted ledger for the local calendar day that
// date falls on.
func (t *Tracker) DailySummary(date time.Time) (DailySummary, error) {
	records, err := t.replay()
	if err != nil {
		return DailySummary{}, err
	}
	day := date.Local().Format("2006-01-02")

	s := DailySummary{
		Date:      day,
		TotalCost: decimal.Zero,
		PerModel:  make(map[string]ModelStats),
	}
	for _, rec := range records {
		if rec.Timestamp.Local().Format("2006-01-02") != day {
			continue
		}
		s.Calls++
		s.TotalTokens += rec.TotalTokens
		s.TotalCost = s.TotalCost.Add(rec.Cost)
		ms := s.PerModel[rec.Model]
		ms.Calls++
		ms.TotalTokens += rec.TotalTokens
		ms.Cost = ms.Cost.Add(rec.Cost)
		s.PerModel[rec.Model] = ms
	}
	return s, nil
}
