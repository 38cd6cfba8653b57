// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// TRACKER: Exportable cost report assembled from session + ledger
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptroute/internal/util"
)

// ============================================================================
// REPORT
// ============================================================================

// AllTimeStats aggregates every record ever persisted to the ledger.
type AllTimeStats struct {
	Calls        int             `json:"calls"`
	TotalTokens  int             `json:"total_tokens"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	UniqueModels int             `json:"unique_models"`
}

// Report is the exportable cost report: the current session, today's
// activity, all-time totals, and a per-model breakdown over all time.
type Report struct {
	GeneratedAt    time.Time             `json:"generated_at"`
	CurrentSession SessionSummary        `json:"current_session"`
	Today          DailySummary          `json:"today"`
	AllTime        AllTimeStats          `json:"all_time"`
	ModelBreakdown map[string]ModelStats `json:"model_breakdown"`
}

// BuildReport assembles a report from the in-memory session and the
// persisted ledger. It reads the ledger but never mutates it.
func (t *Tracker) BuildReport() (*Report, error) {
	records, err := t.replay()
	if err != nil {
		return nil, err
	}

	now := t.now()
	rep := &Report{
		GeneratedAt:    now,
		CurrentSession: t.SessionSummary(),
		AllTime:        AllTimeStats{TotalCost: decimal.Zero},
		ModelBreakdown: make(map[string]ModelStats),
	}

	today, err := t.DailySummary(now)
	if err != nil {
		return nil, err
	}
	rep.Today = today

	for _, rec := range records {
		rep.AllTime.Calls++
		rep.AllTime.TotalTokens += rec.TotalTokens
		rep.AllTime.TotalCost = rep.AllTime.TotalCost.Add(rec.Cost)
		ms := rep.ModelBreakdown[rec.Model]
		ms.Calls++
		ms.TotalTokens += rec.TotalTokens
		ms.Cost = ms.Cost.Add(rec.Cost)
		rep.ModelBreakdown[rec.Model] = ms
	}
	rep.AllTime.UniqueModels = len(rep.ModelBreakdown)
	return rep, nil
}

// ExportReport writes the report as indented JSON to path using an atomic
// write, and returns the path written. Map keys marshal sorted, so exporting
// the same state twice produces identical files apart from generated_at.
func (t *Tracker) ExportReport(path string) (string, error) {
	rep, err := t.BuildReport()
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// LoadReport reads a previously exported report.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &rep, nil
}
