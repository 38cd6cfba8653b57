// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBuildReport(t *testing.T) {
	tr, _ := testTracker(t)

	_, err := tr.LogCall("openai/gpt-4o", Usage{PromptTokens: 100, CompletionTokens: 100})
	require.NoError(t, err)
	_, err = tr.LogCall("anthropic/claude-3-haiku", Usage{PromptTokens: 200, CompletionTokens: 200})
	require.NoError(t, err)

	rep, err := tr.BuildReport()
	require.NoError(t, err)

	require.False(t, rep.GeneratedAt.IsZero())
	require.Equal(t, tr.SessionID(), rep.CurrentSession.SessionID)
	require.Equal(t, 2, rep.CurrentSession.Calls)
	require.Equal(t, 2, rep.Today.Calls)
	require.Equal(t, 2, rep.AllTime.Calls)
	require.Equal(t, 600, rep.AllTime.TotalTokens)
	require.Equal(t, 2, rep.AllTime.UniqueModels)
	require.Len(t, rep.ModelBreakdown, 2)

	wantCost := decimal.RequireFromString("0.001").Add(decimal.RequireFromString("0.0001"))
	require.True(t, rep.AllTime.TotalCost.Equal(wantCost),
		"all-time cost = %s, want %s", rep.AllTime.TotalCost, wantCost)
}

// TestExportReportRoundTrip verifies an exported report loads back with the
// same totals, and that exporting does not disturb the ledger.
func TestExportReportRoundTrip(t *testing.T) {
	tr, ledger := testTracker(t)

	_, err := tr.LogCall("openai/gpt-4o", Usage{PromptTokens: 100, CompletionTokens: 100})
	require.NoError(t, err)

	before, err := os.ReadFile(ledger.Path())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.json")
	written, err := tr.ExportReport(path)
	require.NoError(t, err)
	require.Equal(t, path, written)

	after, err := os.ReadFile(ledger.Path())
	require.NoError(t, err)
	require.Equal(t, before, after, "export must not mutate the ledger")

	loaded, err := LoadReport(path)
	require.NoError(t, err)
	require.Equal(t, tr.SessionID(), loaded.CurrentSession.SessionID)
	require.Equal(t, 1, loaded.AllTime.Calls)
	require.True(t, loaded.AllTime.TotalCost.Equal(decimal.RequireFromString("0.001")))
}

// TestExportReportIdempotent verifies two exports of the same state agree
// on everything but the generation timestamp.
func TestExportReportIdempotent(t *testing.T) {
	tr, _ := testTracker(t)

	_, err := tr.LogCall("openai/gpt-4o", Usage{PromptTokens: 50, CompletionTokens: 50})
	require.NoError(t, err)

	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.json")
	p2 := filepath.Join(dir, "b.json")
	_, err = tr.ExportReport(p1)
	require.NoError(t, err)
	_, err = tr.ExportReport(p2)
	require.NoError(t, err)

	a, err := LoadReport(p1)
	require.NoError(t, err)
	b, err := LoadReport(p2)
	require.NoError(t, err)

	require.Equal(t, a.AllTime, b.AllTime)
	require.Equal(t, a.CurrentSession.Calls, b.CurrentSession.Calls)
	require.True(t, a.CurrentSession.TotalCost.Equal(b.CurrentSession.TotalCost))
	require.Equal(t, a.ModelBreakdown, b.ModelBreakdown)
}
