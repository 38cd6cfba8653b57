// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/promptroute/internal/tracker"
)

func sampleReport() *tracker.Report {
	return &tracker.Report{
		GeneratedAt: time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC),
		CurrentSession: tracker.SessionSummary{
			SessionID:   "sess-1",
			Calls:       2,
			TotalTokens: 300,
			TotalCost:   decimal.RequireFromString("0.0015"),
			PerModel:    map[string]tracker.ModelStats{},
		},
		Today: tracker.DailySummary{
			Date:        "2025-08-25",
			Calls:       2,
			TotalTokens: 300,
			TotalCost:   decimal.RequireFromString("0.0015"),
			PerModel:    map[string]tracker.ModelStats{},
		},
		AllTime: tracker.AllTimeStats{
			Calls:        5,
			TotalTokens:  900,
			TotalCost:    decimal.RequireFromString("0.004"),
			UniqueModels: 2,
		},
		ModelBreakdown: map[string]tracker.ModelStats{
			"openai/gpt-4o":            {Calls: 3, TotalTokens: 600, Cost: decimal.RequireFromString("0.003")},
			"anthropic/claude-3-haiku": {Calls: 2, TotalTokens: 300, Cost: decimal.RequireFromString("0.001")},
		},
	}
}

func TestForFormat(t *testing.T) {
	for _, format := range []string{"json", "csv", "md", "markdown"} {
		if _, err := ForFormat(format); err != nil {
			t.Errorf("ForFormat(%q) failed: %v", format, err)
		}
	}
	if _, err := ForFormat("xlsx"); err == nil {
		t.Error("ForFormat(xlsx) should fail")
	}
}

func TestJSONExport(t *testing.T) {
	data, err := JSONExporter{}.Export(sampleReport())
	require.NoError(t, err)

	var parsed tracker.Report
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Equal(t, 5, parsed.AllTime.Calls)
	require.True(t, parsed.AllTime.TotalCost.Equal(decimal.RequireFromString("0.004")))
	require.Len(t, parsed.ModelBreakdown, 2)
}

func TestCSVExport(t *testing.T) {
	data, err := CSVExporter{}.Export(sampleReport())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "model,calls,total_tokens,cost_usd", lines[0])
	// Sorted by model id: anthropic before openai.
	require.True(t, strings.HasPrefix(lines[1], "anthropic/claude-3-haiku,2,300,"))
	require.True(t, strings.HasPrefix(lines[2], "openai/gpt-4o,3,600,"))
}

func TestMarkdownExport(t *testing.T) {
	data, err := MarkdownExporter{}.Export(sampleReport())
	require.NoError(t, err)

	md := string(data)
	require.Contains(t, md, "# Cost Report")
	require.Contains(t, md, "sess-1")
	require.Contains(t, md, "2025-08-25")
	require.Contains(t, md, "openai/gpt-4o")
	require.Contains(t, md, "anthropic/claude-3-haiku")
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	written, err := WriteReport(sampleReport(), JSONExporter{}, path)
	require.NoError(t, err)
	require.Equal(t, path, written)

	loaded, err := tracker.LoadReport(path)
	require.NoError(t, err)
	require.Equal(t, "sess-1", loaded.CurrentSession.SessionID)
}
