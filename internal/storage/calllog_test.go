// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testCallLog(t *testing.T) *CallLog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "calls.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleCall(session string, success bool) CallRecord {
	return CallRecord{
		SessionID:        session,
		PromptID:         "prompt-1",
		Timestamp:        time.Now(),
		Model:            "openai/gpt-4o",
		PromptType:       "coding",
		LengthBucket:     "short",
		PromptTokens:     20,
		CompletionTokens: 80,
		TotalTokens:      100,
		Cost:             decimal.RequireFromString("0.0005"),
		LatencyMs:        321,
		Success:          success,
		PromptPreview:    "Write a python function to sort a list",
	}
}

func TestRecordAndBySession(t *testing.T) {
	c := testCallLog(t)

	require.NoError(t, c.Record(sampleCall("s1", true)))
	require.NoError(t, c.Record(sampleCall("s1", false)))
	require.NoError(t, c.Record(sampleCall("s2", true)))

	calls, err := c.BySession("s1")
	require.NoError(t, err)
	require.Len(t, calls, 2)

	got := calls[0]
	require.Equal(t, "openai/gpt-4o", got.Model)
	require.Equal(t, "coding", got.PromptType)
	require.Equal(t, "short", got.LengthBucket)
	require.Equal(t, 100, got.TotalTokens)
	require.Equal(t, int64(321), got.LatencyMs)
	require.True(t, got.Cost.Equal(decimal.RequireFromString("0.0005")))
	require.True(t, got.Success)
	require.False(t, calls[1].Success)
}

// TestRecordFailure verifies failed calls land in the log with their error
// type; they carry no usage or cost.
func TestRecordFailure(t *testing.T) {
	c := testCallLog(t)

	rec := sampleCall("s1", false)
	rec.PromptTokens = 0
	rec.CompletionTokens = 0
	rec.TotalTokens = 0
	rec.Cost = decimal.Zero
	rec.ErrorType = "rate_limited"
	require.NoError(t, c.Record(rec))

	calls, err := c.BySession("s1")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.False(t, calls[0].Success)
	require.Equal(t, "rate_limited", calls[0].ErrorType)
	require.True(t, calls[0].Cost.Equal(decimal.Zero))
}

func TestPromptPreviewTruncated(t *testing.T) {
	c := testCallLog(t)

	rec := sampleCall("s1", true)
	rec.PromptPreview = strings.Repeat("x", 500)
	require.NoError(t, c.Record(rec))

	calls, err := c.BySession("s1")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.LessOrEqual(t, len(calls[0].PromptPreview), 100)
	require.True(t, strings.HasSuffix(calls[0].PromptPreview, "..."))
}

func TestByDay(t *testing.T) {
	c := testCallLog(t)

	today := sampleCall("s1", true)
	yesterday := sampleCall("s1", true)
	yesterday.Timestamp = time.Now().AddDate(0, 0, -1)

	require.NoError(t, c.Record(today))
	require.NoError(t, c.Record(yesterday))

	calls, err := c.ByDay(time.Now())
	require.NoError(t, err)
	require.Len(t, calls, 1)

	calls, err = c.ByDay(time.Now().AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, calls, 1)
}

func TestAllTotals(t *testing.T) {
	c := testCallLog(t)

	require.NoError(t, c.Record(sampleCall("s1", true)))
	require.NoError(t, c.Record(sampleCall("s1", true)))
	failed := sampleCall("s2", false)
	failed.TotalTokens = 0
	require.NoError(t, c.Record(failed))

	totals, err := c.AllTotals()
	require.NoError(t, err)
	require.Equal(t, 3, totals.Calls)
	require.Equal(t, 2, totals.Succeeded)
	require.Equal(t, 1, totals.Failed)
	require.Equal(t, 200, totals.TotalTokens)
}

func TestOpenDefaultSchemaIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.db")

	c1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c1.Record(sampleCall("s1", true)))
	require.NoError(t, c1.Close())

	// Reopening must keep existing rows.
	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()
	calls, err := c2.BySession("s1")
	require.NoError(t, err)
	require.Len(t, calls, 1)
}
