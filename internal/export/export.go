// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders cost reports in multiple formats for sharing and
// downstream tooling: JSON for machines, CSV for spreadsheets, Markdown for
// humans.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jeranaias/promptroute/internal/tracker"
	"github.com/jeranaias/promptroute/internal/util"
)

// =============================================================================
// EXPORTER INTERFACE
// =============================================================================

// Exporter renders a cost report into a serialized format.
type Exporter interface {
	// Export renders the report.
	Export(rep *tracker.Report) ([]byte, error)

	// FileExtension returns the extension without the dot, e.g. "json".
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// ForFormat returns the exporter for a format name ("json", "csv", "md").
func ForFormat(format string) (Exporter, error) {
	switch format {
	case "json":
		return JSONExporter{}, nil
	case "csv":
		return CSVExporter{}, nil
	case "md", "markdown":
		return MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// WriteReport renders the report with exporter and writes it to path
// atomically, returning the path written.
func WriteReport(rep *tracker.Report, exporter Exporter, path string) (string, error) {
	data, err := exporter.Export(rep)
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// =============================================================================
// JSON
// =============================================================================

// JSONExporter renders the report as indented JSON.
type JSONExporter struct{}

func (JSONExporter) Export(rep *tracker.Report) ([]byte, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (JSONExporter) FileExtension() string { return "json" }
func (JSONExporter) MimeType() string      { return "application/json" }

// =============================================================================
// CSV
// =============================================================================

// CSVExporter renders the per-model breakdown as CSV, one row per model,
// sorted by model id so output is deterministic.
type CSVExporter struct{}

func (CSVExporter) Export(rep *tracker.Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"model", "calls", "total_tokens", "cost_usd"}); err != nil {
		return nil, err
	}
	for _, model := range sortedModels(rep.ModelBreakdown) {
		stats := rep.ModelBreakdown[model]
		row := []string{
			model,
			fmt.Sprintf("%d", stats.Calls),
			fmt.Sprintf("%d", stats.TotalTokens),
			stats.Cost.String(),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (CSVExporter) FileExtension() string { return "csv" }
func (CSVExporter) MimeType() string      { return "text/csv" }

// =============================================================================
// MARKDOWN
// =============================================================================

// MarkdownExporter renders a human-readable summary.
type MarkdownExporter struct{}

func (MarkdownExporter) Export(rep *tracker.Report) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Cost Report\n\n")
	fmt.Fprintf(&buf, "Generated: %s\n\n", rep.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(&buf, "## Current Session (%s)\n\n", rep.CurrentSession.SessionID)
	fmt.Fprintf(&buf, "- Calls: %d\n", rep.CurrentSession.Calls)
	fmt.Fprintf(&buf, "- Tokens: %d\n", rep.CurrentSession.TotalTokens)
	fmt.Fprintf(&buf, "- Cost: $%s\n\n", rep.CurrentSession.TotalCost.StringFixed(6))

	fmt.Fprintf(&buf, "## Today (%s)\n\n", rep.Today.Date)
	fmt.Fprintf(&buf, "- Calls: %d\n", rep.Today.Calls)
	fmt.Fprintf(&buf, "- Tokens: %d\n", rep.Today.TotalTokens)
	fmt.Fprintf(&buf, "- Cost: $%s\n\n", rep.Today.TotalCost.StringFixed(6))

	fmt.Fprintf(&buf, "## All Time\n\n")
	fmt.Fprintf(&buf, "- Calls: %d\n", rep.AllTime.Calls)
	fmt.Fprintf(&buf, "- Tokens: %d\n", rep.AllTime.TotalTokens)
	fmt.Fprintf(&buf, "- Cost: $%s\n", rep.AllTime.TotalCost.StringFixed(6))
	fmt.Fprintf(&buf, "- Models used: %d\n\n", rep.AllTime.UniqueModels)

	if len(rep.ModelBreakdown) > 0 {
		fmt.Fprintf(&buf, "## Per Model\n\n")
		fmt.Fprintf(&buf, "| Model | Calls | Tokens | Cost |\n")
		fmt.Fprintf(&buf, "|-------|------:|-------:|-----:|\n")
		for _, model := range sortedModels(rep.ModelBreakdown) {
			stats := rep.ModelBreakdown[model]
			fmt.Fprintf(&buf, "| %s | %d | %d | $%s |\n",
				model, stats.Calls, stats.TotalTokens, stats.Cost.StringFixed(6))
		}
	}

	return buf.Bytes(), nil
}

func (MarkdownExporter) FileExtension() string { return "md" }
func (MarkdownExporter) MimeType() string      { return "text/markdown" }

func sortedModels(breakdown map[string]tracker.ModelStats) []string {
	models := make([]string, 0, len(breakdown))
	for m := range breakdown {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}
