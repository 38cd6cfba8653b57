// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptroute/internal/catalog"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.ModelSpec{
		{ID: "openai/gpt-4o", Name: "GPT-4o", CostPer1K: decimal.NewFromFloat(0.005), MaxTokens: 4096, ContextLength: 128000, Temperature: 0.7},
		{ID: "anthropic/claude-3-opus", Name: "Opus", CostPer1K: decimal.NewFromFloat(0.015), MaxTokens: 4096, ContextLength: 200000, Temperature: 0.7},
		{ID: "anthropic/claude-3-haiku", Name: "Haiku", CostPer1K: decimal.NewFromFloat(0.00025), MaxTokens: 4096, ContextLength: 200000, Temperature: 0.7},
	})
	if err != nil {
		t.Fatalf("catalog.New failed: %v", err)
	}
	return cat
}

func testRouter(t *testing.T) *Router {
	t.Helper()
	rules, err := CompileRules([]RuleSpec{
		{Type: "coding", Patterns: []string{`\b(write|fix)\b.*\b(function|bug|code)\b`}, PreferredModel: "openai/gpt-4o"},
		{Type: "quick_questions", Patterns: []string{`\?\s*$`}},
	})
	if err != nil {
		t.Fatalf("CompileRules failed: %v", err)
	}

	r, err := New(testCatalog(t), Options{
		Rules: rules,
		Policy: PolicyTable{
			PromptCoding: {
				BucketShort:  "openai/gpt-4o",
				BucketMedium: "openai/gpt-4o",
				BucketLong:   "anthropic/claude-3-opus",
			},
			PromptQuickQuestion: {
				BucketShort: "anthropic/claude-3-haiku",
			},
		},
		DefaultModel: "anthropic/claude-3-haiku",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

func TestRoutePolicySelection(t *testing.T) {
	r := testRouter(t)

	d, err := r.Route("Write a python function to sort a list", "", 0)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.PromptType != PromptCoding {
		t.Errorf("PromptType = %s, want coding", d.PromptType)
	}
	if d.LengthBucket != BucketShort {
		t.Errorf("LengthBucket = %s, want short", d.LengthBucket)
	}
	if d.SelectedModel != "openai/gpt-4o" {
		t.Errorf("SelectedModel = %s, want openai/gpt-4o", d.SelectedModel)
	}
	if d.ManualOverride {
		t.Error("ManualOverride = true, want false")
	}
	if d.EstimatedTokens <= 0 {
		t.Errorf("EstimatedTokens = %d, want > 0", d.EstimatedTokens)
	}
}

func TestRouteLongBucket(t *testing.T) {
	r := testRouter(t)

	// A coding prompt big enough to land in the long bucket.
	prompt := "fix this bug in my code " + strings.Repeat("context ", 3000)
	d, err := r.Route(prompt, "", 0)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.LengthBucket != BucketLong {
		t.Fatalf("LengthBucket = %s (est %d), want long", d.LengthBucket, d.EstimatedTokens)
	}
	if d.SelectedModel != "anthropic/claude-3-opus" {
		t.Errorf("SelectedModel = %s, want anthropic/claude-3-opus", d.SelectedModel)
	}
}

func TestRouteExplicitTokenCount(t *testing.T) {
	r := testRouter(t)

	// Caller-supplied estimate wins over text estimation.
	d, err := r.Route("fix this bug in my code", "", 2500)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.EstimatedTokens != 2500 {
		t.Errorf("EstimatedTokens = %d, want 2500", d.EstimatedTokens)
	}
	if d.LengthBucket != BucketLong {
		t.Errorf("LengthBucket = %s, want long", d.LengthBucket)
	}
}

func TestRouteManualOverride(t *testing.T) {
	r := testRouter(t)

	d, err := r.Route("Write a python function to sort a list", "anthropic/claude-3-opus", 0)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if !d.ManualOverride {
		t.Error("ManualOverride = false, want true")
	}
	if d.SelectedModel != "anthropic/claude-3-opus" {
		t.Errorf("SelectedModel = %s, want the override", d.SelectedModel)
	}
	// Selection is pinned but the prompt is still classified for logging.
	if d.PromptType != PromptCoding {
		t.Errorf("PromptType = %s, want coding", d.PromptType)
	}
}

func TestRouteManualOverrideUnmatchedPrompt(t *testing.T) {
	r := testRouter(t)

	d, err := r.Route("morning status update for the team", "anthropic/claude-3-opus", 0)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.PromptType != PromptGeneral {
		t.Errorf("PromptType = %s, want general", d.PromptType)
	}
	if d.SelectedModel != "anthropic/claude-3-opus" {
		t.Errorf("SelectedModel = %s, want the override", d.SelectedModel)
	}
}

func TestRouteInvalidOverride(t *testing.T) {
	r := testRouter(t)

	_, err := r.Route("hello", "no-such/model", 0)
	if err == nil {
		t.Fatal("expected error for unknown override, got nil")
	}
	var invalid *InvalidModelError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want *InvalidModelError", err)
	}
	if invalid.Model != "no-such/model" {
		t.Errorf("InvalidModelError.Model = %q, want no-such/model", invalid.Model)
	}
}

func TestRoutePolicyMissFallsBackToRulePreference(t *testing.T) {
	rules, err := CompileRules([]RuleSpec{
		{Type: "coding", Patterns: []string{`\bcode\b`}, PreferredModel: "openai/gpt-4o"},
	})
	if err != nil {
		t.Fatalf("CompileRules failed: %v", err)
	}
	// Policy has no coding entries at all.
	r, err := New(testCatalog(t), Options{
		Rules:        rules,
		Policy:       PolicyTable{},
		DefaultModel: "anthropic/claude-3-haiku",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	d, err := r.Route("review my code please", "", 0)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.SelectedModel != "openai/gpt-4o" {
		t.Errorf("SelectedModel = %s, want rule preference openai/gpt-4o", d.SelectedModel)
	}
}

func TestRouteUnmatchedPromptUsesDefault(t *testing.T) {
	r := testRouter(t)

	d, err := r.Route("morning status update for the team", "", 0)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.PromptType != PromptGeneral {
		t.Errorf("PromptType = %s, want general", d.PromptType)
	}
	if d.SelectedModel != "anthropic/claude-3-haiku" {
		t.Errorf("SelectedModel = %s, want default anthropic/claude-3-haiku", d.SelectedModel)
	}
}

func TestNewRejectsBadReferences(t *testing.T) {
	cat := testCatalog(t)

	if _, err := New(cat, Options{DefaultModel: "nope"}); err == nil {
		t.Error("expected error for unknown default model")
	}
	if _, err := New(cat, Options{}); err == nil {
		t.Error("expected error for empty default model")
	}
	if _, err := New(cat, Options{
		DefaultModel: "anthropic/claude-3-haiku",
		Policy:       PolicyTable{PromptCoding: {BucketShort: "missing/model"}},
	}); err == nil {
		t.Error("expected error for policy referencing unknown model")
	}
}
