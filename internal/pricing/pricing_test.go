// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptroute/internal/catalog"
)

func testEstimator(t *testing.T) *Estimator {
	t.Helper()
	cat, err := catalog.New([]catalog.ModelSpec{
		{ID: "openai/gpt-4o", Name: "GPT-4o", CostPer1K: decimal.NewFromFloat(0.005), MaxTokens: 4096, ContextLength: 128000, Temperature: 0.7},
		{ID: "anthropic/claude-3-haiku", Name: "Haiku", CostPer1K: decimal.NewFromFloat(0.00025), MaxTokens: 4096, ContextLength: 200000, Temperature: 0.7},
		{ID: "free/model", Name: "Free", CostPer1K: decimal.Zero, MaxTokens: 4096, ContextLength: 8000, Temperature: 0.7},
	})
	if err != nil {
		t.Fatalf("catalog.New failed: %v", err)
	}
	return NewEstimator(cat)
}

// TestEstimateThousandTokens verifies that 1000 tokens cost exactly the
// per-1K price, with no float drift.
func TestEstimateThousandTokens(t *testing.T) {
	e := testEstimator(t)

	cost, err := e.Estimate("openai/gpt-4o", 1000, 0)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if want := decimal.NewFromFloat(0.005); !cost.Equal(want) {
		t.Errorf("Estimate(1000, 0) = %s, want %s", cost, want)
	}
}

func TestEstimate(t *testing.T) {
	e := testEstimator(t)

	tests := []struct {
		name       string
		model      string
		prompt     int
		completion int
		want       string
	}{
		{"hundred_tokens_at_5_per_million", "openai/gpt-4o", 20, 80, "0.0005"},
		{"split_does_not_matter", "openai/gpt-4o", 80, 20, "0.0005"},
		{"zero_tokens", "openai/gpt-4o", 0, 0, "0"},
		{"haiku_1k", "anthropic/claude-3-haiku", 500, 500, "0.00025"},
		{"zero_cost_model", "free/model", 12345, 678, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, err := e.Estimate(tt.model, tt.prompt, tt.completion)
			if err != nil {
				t.Fatalf("Estimate failed: %v", err)
			}
			if want := decimal.RequireFromString(tt.want); !cost.Equal(want) {
				t.Errorf("Estimate(%s, %d, %d) = %s, want %s", tt.model, tt.prompt, tt.completion, cost, want)
			}
		})
	}
}

func TestEstimateUnknownModel(t *testing.T) {
	e := testEstimator(t)

	_, err := e.Estimate("no-such/model", 100, 100)
	if err == nil {
		t.Fatal("expected error for unknown model, got nil")
	}
	var unknown *UnknownModelError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want *UnknownModelError", err)
	}
	if unknown.Model != "no-such/model" {
		t.Errorf("UnknownModelError.Model = %q, want no-such/model", unknown.Model)
	}
}

func TestEstimateNegativeTokens(t *testing.T) {
	e := testEstimator(t)

	if _, err := e.Estimate("openai/gpt-4o", -1, 0); err == nil {
		t.Error("expected error for negative prompt tokens")
	}
	if _, err := e.Estimate("openai/gpt-4o", 0, -1); err == nil {
		t.Error("expected error for negative completion tokens")
	}
	if _, err := e.EstimateAll(-1, 0); err == nil {
		t.Error("expected error for negative tokens in EstimateAll")
	}
}

// TestEstimateAll verifies one entry per catalog model, in catalog order.
func TestEstimateAll(t *testing.T) {
	e := testEstimator(t)

	all, err := e.EstimateAll(1000, 0)
	if err != nil {
		t.Fatalf("EstimateAll failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	wantOrder := []string{"openai/gpt-4o", "anthropic/claude-3-haiku", "free/model"}
	for i, want := range wantOrder {
		if all[i].ModelID != want {
			t.Errorf("entry %d = %s, want %s", i, all[i].ModelID, want)
		}
	}
	if want := decimal.NewFromFloat(0.005); !all[0].Cost.Equal(want) {
		t.Errorf("gpt-4o cost = %s, want %s", all[0].Cost, want)
	}
	if !all[2].Cost.Equal(decimal.Zero) {
		t.Errorf("free model cost = %s, want 0", all[2].Cost)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d, want 0", got)
	}

	// Deterministic: same text, same estimate.
	text := "Write a python function to sort a list"
	first := EstimateTokens(text)
	if first <= 0 {
		t.Fatalf("EstimateTokens = %d, want > 0", first)
	}
	for i := 0; i < 10; i++ {
		if got := EstimateTokens(text); got != first {
			t.Fatalf("estimate changed between runs: %d then %d", first, got)
		}
	}

	// Monotone-ish: much longer text estimates more tokens.
	longer := text + " with considerably more trailing context attached to it"
	if EstimateTokens(longer) <= first {
		t.Error("longer text should estimate more tokens")
	}
}

func TestEstimateCompletionTokens(t *testing.T) {
	tests := []struct {
		model  string
		prompt int
		want   int
	}{
		{"anthropic/claude-3-opus", 100, 200},
		{"openai/gpt-4o", 100, 200},
		{"anthropic/claude-3-haiku", 100, 120},
		{"openai/gpt-3.5-turbo", 100, 120},
		{"anthropic/claude-3-sonnet", 100, 150},
		{"anthropic/claude-3-sonnet", 0, 0},
	}

	for _, tt := range tests {
		if got := EstimateCompletionTokens(tt.model, tt.prompt); got != tt.want {
			t.Errorf("EstimateCompletionTokens(%s, %d) = %d, want %d", tt.model, tt.prompt, got, tt.want)
		}
	}
}
