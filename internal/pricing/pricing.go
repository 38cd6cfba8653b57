// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pricing computes token estimates and request costs against the
// model catalog. Money math uses decimals so a 1000-token call at the listed
// per-1K price costs exactly the listed price.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptroute/internal/catalog"
)

// ============================================================================
// TOKEN ESTIMATION
// ============================================================================

// EstimateTokens approximates the token count of text.
// GPT-style: ~4 chars per token on average. Uses a blend of word and
// character estimates for better accuracy. Deterministic for a given input.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text)
	return (words + chars/4) / 2
}

// EstimateCompletionTokens predicts how many completion tokens a model will
// generate for a prompt of the given size. Verbose flagship models tend to
// produce about 2x the prompt, terse fast models about 1.2x, everything else
// 1.5x.
func EstimateCompletionTokens(modelID string, promptTokens int) int {
	if promptTokens <= 0 {
		return 0
	}
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "opus") || strings.Contains(id, "gpt-4"):
		return promptTokens * 2
	case strings.Contains(id, "haiku") || strings.Contains(id, "turbo") || strings.Contains(id, "mini"):
		return promptTokens * 12 / 10
	default:
		return promptTokens * 3 / 2
	}
}

// ============================================================================
// COST ESTIMATION
// ============================================================================

var thousand = decimal.NewFromInt(1000)

// UnknownModelError is returned when a cost is requested for a model id that
// is not in the catalog.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q: not in catalog", e.Model)
}

// Estimator prices requests against a catalog. Stateless and safe for
// concurrent use.
type Estimator struct {
	catalog *catalog.Catalog
}

// NewEstimator returns an Estimator over cat.
func NewEstimator(cat *catalog.Catalog) *Estimator {
	return &Estimator{catalog: cat}
}

// Estimate returns the cost in USD of promptTokens + completionTokens on the
// given model: (prompt + completion) / 1000 * cost_per_1k. Token counts must
// be non-negative; an unknown model returns *UnknownModelError.
func (e *Estimator) Estimate(modelID string, promptTokens, completionTokens int) (decimal.Decimal, error) {
	if promptTokens < 0 || completionTokens < 0 {
		return decimal.Zero, fmt.Errorf("negative token count (prompt=%d, completion=%d)", promptTokens, completionTokens)
	}
	spec, ok := e.catalog.Get(modelID)
	if !ok {
		return decimal.Zero, &UnknownModelError{Model: modelID}
	}
	total := decimal.NewFromInt(int64(promptTokens + completionTokens))
	return spec.CostPer1K.Mul(total).Div(thousand), nil
}

// ModelEstimate is one row of an EstimateAll comparison.
type ModelEstimate struct {
	ModelID string          `json:"model_id"`
	Name    string          `json:"name"`
	Cost    decimal.Decimal `json:"cost"`
}

// EstimateAll prices the same request on every catalog model, one entry per
// model in catalog declaration order.
func (e *Estimator) EstimateAll(promptTokens, completionTokens int) ([]ModelEstimate, error) {
	if promptTokens < 0 || completionTokens < 0 {
		return nil, fmt.Errorf("negative token count (prompt=%d, completion=%d)", promptTokens, completionTokens)
	}
	models := e.catalog.Models()
	out := make([]ModelEstimate, 0, len(models))
	total := decimal.NewFromInt(int64(promptTokens + completionTokens))
	for _, m := range models {
		out = append(out, ModelEstimate{
			ModelID: m.ID,
			Name:    m.Name,
			Cost:    m.CostPer1K.Mul(total).Div(thousand),
		})
	}
	return out, nil
}
