// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog holds the immutable model catalog: the set of language
// models the router may select, with pricing and generation limits.
package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ============================================================================
// MODEL SPEC
// ============================================================================

// ModelSpec describes a single routable model.
type ModelSpec struct {
	// ID is the provider-qualified model identifier, e.g.
	// "anthropic/claude-3-haiku". Unique within a catalog.
	ID string

	// Name is the human-readable display name.
	Name string

	// Description is a short free-form description.
	Description string

	// Strengths lists what the model is considered good at.
	Strengths []string

	// CostPer1K is the blended price per 1000 tokens in USD.
	CostPer1K decimal.Decimal

	// MaxTokens is the per-request completion limit.
	MaxTokens int

	// ContextLength is the model's context window in tokens.
	ContextLength int

	// Temperature is the default sampling temperature for this model.
	Temperature float64
}

// ============================================================================
// CATALOG
// ============================================================================

// Catalog is an ordered, immutable collection of ModelSpecs. Order is the
// declaration order from configuration and is preserved by Models and by
// everything built on top of it (cost comparisons, CLI listings).
type Catalog struct {
	models []ModelSpec
	byID   map[string]int
}

// New builds a catalog from the given specs, validating each entry.
// The slice order is preserved.
func New(specs []ModelSpec) (*Catalog, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("catalog: no models configured")
	}

	c := &Catalog{
		models: make([]ModelSpec, len(specs)),
		byID:   make(map[string]int, len(specs)),
	}
	copy(c.models, specs)

	for i, m := range c.models {
		if m.ID == "" {
			return nil, fmt.Errorf("catalog: model %d has empty id", i)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate model id %q", m.ID)
		}
		if m.CostPer1K.IsNegative() {
			return nil, fmt.Errorf("catalog: model %q has negative cost_per_1k_tokens", m.ID)
		}
		if m.MaxTokens <= 0 {
			return nil, fmt.Errorf("catalog: model %q has non-positive max_tokens", m.ID)
		}
		if m.ContextLength <= 0 {
			return nil, fmt.Errorf("catalog: model %q has non-positive context_length", m.ID)
		}
		if m.Temperature < 0 || m.Temperature > 2 {
			return nil, fmt.Errorf("catalog: model %q temperature %.2f out of range [0,2]", m.ID, m.Temperature)
		}
		c.byID[m.ID] = i
	}

	return c, nil
}

// Get returns the spec for id and whether it exists.
func (c *Catalog) Get(id string) (ModelSpec, bool) {
	i, ok := c.byID[id]
	if !ok {
		return ModelSpec{}, false
	}
	return c.models[i], true
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Models returns the specs in declaration order. The returned slice is a
// copy; callers may not mutate catalog state through it.
func (c *Catalog) Models() []ModelSpec {
	out := make([]ModelSpec, len(c.models))
	copy(out, c.models)
	return out
}

// IDs returns the model identifiers in declaration order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.models))
	for i, m := range c.models {
		out[i] = m.ID
	}
	return out
}

// Len returns the number of models.
func (c *Catalog) Len() int {
	return len(c.models)
}
