// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ROUTER: Model selection from classification + length bucket policy
package router

import (
	"fmt"
	"log"

	"github.com/jeranaias/promptroute/internal/catalog"
	"github.com/jeranaias/promptroute/internal/pricing"
)

// ============================================================================
// POLICY TABLE
// ============================================================================

// PolicyTable maps prompt type and length bucket to a model id. A missing
// entry falls through to the matched rule's preferred model, then to the
// router's default model.
type PolicyTable map[PromptType]map[LengthBucket]string

// Validate checks that every model referenced by the table is in the catalog.
func (p PolicyTable) Validate(cat *catalog.Catalog) error {
	for pt, buckets := range p {
		for b, id := range buckets {
			if id == "" {
				continue
			}
			if !cat.Has(id) {
				return fmt.Errorf("routing policy %s/%s references unknown model %q", pt, b, id)
			}
		}
	}
	return nil
}

// ============================================================================
// ROUTER
// ============================================================================

// Router selects a model for each prompt. It is immutable after construction
// and safe for concurrent use.
type Router struct {
	catalog      *catalog.Catalog
	classifier   *Classifier
	policy       PolicyTable
	defaultModel string
	target       Target
}

// Options configures a Router.
type Options struct {
	Rules        []Rule
	Policy       PolicyTable
	DefaultModel string
	Target       Target
}

// New builds a Router. The default model must exist in the catalog, and the
// policy table may only reference catalog models.
func New(cat *catalog.Catalog, opts Options) (*Router, error) {
	if opts.DefaultModel == "" {
		return nil, fmt.Errorf("router: default model not set")
	}
	if !cat.Has(opts.DefaultModel) {
		return nil, fmt.Errorf("router: default model %q not in catalog", opts.DefaultModel)
	}
	if err := opts.Policy.Validate(cat); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	for i, r := range opts.Rules {
		if r.PreferredModel != "" && !cat.Has(r.PreferredModel) {
			return nil, fmt.Errorf("router: rule %d prefers unknown model %q", i, r.PreferredModel)
		}
	}
	return &Router{
		catalog:      cat,
		classifier:   NewClassifier(opts.Rules),
		policy:       opts.Policy,
		defaultModel: opts.DefaultModel,
		target:       opts.Target,
	}, nil
}

// Classifier exposes the router's classifier for dry-run inspection.
func (r *Router) Classifier() *Classifier {
	return r.classifier
}

// DefaultModel returns the configured fallback model id.
func (r *Router) DefaultModel() string {
	return r.defaultModel
}

// Target returns the configured optimization preference.
func (r *Router) Target() Target {
	return r.target
}

// Route decides which model should serve the prompt.
//
// When manualModel is non-empty the decision is pinned to it, bypassing
// policy lookup; the prompt is still classified so the decision carries the
// real prompt type for logging. An unknown manual model returns
// *InvalidModelError and no decision. estimatedTokens <= 0 means "estimate
// from the prompt text". Routing itself never fails once inputs are valid:
// policy misses fall back to the rule's preferred model, then to the default.
func (r *Router) Route(prompt, manualModel string, estimatedTokens int) (Decision, error) {
	if estimatedTokens <= 0 {
		estimatedTokens = pricing.EstimateTokens(prompt)
	}

	if manualModel != "" {
		if !r.catalog.Has(manualModel) {
			return Decision{}, &InvalidModelError{Model: manualModel}
		}
		pt, _ := r.classifier.Classify(prompt)
		d := Decision{
			SelectedModel:   manualModel,
			PromptType:      pt,
			LengthBucket:    BucketFor(estimatedTokens),
			EstimatedTokens: estimatedTokens,
			ManualOverride:  true,
			Target:          r.target,
			Reason:          fmt.Sprintf("manual override: %s", manualModel),
		}
		log.Printf("ROUTING: manual override -> %s (%s prompt, est %d tokens)", manualModel, pt, estimatedTokens)
		return d, nil
	}

	pt, rule := r.classifier.Classify(prompt)
	bucket := BucketFor(estimatedTokens)

	model, reason := r.lookup(pt, bucket, rule)

	d := Decision{
		SelectedModel:   model,
		PromptType:      pt,
		LengthBucket:    bucket,
		EstimatedTokens: estimatedTokens,
		ManualOverride:  false,
		Target:          r.target,
		Reason:          reason,
	}
	log.Printf("ROUTING: %s/%s -> %s (est %d tokens)", pt, bucket, model, estimatedTokens)
	return d, nil
}

// lookup resolves the model for a type/bucket pair with documented fallback:
// policy table -> rule preferred model -> default model.
func (r *Router) lookup(pt PromptType, bucket LengthBucket, rule *Rule) (string, string) {
	if buckets, ok := r.policy[pt]; ok {
		if id := buckets[bucket]; id != "" {
			return id, fmt.Sprintf("%s prompt, %s bucket -> %s", pt, bucket, id)
		}
	}
	if rule != nil && rule.PreferredModel != "" {
		return rule.PreferredModel, fmt.Sprintf("%s prompt, no %s policy; rule prefers %s", pt, bucket, rule.PreferredModel)
	}
	return r.defaultModel, fmt.Sprintf("%s prompt, no policy entry; default %s", pt, r.defaultModel)
}
