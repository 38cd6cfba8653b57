// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router classifies prompts and selects a model for each request
// using an ordered rule list and a prompt-type x length policy table.
package router

import "fmt"

// ============================================================================
// PROMPT TYPES
// ============================================================================

// PromptType is the coarse category a prompt is classified into.
type PromptType int

const (
	// PromptGeneral is the fallback when no classification rule matches.
	PromptGeneral PromptType = iota
	// PromptCoding covers code writing, debugging, and refactoring requests.
	PromptCoding
	// PromptCreative covers stories, poems, and other creative writing.
	PromptCreative
	// PromptAnalysis covers summarization, comparison, and evaluation.
	PromptAnalysis
	// PromptQuickQuestion covers short factual questions.
	PromptQuickQuestion
)

// String returns the configuration key for the prompt type.
func (t PromptType) String() string {
	switch t {
	case PromptCoding:
		return "coding"
	case PromptCreative:
		return "creative"
	case PromptAnalysis:
		return "analysis"
	case PromptQuickQuestion:
		return "quick_questions"
	default:
		return "general"
	}
}

// ParsePromptType maps a configuration key to a PromptType. Recognized keys
// are "coding"/"code", "creative", "analysis", "quick_questions"/"question",
// and "general".
func ParsePromptType(s string) (PromptType, bool) {
	switch s {
	case "coding", "code":
		return PromptCoding, true
	case "creative":
		return PromptCreative, true
	case "analysis":
		return PromptAnalysis, true
	case "quick_questions", "question", "questions":
		return PromptQuickQuestion, true
	case "general":
		return PromptGeneral, true
	default:
		return PromptGeneral, false
	}
}

// ============================================================================
// LENGTH BUCKETS
// ============================================================================

// LengthBucket partitions prompts by estimated token count.
type LengthBucket int

const (
	// BucketShort is up to ShortMaxTokens estimated tokens.
	BucketShort LengthBucket = iota
	// BucketMedium is ShortMaxTokens+1 up to MediumMaxTokens.
	BucketMedium
	// BucketLong is everything above MediumMaxTokens.
	BucketLong
)

// Bucket boundaries, inclusive upper bounds.
const (
	ShortMaxTokens  = 500
	MediumMaxTokens = 2000
)

// String returns the configuration key for the bucket.
func (b LengthBucket) String() string {
	switch b {
	case BucketMedium:
		return "medium"
	case BucketLong:
		return "long"
	default:
		return "short"
	}
}

// BucketFor returns the bucket for an estimated token count.
// Negative counts land in the short bucket.
func BucketFor(tokens int) LengthBucket {
	switch {
	case tokens <= ShortMaxTokens:
		return BucketShort
	case tokens <= MediumMaxTokens:
		return BucketMedium
	default:
		return BucketLong
	}
}

// ============================================================================
// OPTIMIZATION TARGET
// ============================================================================

// Target is the configured optimization preference. It is recorded on
// decisions for analytics; routing itself always follows the policy table.
type Target int

const (
	TargetBalanced Target = iota
	TargetCost
	TargetSpeed
	TargetQuality
)

// String returns the configuration key for the target.
func (t Target) String() string {
	switch t {
	case TargetCost:
		return "cost"
	case TargetSpeed:
		return "speed"
	case TargetQuality:
		return "quality"
	default:
		return "balanced"
	}
}

// ParseTarget maps a configuration key to a Target.
func ParseTarget(s string) (Target, bool) {
	switch s {
	case "", "balanced":
		return TargetBalanced, true
	case "cost":
		return TargetCost, true
	case "speed":
		return TargetSpeed, true
	case "quality":
		return TargetQuality, true
	default:
		return TargetBalanced, false
	}
}

// MarshalJSON encodes the prompt type as its configuration key.
func (t PromptType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// MarshalJSON encodes the bucket as its configuration key.
func (b LengthBucket) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

// MarshalJSON encodes the target as its configuration key.
func (t Target) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// ============================================================================
// DECISIONS AND ERRORS
// ============================================================================

// Decision is the outcome of routing a single prompt.
type Decision struct {
	// SelectedModel is the catalog model id the request should use.
	SelectedModel string `json:"selected_model"`
	// PromptType is the classified category.
	PromptType PromptType `json:"prompt_type"`
	// LengthBucket is the estimated-size bucket.
	LengthBucket LengthBucket `json:"length_bucket"`
	// EstimatedTokens is the token estimate the bucket was derived from.
	EstimatedTokens int `json:"estimated_tokens"`
	// ManualOverride is true when the caller pinned the model.
	ManualOverride bool `json:"manual_override"`
	// Target is the configured optimization preference at decision time.
	Target Target `json:"target"`
	// Reason is a human-readable explanation of the selection.
	Reason string `json:"reason"`
}

// InvalidModelError is returned when a manual override names a model that is
// not in the catalog. The request must not proceed.
type InvalidModelError struct {
	Model string
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("invalid model override: %q is not in the catalog", e.Model)
}
