// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ROUTER: Ordered regex classification, first match wins
package router

import (
	"fmt"
	"regexp"
)

// ============================================================================
// RULES
// ============================================================================

// RuleSpec is the uncompiled form of a classification rule, as it appears in
// configuration. Patterns are matched case-insensitively anywhere in the
// prompt (substring search, not full match).
type RuleSpec struct {
	Type           string
	Patterns       []string
	PreferredModel string
}

// Rule is a compiled classification rule.
type Rule struct {
	// Type is the prompt type this rule assigns.
	Type PromptType
	// Patterns are tried in order; any hit makes the rule match.
	Patterns []*regexp.Regexp
	// PreferredModel is the rule's fallback model when the policy table has
	// no entry for the type. May be empty.
	PreferredModel string
}

// CompileRules turns RuleSpecs into Rules, preserving order. Patterns are
// compiled with (?i) so matching is case-insensitive regardless of how the
// pattern was written.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		pt, ok := ParsePromptType(spec.Type)
		if !ok {
			return nil, fmt.Errorf("rule %d: unknown prompt type %q", i, spec.Type)
		}
		if len(spec.Patterns) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no patterns", i, spec.Type)
		}
		r := Rule{
			Type:           pt,
			Patterns:       make([]*regexp.Regexp, 0, len(spec.Patterns)),
			PreferredModel: spec.PreferredModel,
		}
		for _, p := range spec.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): bad pattern %q: %w", i, spec.Type, p, err)
			}
			r.Patterns = append(r.Patterns, re)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ============================================================================
// CLASSIFIER
// ============================================================================

// Classifier assigns a PromptType to a prompt using an ordered rule list.
// The zero rule list classifies everything as PromptGeneral.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier over the given compiled rules.
// Rule order is significant: the first rule with any matching pattern wins.
func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the prompt type for the prompt and the rule that matched.
// When no rule matches, it returns PromptGeneral and a nil rule. Given the
// same rule list and prompt the result is always the same.
func (c *Classifier) Classify(prompt string) (PromptType, *Rule) {
	for i := range c.rules {
		for _, re := range c.rules[i].Patterns {
			if re.MatchString(prompt) {
				return c.rules[i].Type, &c.rules[i]
			}
		}
	}
	return PromptGeneral, nil
}

// Rules returns the rule list in evaluation order.
func (c *Classifier) Rules() []Rule {
	return c.rules
}
