package models

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// RuleKind identifies one variant of the clause validation rule union.
type RuleKind string

const (
	// RuleContainsForbiddenWords rejects answers containing any listed word.
	RuleContainsForbiddenWords RuleKind = "contains_forbidden_words"
	// RuleMinLength rejects answers whose trimmed length is below Min.
	RuleMinLength RuleKind = "min_length"
	// RuleMaxLength rejects answers whose trimmed length is above Max.
	RuleMaxLength RuleKind = "max_length"
	// RuleRequiredPattern rejects answers not matching Pattern (case-insensitive).
	RuleRequiredPattern RuleKind = "required_pattern"
	// RuleMustContainAll rejects answers missing any of the listed terms.
	RuleMustContainAll RuleKind = "must_contain_all"
)

// IsValidRuleKind checks if the given rule kind is supported.
func IsValidRuleKind(k RuleKind) bool {
	switch k {
	case RuleContainsForbiddenWords, RuleMinLength, RuleMaxLength,
		RuleRequiredPattern, RuleMustContainAll:
		return true
	default:
		return false
	}
}

// ValidationRule is one decoded clause validation rule. The set of kinds is
// closed; each rule carries only the fields its kind uses. Rules are decoded
// and compiled once at the storage or catalog boundary, so evaluation never
// parses rule payloads.
type ValidationRule struct {
	Kind    RuleKind `json:"kind" yaml:"kind"`
	Words   []string `json:"words,omitempty" yaml:"words,omitempty"`
	Min     int      `json:"min,omitempty" yaml:"min,omitempty"`
	Max     int      `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Terms   []string `json:"terms,omitempty" yaml:"terms,omitempty"`
	Message string   `json:"message,omitempty" yaml:"message,omitempty"`

	re *regexp.Regexp // compiled Pattern, populated by Compile
}

// Compile validates the rule's kind-specific fields and compiles its pattern.
// Pattern matching is case-insensitive regardless of how the pattern is written.
func (r *ValidationRule) Compile() error {
	switch r.Kind {
	case RuleContainsForbiddenWords:
		if len(r.Words) == 0 {
			return fmt.Errorf("contains_forbidden_words rule requires at least one word")
		}
	case RuleMinLength:
		if r.Min < 1 {
			return fmt.Errorf("min_length rule requires min >= 1, got %d", r.Min)
		}
	case RuleMaxLength:
		if r.Max < 1 {
			return fmt.Errorf("max_length rule requires max >= 1, got %d", r.Max)
		}
	case RuleRequiredPattern:
		if r.Pattern == "" {
			return fmt.Errorf("required_pattern rule requires a pattern")
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("required_pattern rule has invalid pattern %q: %w", r.Pattern, err)
		}
		r.re = re
	case RuleMustContainAll:
		if len(r.Terms) == 0 {
			return fmt.Errorf("must_contain_all rule requires at least one term")
		}
	default:
		return fmt.Errorf("unknown validation rule kind: %q", r.Kind)
	}
	return nil
}

// Regexp returns the compiled pattern for a required_pattern rule, or nil for
// other kinds or uncompiled rules.
func (r *ValidationRule) Regexp() *regexp.Regexp {
	return r.re
}

// CompileRules compiles every rule in place, reporting the first failure with
// its index so catalog authors can locate the bad rule.
func CompileRules(rules []ValidationRule) error {
	for i := range rules {
		if err := rules[i].Compile(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

// ParseValidationRules decodes a JSON rules column into compiled rules. An
// empty payload yields nil rules.
func ParseValidationRules(raw string) ([]ValidationRule, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var rules []ValidationRule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("failed to decode validation rules: %w", err)
	}
	if err := CompileRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// EncodeValidationRules marshals rules for storage. Nil or empty rules encode
// as an empty string so nullable columns stay null.
func EncodeValidationRules(rules []ValidationRule) (string, error) {
	if len(rules) == 0 {
		return "", nil
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return "", fmt.Errorf("failed to encode validation rules: %w", err)
	}
	return string(data), nil
}
