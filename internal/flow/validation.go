// Package flow implements the clause traversal engine, answer validation, and
// document rendering for ClauseFlow.
package flow

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/LexForge/ClauseFlow/internal/models"
)

// Validate evaluates an answer against a clause's rules in declaration order.
// The first failing rule short-circuits and only its message is reported;
// remaining rules are not evaluated. An empty rule list is trivially valid.
func Validate(answer string, rules []models.ValidationRule) (bool, string) {
	for i := range rules {
		if ok, msg := evaluateRule(answer, &rules[i]); !ok {
			return false, msg
		}
	}
	return true, ""
}

// evaluateRule checks a single rule. Word and term matching is
// case-insensitive; length checks count runes of the trimmed answer; pattern
// matching runs against the raw answer.
func evaluateRule(answer string, rule *models.ValidationRule) (bool, string) {
	trimmed := strings.TrimSpace(answer)

	switch rule.Kind {
	case models.RuleContainsForbiddenWords:
		lowered := strings.ToLower(trimmed)
		for _, word := range rule.Words {
			if strings.Contains(lowered, strings.ToLower(word)) {
				return false, ruleMessage(rule, fmt.Sprintf("Forbidden word detected: '%s'", word))
			}
		}
	case models.RuleMinLength:
		if utf8.RuneCountInString(trimmed) < rule.Min {
			return false, ruleMessage(rule, fmt.Sprintf("Minimum length required: %d characters", rule.Min))
		}
	case models.RuleMaxLength:
		if utf8.RuneCountInString(trimmed) > rule.Max {
			return false, ruleMessage(rule, fmt.Sprintf("Maximum length allowed: %d characters", rule.Max))
		}
	case models.RuleRequiredPattern:
		// Compiled case-insensitively at the decode boundary; an uncompiled
		// rule never matches rather than silently passing.
		re := rule.Regexp()
		if re == nil || !re.MatchString(answer) {
			return false, ruleMessage(rule, "Answer does not match the required format")
		}
	case models.RuleMustContainAll:
		lowered := strings.ToLower(answer)
		for _, term := range rule.Terms {
			if !strings.Contains(lowered, strings.ToLower(term)) {
				return false, ruleMessage(rule, fmt.Sprintf("Required term missing: '%s'", term))
			}
		}
	}
	return true, ""
}

// ruleMessage prefers the rule's authored message over the built-in default.
func ruleMessage(rule *models.ValidationRule, fallback string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fallback
}
