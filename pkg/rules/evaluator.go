package rules

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// caseFold performs full Unicode case folding rather than ASCII-only
// strings.EqualFold/ToLower, so equals-ci and substring conditions
// compare consistently across alert fields sourced from
// internationalized EDR/SIEM backends (e.g. Turkish dotless i, German
// sharp s).
var caseFold = cases.Fold()

// Evaluator matches alerts against a compiled ruleset. It holds no
// mutable state of its own — callers obtain a ruleset snapshot (e.g.
// from the Active-Artifact Manager) once per alert and pass it in,
// so Evaluate never mutates the ruleset it is given.
type Evaluator struct{}

// NewEvaluator returns a ready-to-use Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate returns every compiled rule that matches alert, in ruleset
// order.
func (e *Evaluator) Evaluate(ruleset []*CompiledRule, alert Alert) []Match {
	fields := fieldValues(alert)

	var matches []Match
	for _, rule := range ruleset {
		if matchRule(rule, fields) {
			matches = append(matches, Match{
				RuleID:      rule.ruleID,
				RuleName:    rule.name,
				Severity:    rule.severity,
				Action:      rule.action,
				Description: rule.description,
			})
		}
	}
	return matches
}

func fieldValues(alert Alert) map[string]string {
	fields := make(map[string]string, len(alert.Metadata)+4)
	fields["source"] = alert.Source
	fields["alert_type"] = alert.AlertType
	fields["type"] = alert.AlertType // alias, matches the source DSL
	fields["target"] = alert.Target
	fields["severity"] = alert.Severity
	// Metadata is merged last so a caller-supplied field can override
	// the core alert attributes, matching policy_evaluator.py's
	// field_values.update(metadata) ordering.
	for k, v := range alert.Metadata {
		fields[k] = v
	}
	return fields
}

func matchRule(rule *CompiledRule, fields map[string]string) bool {
	fieldValue := fields[rule.field] // missing field coerces to ""

	switch rule.conditionType {
	case ConditionExact:
		return fieldValue == rule.value
	case ConditionEqualsCI:
		return caseFold.String(fieldValue) == caseFold.String(rule.value)
	case ConditionSubstring:
		return strings.Contains(caseFold.String(fieldValue), caseFold.String(rule.value))
	case ConditionRegex:
		return rule.pattern != nil && rule.pattern.MatchString(fieldValue)
	case ConditionNumericRange:
		numeric, err := strconv.ParseFloat(fieldValue, 64)
		if err != nil {
			return false
		}
		if rule.min != nil && numeric < *rule.min {
			return false
		}
		if rule.max != nil && numeric > *rule.max {
			return false
		}
		return true
	default:
		return false
	}
}
