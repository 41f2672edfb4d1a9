package rules

import (
	"fmt"
	"log/slog"
	"regexp"
)

// CompiledRule is the opaque compiled form of a Rule. Its pattern, if
// any, is pre-compiled once at load time rather than on every
// evaluation.
type CompiledRule struct {
	ruleID      string
	name        string
	severity    Severity
	action      string
	description string

	conditionType ConditionType
	field         string
	value         string
	min           *float64
	max           *float64
	pattern       *regexp.Regexp
}

// RuleID returns the identity of the rule this was compiled from.
func (c *CompiledRule) RuleID() string { return c.ruleID }

// Compiler turns raw Rule definitions into CompiledRules. Regex
// patterns are compiled case-insensitively, matching the source DSL's
// `re.IGNORECASE` default.
type Compiler struct{}

// NewCompiler returns a ready-to-use Compiler; it holds no state.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// CompileResult is the outcome of compiling a batch of rules: the
// rules that compiled cleanly, plus a count of how many were dropped.
// A dropped rule never poisons the rest of the batch.
type CompileResult struct {
	Rules   []*CompiledRule
	Dropped int
}

// Compile compiles every rule in rules independently. A rule that
// fails to compile is logged and skipped; it does not abort the batch.
func (c *Compiler) Compile(logger *slog.Logger, rules []Rule) CompileResult {
	result := CompileResult{Rules: make([]*CompiledRule, 0, len(rules))}
	for _, rule := range rules {
		compiled, err := c.compileOne(rule)
		if err != nil {
			result.Dropped++
			if logger != nil {
				logger.Warn("dropping rule that failed to compile",
					"rule_id", rule.RuleID, "rule_name", rule.Name, "error", err)
			}
			continue
		}
		result.Rules = append(result.Rules, compiled)
	}
	return result
}

func (c *Compiler) compileOne(rule Rule) (*CompiledRule, error) {
	cr := &CompiledRule{
		ruleID:        rule.RuleID,
		name:          rule.Name,
		severity:      rule.Severity,
		action:        rule.Action,
		description:   rule.Description,
		conditionType: rule.Condition.Type,
		field:         rule.Condition.Field,
		value:         rule.Condition.Value,
		min:           rule.Condition.Min,
		max:           rule.Condition.Max,
	}

	if cr.field == "" {
		return nil, fmt.Errorf("rule %q: condition.field is required", rule.RuleID)
	}

	switch cr.conditionType {
	case ConditionExact, ConditionEqualsCI, ConditionSubstring:
		if cr.value == "" {
			return nil, fmt.Errorf("rule %q: condition.value is required for type %q", rule.RuleID, cr.conditionType)
		}
	case ConditionRegex:
		if rule.Condition.Pattern == "" {
			return nil, fmt.Errorf("rule %q: condition.pattern is required for type regex", rule.RuleID)
		}
		pattern, err := regexp.Compile("(?i)" + rule.Condition.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid regex pattern: %w", rule.RuleID, err)
		}
		cr.pattern = pattern
	case ConditionNumericRange:
		if cr.min == nil && cr.max == nil {
			return nil, fmt.Errorf("rule %q: numeric-range requires min and/or max", rule.RuleID)
		}
	default:
		return nil, fmt.Errorf("rule %q: unknown condition type %q", rule.RuleID, cr.conditionType)
	}

	return cr, nil
}
