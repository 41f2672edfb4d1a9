// Package hnmp implements the host-compliance remediation engine
// supplemented from ransomeye_hnmp_engine: a cel-go evaluator over host
// posture facts (OS patch level, EDR presence, SMB signing, open
// shares) that produces a pass/fail verdict per rule plus a remediation
// suggestion for every rule that fails. Posture facts travel as a
// single "input" map, following pkg/prg.PolicyEngine's expression cache
// idiom, since the remediation DSL needs boolean expressions richer
// than the rule evaluator's five fixed condition types support.
package hnmp

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Severity mirrors the four-level scale ransomeye_hnmp_engine's rule
// files use.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Remediation is the suggested fix attached to a failed rule.
type Remediation struct {
	Description string `json:"description"`
	Command     string `json:"command,omitempty"`
	Script      string `json:"script,omitempty"`
}

// Rule is one compliance check: a cel-go boolean expression over the
// "input" posture-facts map, plus the remediation to suggest if it
// evaluates false.
type Rule struct {
	ID          string
	Name        string
	Severity    Severity
	Expression  string
	Remediation Remediation
}

// Verdict is the outcome of evaluating one Rule against one host's
// posture facts.
type Verdict struct {
	RuleID      string      `json:"rule_id"`
	RuleName    string      `json:"rule_name"`
	Severity    Severity    `json:"severity"`
	Passed      bool        `json:"passed"`
	Remediation Remediation `json:"remediation,omitempty"`
}

// Evaluator compiles and caches cel-go programs by expression string,
// the same double-checked-locking cache shape as
// pkg/prg.PolicyEngine.Evaluate.
type Evaluator struct {
	env   *cel.Env
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator builds an Evaluator whose expressions see a single
// "input" map of posture facts (patch_level, edr_present,
// smb_signing_enabled, open_shares, ...), matching PolicyEngine's
// single-map-variable pattern.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("hnmp: create cel env: %w", err)
	}
	return &Evaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expression]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expression]; hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("hnmp: compile %q: %w", expression, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("hnmp: build program %q: %w", expression, err)
	}
	e.cache[expression] = prg
	return prg, nil
}

// Evaluate runs rule's expression against facts and returns whether the
// host complies. A rule whose expression fails to compile or evaluate
// is treated as non-compliant rather than panicking the sweep, mirroring
// compliance_evaluator.py's evaluate_operator swallowing evaluation
// errors into passed=False.
func (e *Evaluator) Evaluate(rule Rule, facts map[string]interface{}) Verdict {
	v := Verdict{RuleID: rule.ID, RuleName: rule.Name, Severity: rule.Severity}

	prg, err := e.program(rule.Expression)
	if err != nil {
		return v
	}
	out, _, err := prg.Eval(map[string]interface{}{"input": facts})
	if err != nil {
		return v
	}
	passed, ok := out.Value().(bool)
	if !ok {
		return v
	}

	v.Passed = passed
	if !passed {
		v.Remediation = rule.Remediation
	}
	return v
}

// EvaluateAll runs every rule against facts and returns one Verdict
// each, in ruleset order.
func (e *Evaluator) EvaluateAll(ruleset []Rule, facts map[string]interface{}) []Verdict {
	verdicts := make([]Verdict, 0, len(ruleset))
	for _, rule := range ruleset {
		verdicts = append(verdicts, e.Evaluate(rule, facts))
	}
	return verdicts
}

// FailuresBySeverity counts failed verdicts per severity level,
// matching get_failed_rules_by_severity's tally.
func FailuresBySeverity(verdicts []Verdict) map[Severity]int {
	counts := map[Severity]int{
		SeverityCritical: 0,
		SeverityHigh:     0,
		SeverityMedium:   0,
		SeverityLow:      0,
	}
	for _, v := range verdicts {
		if !v.Passed {
			counts[v.Severity]++
		}
	}
	return counts
}
