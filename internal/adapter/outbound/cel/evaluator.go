// Package cel provides operator-defined validator deny rules written in CEL.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/domain/validation"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout caps a single CEL evaluation when the caller's context has
// no earlier deadline.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL expressions for deny rules.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates a new CEL evaluator with the rule environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks a CEL expression, returning a compiled program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

// validateNesting checks that the expression does not exceed the maximum allowed
// nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that a CEL expression is syntactically valid and
// within the length and nesting limits.
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	if err := validateNesting(expr); err != nil {
		return err
	}

	_, err := e.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}

	return nil
}

// Evaluate runs a compiled program against activation.
func (e *Evaluator) Evaluate(ctx context.Context, prg cel.Program, activation map[string]any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}

// RuleConfig describes one operator deny rule.
type RuleConfig struct {
	// Name appears in verdicts and audit records.
	Name string
	// Expression blocks the proposal when it evaluates to true.
	Expression string
	// Reason is the human-readable block message.
	Reason string
}

// DenyRule is a compiled operator rule usable by validation.RuleValidator.
type DenyRule struct {
	eval   *Evaluator
	prg    cel.Program
	name   string
	reason string
	now    func() time.Time
}

// NewDenyRule validates and compiles cfg.
func (e *Evaluator) NewDenyRule(cfg RuleConfig) (*DenyRule, error) {
	if cfg.Name == "" {
		return nil, errors.New("deny rule name is required")
	}
	if err := e.ValidateExpression(cfg.Expression); err != nil {
		return nil, fmt.Errorf("deny rule %q: %w", cfg.Name, err)
	}
	prg, err := e.Compile(cfg.Expression)
	if err != nil {
		return nil, fmt.Errorf("deny rule %q: %w", cfg.Name, err)
	}
	reason := cfg.Reason
	if reason == "" {
		reason = fmt.Sprintf("blocked by operator rule %q", cfg.Name)
	}
	return &DenyRule{eval: e, prg: prg, name: cfg.Name, reason: reason, now: time.Now}, nil
}

// CompileRules compiles every rule in cfgs.
func (e *Evaluator) CompileRules(cfgs []RuleConfig) ([]validation.DenyRule, error) {
	rules := make([]validation.DenyRule, 0, len(cfgs))
	for _, c := range cfgs {
		r, err := e.NewDenyRule(c)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Name returns the rule name.
func (r *DenyRule) Name() string { return r.name }

// Check evaluates the rule. Evaluation errors are returned to the
// validator, which blocks on them.
func (r *DenyRule) Check(ctx context.Context, p *proposal.Proposal, conv validation.ConversationContext) (string, bool, error) {
	blocked, err := r.eval.Evaluate(ctx, r.prg, BuildActivation(p, conv, r.now()))
	if err != nil {
		return "", false, fmt.Errorf("rule %s: %w", r.name, err)
	}
	if blocked {
		return r.reason, true, nil
	}
	return "", false, nil
}

// Compile-time interface verification.
var _ validation.DenyRule = (*DenyRule)(nil)
