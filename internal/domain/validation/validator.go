package validation

import (
	"context"
	"fmt"

	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
)

// RuleValidator is a deterministic Validator that runs a fixed list of
// DenyRules and blocks on the first match.
type RuleValidator struct {
	rules []DenyRule
}

// Option configures a RuleValidator.
type Option func(*ruleConfig)

type ruleConfig struct {
	maxReplicas int64
	extra       []DenyRule
}

// WithMaxReplicas lowers the replica ceiling enforced for scale_deployment.
func WithMaxReplicas(n int) Option {
	return func(c *ruleConfig) {
		if n >= 0 && int64(n) < c.maxReplicas {
			c.maxReplicas = int64(n)
		}
	}
}

// WithRules appends operator-supplied rules, run after the built-in ones.
func WithRules(rules ...DenyRule) Option {
	return func(c *ruleConfig) {
		c.extra = append(c.extra, rules...)
	}
}

// NewRuleValidator creates a RuleValidator with the built-in rules.
func NewRuleValidator(opts ...Option) *RuleValidator {
	cfg := ruleConfig{maxReplicas: proposal.MaxReplicas}
	for _, opt := range opts {
		opt(&cfg)
	}
	rules := []DenyRule{
		confirmationRule{},
		justificationRule{},
		injectionRule{scanner: NewInjectionScanner()},
		replicaLimitRule{max: cfg.maxReplicas},
		zeroReplicasRule{},
	}
	rules = append(rules, cfg.extra...)
	return &RuleValidator{rules: rules}
}

// Validate runs every rule in order. A rule error blocks the proposal and
// is returned alongside the block verdict.
func (v *RuleValidator) Validate(ctx context.Context, p *proposal.Proposal, conv ConversationContext) (Verdict, error) {
	hash := p.Hash()
	for _, rule := range v.rules {
		if err := ctx.Err(); err != nil {
			return Denied(RuleTimeout, "validation was cancelled", hash), err
		}
		reason, blocked, err := rule.Check(ctx, p, conv)
		if err != nil {
			return Denied(RuleEvaluationError, fmt.Sprintf("rule %s could not be evaluated", rule.Name()), hash),
				fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		if blocked {
			return Denied(rule.Name(), reason, hash), nil
		}
	}
	return Allowed(hash), nil
}

// Rules returns the names of the configured rules in evaluation order.
func (v *RuleValidator) Rules() []string {
	names := make([]string, len(v.rules))
	for i, r := range v.rules {
		names[i] = r.Name()
	}
	return names
}

// Compile-time check that RuleValidator implements Validator.
var _ Validator = (*RuleValidator)(nil)
