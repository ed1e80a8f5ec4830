// Package validation provides the independent review of mutating action
// proposals. A Validator sees only the immutable proposal and a snapshot of
// conversation evidence; it never invokes tools and shares no mutable state
// with the proposing agent.
package validation

import (
	"context"
	"time"

	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
)

// Built-in rule names, reported in Verdict.Rule.
const (
	RuleConfirmationMissing  = "confirmation_missing"
	RuleJustificationMissing = "justification_missing"
	RuleInjection            = "validator_injection"
	RuleReplicasOverLimit    = "replicas_over_limit"
	RuleZeroReplicasUnstated = "zero_replicas_unstated"
	RuleEvaluationError      = "rule_error"
	RuleTimeout              = "validator_timeout"
)

// Verdict is the result of validating one proposal. Verdicts are produced
// fresh for every proposal and never cached.
type Verdict struct {
	Allow bool `json:"allow"`
	// Reason is a human-readable explanation, set for both outcomes.
	Reason string `json:"reason"`
	// Rule names the rule that blocked, empty when allowed.
	Rule        string `json:"rule,omitempty"`
	ContentHash string `json:"content_hash"`
}

// Allowed returns an allow verdict for hash.
func Allowed(hash string) Verdict {
	return Verdict{Allow: true, Reason: "all validation rules passed", ContentHash: hash}
}

// Denied returns a block verdict.
func Denied(rule, reason, hash string) Verdict {
	return Verdict{Allow: false, Rule: rule, Reason: reason, ContentHash: hash}
}

// Message is one turn of the conversation passed as evidence.
type Message struct {
	// Role is "user" for the human, anything else for agents.
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at,omitempty"`
	// ContentHash is set when the message accompanied a confirmation
	// signal for that proposal.
	ContentHash string `json:"content_hash,omitempty"`
}

// Confirmation is recorded evidence that the human confirmed a content hash.
type Confirmation struct {
	ContentHash string    `json:"content_hash"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// ConversationContext is the immutable evidence snapshot a Validator may use.
type ConversationContext struct {
	SessionID     string
	Confirmations []Confirmation
	Messages      []Message
}

// HasConfirmation reports whether the context records a confirmation for
// exactly hash.
func (c ConversationContext) HasConfirmation(hash string) bool {
	if hash == "" {
		return false
	}
	for _, conf := range c.Confirmations {
		if conf.ContentHash == hash {
			return true
		}
	}
	return false
}

// UserText returns the text of all human messages.
func (c ConversationContext) UserText() []string {
	var out []string
	for _, m := range c.Messages {
		if m.Role == "user" {
			out = append(out, m.Text)
		}
	}
	return out
}

// Validator reviews a proposal. A returned error must be treated as a block.
type Validator interface {
	Validate(ctx context.Context, p *proposal.Proposal, conv ConversationContext) (Verdict, error)
}

// DenyRule is one policy check run by RuleValidator.
type DenyRule interface {
	// Name identifies the rule in verdicts and audit records.
	Name() string
	// Check returns blocked=true and a reason when p must not execute.
	Check(ctx context.Context, p *proposal.Proposal, conv ConversationContext) (reason string, blocked bool, err error)
}
