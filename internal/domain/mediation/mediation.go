// Package mediation defines the outcomes the gateway returns for action
// proposals and confirmation signals.
package mediation

import (
	"errors"

	"github.com/Sentinel-Gate/infragate/internal/domain/validation"
)

// Status is the top-level outcome of a submission.
type Status string

const (
	// StatusExecuted means the action ran and its audit record is durable.
	StatusExecuted Status = "executed"
	// StatusPending means the action awaits explicit human confirmation.
	StatusPending Status = "pending"
	// StatusBlocked means a check refused the action; it did not run.
	StatusBlocked Status = "blocked"
	// StatusFailed means the action was attempted and the executor failed.
	StatusFailed Status = "failed"
)

// ReasonCode explains a non-executed outcome.
type ReasonCode string

const (
	ReasonUnauthorizedRole     ReasonCode = "unauthorized_role"
	ReasonConfirmationRequired ReasonCode = "confirmation_required"
	ReasonConfirmationInvalid  ReasonCode = "confirmation_invalid"
	ReasonValidationRejected   ReasonCode = "validation_rejected"
	ReasonMutationRejected     ReasonCode = "mutation_rejected"
	ReasonExecutionFailed      ReasonCode = "execution_failed"
	ReasonAuditWriteFailed     ReasonCode = "audit_write_failed"
	ReasonInvalidArguments     ReasonCode = "invalid_arguments"
	ReasonRateLimited          ReasonCode = "rate_limited"
	ReasonAuditInconsistent    ReasonCode = "audit_inconsistent"
)

// Infrastructure errors. Blocking decisions are Results, not errors.
var (
	// ErrAuditWriteFailed means the audit store could not accept a record
	// before execution. The action was not executed.
	ErrAuditWriteFailed = errors.New("audit write failed")

	// ErrAuditInconsistent means the action executed but its audit record
	// could not be written. Operators must reconcile this manually.
	ErrAuditInconsistent = errors.New("action executed but audit record was not written")
)

// Result is returned for every proposal submission.
type Result struct {
	Status Status `json:"status"`
	// Reason is empty for executed results.
	Reason ReasonCode `json:"reason,omitempty"`
	// Message is a human-readable explanation of the outcome.
	Message     string `json:"message"`
	ContentHash string `json:"content_hash"`
	ProposalID  string `json:"proposal_id"`
	// AuditID identifies the audit record written for this attempt.
	AuditID string `json:"audit_id,omitempty"`
	// Output is the executor result for executed actions.
	Output any `json:"output,omitempty"`
	// Error is the executor error text for failed actions.
	Error   string              `json:"error,omitempty"`
	Verdict *validation.Verdict `json:"verdict,omitempty"`
}

// Executed reports whether the action ran successfully.
func (r Result) Executed() bool { return r.Status == StatusExecuted }

// ConfirmationSignal is sent by the human-facing layer. Only Affirmative
// set to true confirms; there is no inference from free text.
type ConfirmationSignal struct {
	SessionID   string `json:"session_id"`
	ContentHash string `json:"content_hash"`
	Affirmative bool   `json:"affirmative"`
	// Message is the human's own words, kept as validator evidence.
	Message string `json:"message,omitempty"`
}
