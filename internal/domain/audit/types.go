// Package audit contains domain types for the append-only record of
// mutating action attempts.
package audit

import (
	"strings"
	"time"
)

// Outcome is the final result of an attempt.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeFailed   Outcome = "failed"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeExecuted, OutcomeBlocked, OutcomeFailed:
		return true
	}
	return false
}

// CheckStatus is the result of one step of the verdict chain.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckSkipped CheckStatus = "skipped"
)

// CheckResult records one step of the verdict chain.
type CheckResult struct {
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// Passed returns a passed check with detail.
func Passed(detail string) CheckResult { return CheckResult{Status: CheckPassed, Detail: detail} }

// Failed returns a failed check with detail.
func Failed(detail string) CheckResult { return CheckResult{Status: CheckFailed, Detail: detail} }

// Skipped returns a check that was not reached.
func Skipped() CheckResult { return CheckResult{Status: CheckSkipped} }

// Record is one audited action attempt. Once appended it is never mutated
// or deleted.
type Record struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`
	// Timestamp is when the attempt concluded (UTC).
	Timestamp  time.Time `json:"timestamp"`
	ProposalID string    `json:"proposal_id"`
	SessionID  string    `json:"session_id"`
	IdentityID string    `json:"identity_id,omitempty"`
	Role       string    `json:"role"`
	Action     string    `json:"action"`
	// Arguments are the proposal arguments with sensitive keys masked.
	Arguments     map[string]any `json:"arguments,omitempty"`
	Justification string         `json:"justification,omitempty"`
	ContentHash   string         `json:"content_hash"`

	// Verdict chain.
	Capability   CheckResult `json:"capability"`
	Confirmation CheckResult `json:"confirmation"`
	Validation   CheckResult `json:"validation"`

	Outcome Outcome `json:"outcome"`
	// Reason is the gateway reason code for blocked or failed outcomes.
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	// Result is the executor output for executed attempts.
	Result any `json:"result,omitempty"`
	// Error is the executor error for failed attempts.
	Error string `json:"error,omitempty"`

	// RegistryVersion is the capability registry version in force.
	RegistryVersion string `json:"registry_version,omitempty"`
	// RequestID correlates the record with transport logs.
	RequestID string `json:"request_id,omitempty"`
	// LatencyMicros is the time from submission to conclusion.
	LatencyMicros int64 `json:"latency_micros"`
}

// sensitiveKeywords lists substrings that indicate a sensitive argument key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitiveArgs returns a copy of args with sensitive values masked.
// A key is considered sensitive if it contains any of the sensitiveKeywords
// (case-insensitive). Values are replaced with "***REDACTED***".
func RedactSensitiveArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
