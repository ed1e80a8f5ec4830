package client

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"
)

// Status is the outcome of a proposal.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusPending  Status = "pending"
	StatusBlocked  Status = "blocked"
	StatusFailed   Status = "failed"
)

// Proposal is an action an agent wants performed.
type Proposal struct {
	Action        string         `json:"action"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	SessionID     string         `json:"session_id"`
	Justification string         `json:"justification,omitempty"`
}

// Verdict is the independent validator's decision.
type Verdict struct {
	Allow       bool   `json:"allow"`
	Reason      string `json:"reason"`
	Rule        string `json:"rule,omitempty"`
	ContentHash string `json:"content_hash"`
}

// Result is the gateway's answer to a proposal.
type Result struct {
	Status Status `json:"status"`
	// Reason is a machine-readable code such as "confirmation_required".
	Reason      string          `json:"reason,omitempty"`
	Message     string          `json:"message"`
	ContentHash string          `json:"content_hash"`
	ProposalID  string          `json:"proposal_id"`
	AuditID     string          `json:"audit_id,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Verdict     *Verdict        `json:"verdict,omitempty"`
}

// Confirmation is an explicit human confirmation signal. Only
// Affirmative set to true confirms.
type Confirmation struct {
	SessionID   string `json:"session_id"`
	ContentHash string `json:"content_hash"`
	Affirmative bool   `json:"affirmative"`
	Message     string `json:"message,omitempty"`
}

// QueryResult holds the rows of a read-only query.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

// Action describes one mediated action.
type Action struct {
	Name        string          `json:"name"`
	Mutating    bool            `json:"mutating"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// CheckResult is one link of an audit record's verdict chain.
type CheckResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// AuditRecord is one entry of the audit trail.
type AuditRecord struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	ProposalID    string          `json:"proposal_id"`
	SessionID     string          `json:"session_id"`
	IdentityID    string          `json:"identity_id,omitempty"`
	Role          string          `json:"role"`
	Action        string          `json:"action"`
	Arguments     map[string]any  `json:"arguments,omitempty"`
	Justification string          `json:"justification,omitempty"`
	ContentHash   string          `json:"content_hash"`
	Capability    CheckResult     `json:"capability"`
	Confirmation  CheckResult     `json:"confirmation"`
	Validation    CheckResult     `json:"validation"`
	Outcome       string          `json:"outcome"`
	Reason        string          `json:"reason,omitempty"`
	Message       string          `json:"message,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// AuditFilter narrows an audit listing. Zero fields are not sent.
type AuditFilter struct {
	Start     time.Time
	End       time.Time
	SessionID string
	Outcome   string
	Action    string
	Limit     int
	// Offset skips that many matching records for paging.
	Offset int
}

func (f AuditFilter) values() url.Values {
	v := url.Values{}
	if !f.Start.IsZero() {
		v.Set("start", f.Start.UTC().Format(time.RFC3339))
	}
	if !f.End.IsZero() {
		v.Set("end", f.End.UTC().Format(time.RFC3339))
	}
	if f.SessionID != "" {
		v.Set("session", f.SessionID)
	}
	if f.Outcome != "" {
		v.Set("outcome", f.Outcome)
	}
	if f.Action != "" {
		v.Set("action", f.Action)
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		v.Set("offset", strconv.Itoa(f.Offset))
	}
	return v
}
