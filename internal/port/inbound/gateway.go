// Package inbound defines the inbound port interfaces of the gateway core.
// Inbound adapters (HTTP, MCP) call these interfaces.
package inbound

import (
	"context"

	"github.com/Sentinel-Gate/infragate/internal/domain/audit"
	"github.com/Sentinel-Gate/infragate/internal/domain/auth"
	"github.com/Sentinel-Gate/infragate/internal/domain/mediation"
	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
)

// ProposalRequest is an action proposal as submitted by an agent.
type ProposalRequest struct {
	Action        string         `json:"action"`
	Arguments     map[string]any `json:"arguments"`
	SessionID     string         `json:"session_id"`
	Justification string         `json:"justification"`
}

// Mediator decides and runs action proposals.
type Mediator interface {
	// Submit mediates one proposal on behalf of caller.
	Submit(ctx context.Context, caller *auth.Identity, req ProposalRequest) (mediation.Result, error)
	// Confirm records a human confirmation signal.
	Confirm(ctx context.Context, caller *auth.Identity, sig mediation.ConfirmationSignal) (bool, error)
	// RecordMessage appends a human message to the session transcript.
	RecordMessage(ctx context.Context, caller *auth.Identity, sessionID, text string) error
	// EndSession drops all per-session state.
	EndSession(ctx context.Context, caller *auth.Identity, sessionID string) error
}

// QueryRunner runs data-access queries behind the statement guard.
type QueryRunner interface {
	Run(ctx context.Context, caller *auth.Identity, sessionID, statement string) (*outbound.QueryResult, error)
}

// AuditReader exposes the audit trail read-only.
type AuditReader interface {
	List(ctx context.Context, caller *auth.Identity, filter audit.Filter) ([]audit.Record, error)
}
