package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sentinel-Gate/infragate/internal/domain/mediation"
	"github.com/Sentinel-Gate/infragate/internal/port/inbound"
	"github.com/Sentinel-Gate/infragate/internal/service"
)

// --- Input/Output types ---

// ListActionsInput takes no parameters.
type ListActionsInput struct{}

// ActionInfo describes one catalog entry.
type ActionInfo struct {
	Name        string `json:"name"`
	Mutating    bool   `json:"mutating"`
	Description string `json:"description"`
	Schema      any    `json:"schema,omitempty"`
}

// ListActionsOutput lists the catalog.
type ListActionsOutput struct {
	Actions []ActionInfo `json:"actions"`
}

// ProposeInput defines parameters for the propose_action tool.
type ProposeInput struct {
	Action        string         `json:"action" jsonschema:"action name from list_actions"`
	Arguments     map[string]any `json:"arguments,omitempty" jsonschema:"action arguments"`
	SessionID     string         `json:"session_id" jsonschema:"conversation session id"`
	Justification string         `json:"justification,omitempty" jsonschema:"why the action is needed"`
}

// ProposeOutput is the gateway decision.
type ProposeOutput struct {
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message"`
	ContentHash string `json:"content_hash"`
	AuditID     string `json:"audit_id,omitempty"`
	Output      any    `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	Rule        string `json:"validator_rule,omitempty"`
}

// ConfirmInput defines parameters for the confirm_action tool.
type ConfirmInput struct {
	SessionID   string `json:"session_id" jsonschema:"conversation session id"`
	ContentHash string `json:"content_hash" jsonschema:"content_hash of the pending proposal"`
	Affirmative bool   `json:"affirmative" jsonschema:"true only if the user explicitly agreed"`
	Message     string `json:"message" jsonschema:"the user's reply, verbatim"`
}

// ConfirmOutput reports whether the pending proposal is now confirmed.
type ConfirmOutput struct {
	Confirmed bool `json:"confirmed"`
}

// QueryInput defines parameters for the run_query tool.
type QueryInput struct {
	SessionID string `json:"session_id" jsonschema:"conversation session id"`
	Statement string `json:"statement" jsonschema:"a read-only SQL statement"`
}

// QueryOutput contains the masked rows or the rejection.
type QueryOutput struct {
	Columns   []string `json:"columns,omitempty"`
	Rows      [][]any  `json:"rows,omitempty"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated,omitempty"`
	Rejected  bool     `json:"rejected,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// EndSessionInput defines parameters for the end_session tool.
type EndSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"conversation session id"`
}

// EndSessionOutput acknowledges the call.
type EndSessionOutput struct {
	Ended bool `json:"ended"`
}

// --- Handlers ---

func (s *Server) handleListActions(ctx context.Context, req *mcpsdk.CallToolRequest, _ ListActionsInput) (*mcpsdk.CallToolResult, ListActionsOutput, error) {
	names := s.deps.Catalog.Names()
	out := ListActionsOutput{Actions: make([]ActionInfo, 0, len(names))}
	for _, name := range names {
		spec, _ := s.deps.Catalog.Lookup(name)
		info := ActionInfo{Name: spec.Name, Mutating: spec.Mutating, Description: spec.Description}
		if spec.Schema != "" {
			var schema any
			if err := json.Unmarshal([]byte(spec.Schema), &schema); err == nil {
				info.Schema = schema
			}
		}
		out.Actions = append(out.Actions, info)
	}
	return nil, out, nil
}

func (s *Server) handlePropose(ctx context.Context, req *mcpsdk.CallToolRequest, input ProposeInput) (*mcpsdk.CallToolResult, ProposeOutput, error) {
	res, err := s.deps.Mediator.Submit(ctx, s.caller, inbound.ProposalRequest{
		Action:        input.Action,
		Arguments:     input.Arguments,
		SessionID:     input.SessionID,
		Justification: input.Justification,
	})
	out := proposeOutput(res)
	switch {
	case err == nil:
	case errors.Is(err, mediation.ErrAuditWriteFailed), errors.Is(err, mediation.ErrAuditInconsistent):
		// The result still says what happened; surface it as a tool error.
		s.logger.Error("audit fault during proposal", "action", input.Action, "error", err)
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	default:
		return nil, ProposeOutput{}, err
	}
	if res.Status == mediation.StatusBlocked || res.Status == mediation.StatusFailed {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleConfirm(ctx context.Context, req *mcpsdk.CallToolRequest, input ConfirmInput) (*mcpsdk.CallToolResult, ConfirmOutput, error) {
	if input.Message == "" {
		return nil, ConfirmOutput{}, fmt.Errorf("message is required: pass the user's reply verbatim")
	}
	ok, err := s.deps.Mediator.Confirm(ctx, s.caller, mediation.ConfirmationSignal{
		SessionID:   input.SessionID,
		ContentHash: input.ContentHash,
		Affirmative: input.Affirmative,
		Message:     input.Message,
	})
	if err != nil {
		return nil, ConfirmOutput{}, err
	}
	return nil, ConfirmOutput{Confirmed: ok}, nil
}

func (s *Server) handleQuery(ctx context.Context, req *mcpsdk.CallToolRequest, input QueryInput) (*mcpsdk.CallToolResult, QueryOutput, error) {
	res, err := s.deps.Queries.Run(ctx, s.caller, input.SessionID, input.Statement)
	if err != nil {
		var rej *service.RejectionError
		if errors.As(err, &rej) {
			return &mcpsdk.CallToolResult{IsError: true}, QueryOutput{
				Rejected: true,
				Reason:   rej.Classification.Reason(),
			}, nil
		}
		return nil, QueryOutput{}, err
	}
	return nil, QueryOutput{
		Columns:   res.Columns,
		Rows:      res.Rows,
		RowCount:  res.RowCount,
		Truncated: res.Truncated,
	}, nil
}

func (s *Server) handleEndSession(ctx context.Context, req *mcpsdk.CallToolRequest, input EndSessionInput) (*mcpsdk.CallToolResult, EndSessionOutput, error) {
	if err := s.deps.Mediator.EndSession(ctx, s.caller, input.SessionID); err != nil {
		return nil, EndSessionOutput{}, err
	}
	return nil, EndSessionOutput{Ended: true}, nil
}

func proposeOutput(res mediation.Result) ProposeOutput {
	out := ProposeOutput{
		Status:      string(res.Status),
		Reason:      string(res.Reason),
		Message:     res.Message,
		ContentHash: res.ContentHash,
		AuditID:     res.AuditID,
		Output:      res.Output,
		Error:       res.Error,
	}
	if res.Verdict != nil && !res.Verdict.Allow {
		out.Rule = res.Verdict.Rule
	}
	return out
}
