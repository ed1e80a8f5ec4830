package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Sentinel-Gate/infragate/internal/domain/audit"
	"github.com/Sentinel-Gate/infragate/internal/domain/auth"
	"github.com/Sentinel-Gate/infragate/internal/domain/capability"
	"github.com/Sentinel-Gate/infragate/internal/domain/mediation"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/domain/redact"
	"github.com/Sentinel-Gate/infragate/internal/domain/statement"
	"github.com/Sentinel-Gate/infragate/internal/port/inbound"
	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
	"github.com/Sentinel-Gate/infragate/internal/telemetry"
)

// ErrMutationRejected is returned for statements the classifier could not
// prove read-only. They never reach the query executor.
var ErrMutationRejected = errors.New("statement rejected")

// ErrQueryFailed wraps executor errors for allowed statements.
var ErrQueryFailed = errors.New("query failed")

// RejectionError carries the classification behind ErrMutationRejected.
type RejectionError struct {
	Classification statement.Classification
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMutationRejected, e.Classification.Reason())
}

// Unwrap makes errors.Is(err, ErrMutationRejected) hold.
func (e *RejectionError) Unwrap() error { return ErrMutationRejected }

// QueryService runs data-access statements behind the statement guard and
// masks personal data in the results.
type QueryService struct {
	registry  *capability.Registry
	executor  outbound.QueryExecutor
	redactor  *redact.Redactor
	audit     *AuditService
	metrics   *Metrics
	stats     *StatsService
	telemetry *telemetry.Provider
	logger    *slog.Logger
}

var _ inbound.QueryRunner = (*QueryService)(nil)

// QueryOption configures QueryService.
type QueryOption func(*QueryService)

// WithQueryRedactor sets the redactor applied to result rows.
func WithQueryRedactor(r *redact.Redactor) QueryOption {
	return func(s *QueryService) {
		s.redactor = r
	}
}

// WithQueryAudit records rejected statements as blocked attempts.
func WithQueryAudit(a *AuditService) QueryOption {
	return func(s *QueryService) {
		s.audit = a
	}
}

// WithQueryMetrics records classification metrics.
func WithQueryMetrics(m *Metrics) QueryOption {
	return func(s *QueryService) {
		s.metrics = m
	}
}

// WithQueryStats counts allowed and rejected statements.
func WithQueryStats(st *StatsService) QueryOption {
	return func(s *QueryService) {
		s.stats = st
	}
}

// WithQueryTelemetry wraps Run in a span.
func WithQueryTelemetry(p *telemetry.Provider) QueryOption {
	return func(s *QueryService) {
		s.telemetry = p
	}
}

// NewQueryService creates a QueryService.
func NewQueryService(registry *capability.Registry, executor outbound.QueryExecutor, logger *slog.Logger, opts ...QueryOption) *QueryService {
	s := &QueryService{
		registry:  registry,
		executor:  executor,
		redactor:  redact.New(),
		telemetry: telemetry.Disabled(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classify labels stmt without running it.
func (s *QueryService) Classify(stmt string) statement.Classification {
	c := statement.Classify(stmt)
	s.metrics.classified(string(c.Label), string(c.Rule))
	return c
}

// Run classifies stmt and, if it is a pure read, executes it and returns
// the redacted rows.
func (s *QueryService) Run(ctx context.Context, caller *auth.Identity, sessionID, stmt string) (*outbound.QueryResult, error) {
	ctx, done := s.telemetry.TrackOperation(ctx, "query.run", attribute.Int("statement.length", len(stmt)))
	res, err := s.run(ctx, caller, sessionID, stmt)
	done(err)
	return res, err
}

func (s *QueryService) run(ctx context.Context, caller *auth.Identity, sessionID, stmt string) (*outbound.QueryResult, error) {
	if caller == nil || !s.registry.Authorize(capability.Role(caller.Role), proposal.ActionRunQuery) {
		return nil, fmt.Errorf("%w: %s requires %s", ErrForbidden, callerRole(caller), capability.ForAction(proposal.ActionRunQuery))
	}

	c := s.Classify(stmt)
	s.stats.RecordQuery(c.IsRead())
	if !c.IsRead() {
		s.logger.Warn("statement rejected",
			"session_id", sessionID,
			"role", caller.Role,
			"rule", c.Rule,
			"keyword", c.Keyword,
		)
		s.recordRejection(ctx, caller, sessionID, c)
		return nil, &RejectionError{Classification: c}
	}

	res, err := s.executor.Query(ctx, stmt)
	if err != nil {
		s.logger.Info("query failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	out := *res
	out.Rows = s.redactor.RedactRows(res.Columns, res.Rows)
	return &out, nil
}

// recordRejection audits a rejected statement. The rejection stands even
// when the audit write fails; AuditService logs and counts that failure.
func (s *QueryService) recordRejection(ctx context.Context, caller *auth.Identity, sessionID string, c statement.Classification) {
	if s.audit == nil {
		return
	}
	args := map[string]any{"statement": c.Statement}
	hash, _ := proposal.ContentHash(proposal.ActionRunQuery, args)
	_, _ = s.audit.Record(ctx, audit.Record{
		SessionID:    sessionID,
		IdentityID:   caller.ID,
		Role:         caller.Role,
		Action:       proposal.ActionRunQuery,
		Arguments:    args,
		ContentHash:  hash,
		Capability:   audit.Passed(string(capability.ForAction(proposal.ActionRunQuery))),
		Confirmation: audit.Skipped(),
		Validation:   audit.Failed(string(c.Rule) + ": " + c.Reason()),
		Outcome:      audit.OutcomeBlocked,
		Reason:       string(mediation.ReasonMutationRejected),
		Message:      c.Reason(),
		RequestID:    requestIDFromContext(ctx),
	})
}
