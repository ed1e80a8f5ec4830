package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Sentinel-Gate/infragate/internal/domain/audit"
	"github.com/Sentinel-Gate/infragate/internal/domain/auth"
	"github.com/Sentinel-Gate/infragate/internal/domain/capability"
	"github.com/Sentinel-Gate/infragate/internal/domain/confirmation"
	"github.com/Sentinel-Gate/infragate/internal/domain/mediation"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/infragate/internal/domain/redact"
	"github.com/Sentinel-Gate/infragate/internal/domain/session"
	"github.com/Sentinel-Gate/infragate/internal/domain/validation"
	"github.com/Sentinel-Gate/infragate/internal/port/inbound"
	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
	"github.com/Sentinel-Gate/infragate/internal/telemetry"
)

// DefaultValidatorTimeout bounds a single validator call.
const DefaultValidatorTimeout = 5 * time.Second

// ErrInvalidRequest is returned for submissions that are not proposals at
// all: missing action name, malformed session id, no caller.
var ErrInvalidRequest = errors.New("invalid request")

// GatewayDeps are the collaborators every Gateway needs.
type GatewayDeps struct {
	Registry  *capability.Registry
	Catalog   *proposal.Catalog
	Tracker   confirmation.Tracker
	Validator validation.Validator
	Audit     *AuditService
	Executor  outbound.Executor
	Sessions  *session.SessionService
}

// Gateway mediates every action proposal: capability check, confirmation
// handshake, independent validation, execution and audit.
type Gateway struct {
	registry  *capability.Registry
	catalog   *proposal.Catalog
	tracker   confirmation.Tracker
	validator validation.Validator
	audit     *AuditService
	executor  outbound.Executor
	sessions  *session.SessionService

	limiter   ratelimit.RateLimiter
	rateLimit ratelimit.Config

	sanitizer        *validation.Sanitizer
	redactor         *redact.Redactor
	metrics          *Metrics
	stats            *StatsService
	telemetry        *telemetry.Provider
	logger           *slog.Logger
	validatorTimeout time.Duration
	now              func() time.Time
}

var _ inbound.Mediator = (*Gateway)(nil)

// GatewayOption configures Gateway.
type GatewayOption func(*Gateway)

// WithRateLimit limits mutating proposals per session.
func WithRateLimit(limiter ratelimit.RateLimiter, cfg ratelimit.Config) GatewayOption {
	return func(g *Gateway) {
		g.limiter = limiter
		g.rateLimit = cfg
	}
}

// WithValidatorTimeout sets how long the validator may take before the
// proposal is blocked.
func WithValidatorTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.validatorTimeout = d
		}
	}
}

// WithRedactor sets the redactor applied to executor output.
func WithRedactor(r *redact.Redactor) GatewayOption {
	return func(g *Gateway) {
		g.redactor = r
	}
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithStats counts results in s.
func WithStats(s *StatsService) GatewayOption {
	return func(g *Gateway) {
		g.stats = s
	}
}

// WithTelemetry wraps operations in spans.
func WithTelemetry(p *telemetry.Provider) GatewayOption {
	return func(g *Gateway) {
		g.telemetry = p
	}
}

// WithClock overrides the proposal timestamp source.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		g.now = now
	}
}

// NewGateway creates a Gateway. Every field of deps is required.
func NewGateway(deps GatewayDeps, logger *slog.Logger, opts ...GatewayOption) (*Gateway, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("gateway: capability registry is required")
	case deps.Catalog == nil:
		return nil, errors.New("gateway: action catalog is required")
	case deps.Tracker == nil:
		return nil, errors.New("gateway: confirmation tracker is required")
	case deps.Validator == nil:
		return nil, errors.New("gateway: validator is required")
	case deps.Audit == nil:
		return nil, errors.New("gateway: audit service is required")
	case deps.Executor == nil:
		return nil, errors.New("gateway: executor is required")
	case deps.Sessions == nil:
		return nil, errors.New("gateway: session service is required")
	}
	g := &Gateway{
		registry:         deps.Registry,
		catalog:          deps.Catalog,
		tracker:          deps.Tracker,
		validator:        deps.Validator,
		audit:            deps.Audit,
		executor:         deps.Executor,
		sessions:         deps.Sessions,
		sanitizer:        validation.NewSanitizer(),
		redactor:         redact.New(),
		telemetry:        telemetry.Disabled(),
		logger:           logger,
		validatorTimeout: DefaultValidatorTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// attempt carries the evolving audit record of one submission.
type attempt struct {
	p     *proposal.Proposal
	rec   audit.Record
	start time.Time
}

func (g *Gateway) newAttempt(ctx context.Context, p *proposal.Proposal, start time.Time) *attempt {
	return &attempt{
		p:     p,
		start: start,
		rec: audit.Record{
			ProposalID:    p.ID,
			SessionID:     p.SessionID,
			IdentityID:    p.IdentityID,
			Role:          p.Role,
			Action:        p.Action,
			Arguments:     audit.RedactSensitiveArgs(p.Arguments),
			Justification: p.Justification,
			ContentHash:   p.Hash(),
			Capability:    audit.Skipped(),
			Confirmation:  audit.Skipped(),
			Validation:    audit.Skipped(),
			RequestID:     requestIDFromContext(ctx),
		},
	}
}

// Submit mediates one proposal on behalf of caller.
//
// The returned error is non-nil only for infrastructure faults; blocking
// decisions are reported in the Result. When the error wraps
// mediation.ErrAuditInconsistent the action did run.
func (g *Gateway) Submit(ctx context.Context, caller *auth.Identity, req inbound.ProposalRequest) (mediation.Result, error) {
	ctx, done := g.telemetry.TrackOperation(ctx, "gateway.submit", attribute.String("action", req.Action))
	res, err := g.submit(ctx, caller, req)
	done(err)
	if res.Status != "" {
		g.stats.RecordResult(res)
		g.metrics.decision(req.Action, string(res.Status), string(res.Reason))
	}
	return res, err
}

func (g *Gateway) submit(ctx context.Context, caller *auth.Identity, req inbound.ProposalRequest) (mediation.Result, error) {
	start := g.now()
	if caller == nil {
		return mediation.Result{}, fmt.Errorf("%w: no authenticated caller", ErrInvalidRequest)
	}
	if !session.ValidID(req.SessionID) {
		return mediation.Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, session.ErrInvalidSessionID)
	}
	if err := g.sanitizer.ValidateActionName(req.Action); err != nil {
		return mediation.Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	args, argErr := g.sanitizer.SanitizeArguments(req.Arguments)
	if argErr == nil {
		args = g.catalog.WithDefaults(req.Action, args)
	}
	p, err := proposal.New(proposal.Input{
		Action:        req.Action,
		Arguments:     args,
		SessionID:     req.SessionID,
		Role:          caller.Role,
		IdentityID:    caller.ID,
		Justification: g.sanitizer.SanitizeText(req.Justification, validation.MaxJustificationLength),
	}, start)
	if err != nil {
		return mediation.Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	a := g.newAttempt(ctx, p, start)
	logger := g.logger.With("action", p.Action, "session_id", p.SessionID, "proposal_id", p.ID, "role", p.Role)

	// Capability check. Pure set membership.
	if !g.registry.Authorize(capability.Role(p.Role), p.Action) {
		a.rec.Capability = audit.Failed(fmt.Sprintf("role %q lacks %s", p.Role, capability.ForAction(p.Action)))
		logger.Warn("proposal blocked: unauthorized role")
		return g.block(ctx, a, mediation.ReasonUnauthorizedRole,
			fmt.Sprintf("Role %q is not permitted to run %s.", p.Role, p.Action), nil)
	}
	a.rec.Capability = audit.Passed(string(capability.ForAction(p.Action)))

	if argErr == nil {
		if err := g.catalog.ValidateArguments(p.Action, p.Arguments); err != nil && !errors.Is(err, proposal.ErrUnknownAction) {
			argErr = err
		}
	}
	if argErr != nil {
		logger.Info("proposal blocked: invalid arguments", "error", argErr)
		return g.block(ctx, a, mediation.ReasonInvalidArguments, argErr.Error(), nil)
	}

	if !g.catalog.IsMutating(p.Action) {
		return g.runReadOnly(ctx, p, logger)
	}

	if g.limiter != nil && g.rateLimit.Enabled() {
		rl, err := g.limiter.Allow(ctx, ratelimit.FormatKey(ratelimit.KeyTypeSession, p.SessionID), g.rateLimit)
		if err != nil {
			return mediation.Result{}, fmt.Errorf("rate limit check: %w", err)
		}
		if !rl.Allowed {
			logger.Warn("proposal blocked: rate limited", "retry_after", rl.RetryAfter)
			return g.block(ctx, a, mediation.ReasonRateLimited,
				fmt.Sprintf("Too many proposals in this session; retry in %s.", rl.RetryAfter.Round(time.Second)), nil)
		}
	}

	if _, err := g.sessions.Touch(ctx, p.SessionID); err != nil {
		return mediation.Result{}, fmt.Errorf("touch session: %w", err)
	}

	state, err := g.tracker.Propose(ctx, p.SessionID, p)
	if err != nil {
		return mediation.Result{}, fmt.Errorf("propose: %w", err)
	}
	if state != confirmation.StateConfirmed {
		logger.Info("proposal pending confirmation", "content_hash", p.Hash())
		return mediation.Result{
			Status:      mediation.StatusPending,
			Reason:      mediation.ReasonConfirmationRequired,
			Message:     fmt.Sprintf("Confirmation required: %s. Reply with an explicit confirmation for %s.", proposal.Describe(p.Action, proposal.Plain(p.Arguments)), p.Hash()),
			ContentHash: p.Hash(),
			ProposalID:  p.ID,
		}, nil
	}

	// Read the confirmation time before Consume expires the entry.
	entry, _, err := g.tracker.Get(ctx, p.SessionID, p.Hash())
	if err != nil {
		return mediation.Result{}, fmt.Errorf("read confirmation: %w", err)
	}
	consumed, err := g.tracker.Consume(ctx, p.SessionID, p.Hash())
	if err != nil {
		return mediation.Result{}, fmt.Errorf("consume confirmation: %w", err)
	}
	if !consumed {
		a.rec.Confirmation = audit.Failed("confirmation already used or expired")
		logger.Warn("proposal blocked: confirmation invalid")
		return g.block(ctx, a, mediation.ReasonConfirmationInvalid,
			"The confirmation for this action was already used or has expired; propose it again.", nil)
	}
	a.rec.Confirmation = audit.Passed("confirmed at " + entry.ConfirmedAt.UTC().Format(time.RFC3339))

	conv, err := g.snapshot(ctx, p.SessionID, entry)
	if err != nil {
		return mediation.Result{}, err
	}
	verdict, verr := g.validate(ctx, p, conv)
	if verr != nil {
		logger.Warn("validator failed closed", "error", verr)
	}
	if !verdict.Allow {
		a.rec.Validation = audit.Failed(verdict.Rule + ": " + verdict.Reason)
		logger.Info("proposal blocked by validator", "rule", verdict.Rule, "reason", verdict.Reason)
		return g.block(ctx, a, mediation.ReasonValidationRejected, verdict.Reason, &verdict)
	}
	a.rec.Validation = audit.Passed(verdict.Reason)

	if err := g.audit.Ready(ctx); err != nil {
		g.metrics.auditWriteFailed()
		logger.Error("audit store unavailable; action not executed", "error", err)
		return mediation.Result{
			Status:      mediation.StatusBlocked,
			Reason:      mediation.ReasonAuditWriteFailed,
			Message:     "The audit store is unavailable, so the action was not executed.",
			ContentHash: p.Hash(),
			ProposalID:  p.ID,
			Verdict:     &verdict,
		}, fmt.Errorf("%w: %w", mediation.ErrAuditWriteFailed, err)
	}

	return g.execute(ctx, a, &verdict, logger)
}

// execute runs an approved proposal and records the outcome.
func (g *Gateway) execute(ctx context.Context, a *attempt, verdict *validation.Verdict, logger *slog.Logger) (mediation.Result, error) {
	p := a.p
	res := mediation.Result{ContentHash: p.Hash(), ProposalID: p.ID, Verdict: verdict}

	out, execErr := g.executor.Execute(ctx, p.Action, proposal.Plain(p.Arguments))
	if execErr != nil {
		res.Status = mediation.StatusFailed
		res.Reason = mediation.ReasonExecutionFailed
		res.Error = execErr.Error()
		res.Message = fmt.Sprintf("%s failed: %v", p.Action, execErr)
		a.rec.Outcome = audit.OutcomeFailed
		a.rec.Reason = string(mediation.ReasonExecutionFailed)
		a.rec.Error = execErr.Error()
		logger.Warn("action execution failed", "error", execErr)
	} else {
		output, err := g.sanitizeOutput(out)
		if err != nil {
			logger.Warn("executor output not serializable", "error", err)
			output = fmt.Sprint(out)
		}
		res.Status = mediation.StatusExecuted
		res.Output = output
		res.Message = fmt.Sprintf("%s executed.", proposal.Describe(p.Action, proposal.Plain(p.Arguments)))
		a.rec.Outcome = audit.OutcomeExecuted
		a.rec.Result = output
		logger.Info("action executed")
	}
	a.rec.Message = res.Message
	a.rec.LatencyMicros = g.now().Sub(a.start).Microseconds()

	rec, err := g.audit.Record(ctx, a.rec)
	if err != nil {
		g.metrics.auditInconsistent()
		logger.Error("action ran but audit record was not written",
			"outcome", a.rec.Outcome,
			"content_hash", p.Hash(),
			"error", err,
		)
		res.Reason = mediation.ReasonAuditInconsistent
		return res, fmt.Errorf("%w: %w", mediation.ErrAuditInconsistent, err)
	}
	res.AuditID = rec.ID
	return res, nil
}

// block records a blocked attempt and returns the blocked result.
func (g *Gateway) block(ctx context.Context, a *attempt, reason mediation.ReasonCode, msg string, verdict *validation.Verdict) (mediation.Result, error) {
	res := mediation.Result{
		Status:      mediation.StatusBlocked,
		Reason:      reason,
		Message:     msg,
		ContentHash: a.p.Hash(),
		ProposalID:  a.p.ID,
		Verdict:     verdict,
	}
	a.rec.Outcome = audit.OutcomeBlocked
	a.rec.Reason = string(reason)
	a.rec.Message = msg
	a.rec.LatencyMicros = g.now().Sub(a.start).Microseconds()
	rec, err := g.audit.Record(ctx, a.rec)
	if err != nil {
		return res, fmt.Errorf("%w: %w", mediation.ErrAuditWriteFailed, err)
	}
	res.AuditID = rec.ID
	return res, nil
}

// runReadOnly executes an action that changes nothing. The confirmation
// tracker is never consulted.
func (g *Gateway) runReadOnly(ctx context.Context, p *proposal.Proposal, logger *slog.Logger) (mediation.Result, error) {
	res := mediation.Result{ContentHash: p.Hash(), ProposalID: p.ID}
	out, err := g.executor.Execute(ctx, p.Action, proposal.Plain(p.Arguments))
	if err != nil {
		logger.Info("read-only action failed", "error", err)
		res.Status = mediation.StatusFailed
		res.Reason = mediation.ReasonExecutionFailed
		res.Error = err.Error()
		res.Message = fmt.Sprintf("%s failed: %v", p.Action, err)
		return res, nil
	}
	output, err := g.sanitizeOutput(out)
	if err != nil {
		return mediation.Result{}, fmt.Errorf("normalize %s output: %w", p.Action, err)
	}
	res.Status = mediation.StatusExecuted
	res.Output = output
	res.Message = fmt.Sprintf("%s completed.", p.Action)
	return res, nil
}

// sanitizeOutput converts executor output to plain JSON values and masks
// personal data in it.
func (g *Gateway) sanitizeOutput(out any) (any, error) {
	if out == nil {
		return nil, nil
	}
	if qr, ok := out.(*outbound.QueryResult); ok {
		cp := *qr
		cp.Rows = g.redactor.RedactRows(qr.Columns, qr.Rows)
		out = &cp
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, err
	}
	return g.redactor.RedactValue(plain), nil
}

// snapshot builds the immutable evidence handed to the validator.
func (g *Gateway) snapshot(ctx context.Context, sessionID string, entry confirmation.Entry) (validation.ConversationContext, error) {
	msgs, err := g.sessions.Messages(ctx, sessionID)
	if err != nil {
		return validation.ConversationContext{}, fmt.Errorf("read session messages: %w", err)
	}
	conv := validation.ConversationContext{SessionID: sessionID, Messages: msgs}
	if entry.State == confirmation.StateConfirmed && !entry.ConfirmedAt.IsZero() {
		conv.Confirmations = []validation.Confirmation{{ContentHash: entry.Hash, ConfirmedAt: entry.ConfirmedAt}}
	}
	return conv, nil
}

type validationOutcome struct {
	verdict validation.Verdict
	err     error
}

// validate runs the validator under the gateway timeout. Errors, timeouts
// and verdicts for a different content hash all block.
func (g *Gateway) validate(ctx context.Context, p *proposal.Proposal, conv validation.ConversationContext) (validation.Verdict, error) {
	start := time.Now()
	defer func() { g.metrics.observeValidation(time.Since(start).Seconds()) }()

	vctx, cancel := context.WithTimeout(ctx, g.validatorTimeout)
	defer cancel()

	hash := p.Hash()
	ch := make(chan validationOutcome, 1)
	go func(p *proposal.Proposal) {
		v, err := g.validator.Validate(vctx, p, conv)
		ch <- validationOutcome{verdict: v, err: err}
	}(p.Clone())

	select {
	case o := <-ch:
		if o.err != nil {
			return validation.Denied(validation.RuleEvaluationError, "validation could not complete: "+o.err.Error(), hash), o.err
		}
		if o.verdict.Allow && o.verdict.ContentHash != hash {
			return validation.Denied(validation.RuleEvaluationError, "validator answered for a different proposal", hash), nil
		}
		return o.verdict, nil
	case <-vctx.Done():
		return validation.Denied(validation.RuleTimeout,
			fmt.Sprintf("validator did not answer within %s", g.validatorTimeout), hash), vctx.Err()
	}
}

// Confirm records a human confirmation signal. Only a literal affirmative
// signal confirms; the result reports whether a pending proposal moved to
// confirmed.
func (g *Gateway) Confirm(ctx context.Context, caller *auth.Identity, sig mediation.ConfirmationSignal) (bool, error) {
	ctx, done := g.telemetry.TrackOperation(ctx, "gateway.confirm")
	ok, err := g.confirm(ctx, caller, sig)
	done(err)
	return ok, err
}

func (g *Gateway) confirm(ctx context.Context, caller *auth.Identity, sig mediation.ConfirmationSignal) (bool, error) {
	if err := g.require(caller, capability.Confirm); err != nil {
		return false, err
	}
	if !session.ValidID(sig.SessionID) {
		return false, fmt.Errorf("%w: %w", ErrInvalidRequest, session.ErrInvalidSessionID)
	}
	if sig.Message != "" {
		if err := g.sessions.AddMessage(ctx, sig.SessionID, validation.Message{
			Role:        "user",
			Text:        g.sanitizer.SanitizeText(sig.Message, validation.MaxJustificationLength),
			ContentHash: sig.ContentHash,
		}); err != nil {
			return false, fmt.Errorf("record confirmation message: %w", err)
		}
	}
	if !sig.Affirmative {
		g.metrics.confirmation("declined")
		return false, nil
	}

	ok, err := g.tracker.Confirm(ctx, sig.SessionID, sig.ContentHash)
	if err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	if !ok {
		g.metrics.confirmation("rejected")
		g.logger.Info("confirmation did not match a pending proposal",
			"session_id", sig.SessionID, "content_hash", sig.ContentHash)
		return false, nil
	}
	g.metrics.confirmation("confirmed")
	g.logger.Info("proposal confirmed", "session_id", sig.SessionID, "content_hash", sig.ContentHash, "identity", caller.ID)
	return true, nil
}

// RecordMessage stores a human message as validator evidence.
func (g *Gateway) RecordMessage(ctx context.Context, caller *auth.Identity, sessionID, text string) error {
	if err := g.require(caller, capability.Confirm); err != nil {
		return err
	}
	if !session.ValidID(sessionID) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, session.ErrInvalidSessionID)
	}
	return g.sessions.AddMessage(ctx, sessionID, validation.Message{
		Role: "user",
		Text: g.sanitizer.SanitizeText(text, validation.MaxJustificationLength),
	})
}

// EndSession drops the session's confirmations, messages and rate limit state.
func (g *Gateway) EndSession(ctx context.Context, caller *auth.Identity, sessionID string) error {
	if err := g.require(caller, capability.EndSession); err != nil {
		return err
	}
	if !session.ValidID(sessionID) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, session.ErrInvalidSessionID)
	}
	if err := g.tracker.EndSession(ctx, sessionID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if err := g.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	if f, ok := g.limiter.(interface{ Forget(string) }); ok {
		f.Forget(ratelimit.FormatKey(ratelimit.KeyTypeSession, sessionID))
	}
	g.logger.Info("session ended", "session_id", sessionID)
	return nil
}

// Catalog returns the action catalog the gateway mediates.
func (g *Gateway) Catalog() *proposal.Catalog {
	return g.catalog
}

func (g *Gateway) require(caller *auth.Identity, c capability.Capability) error {
	if caller == nil || !g.registry.Allows(capability.Role(caller.Role), c) {
		return fmt.Errorf("%w: %s requires %s", ErrForbidden, callerRole(caller), c)
	}
	return nil
}
