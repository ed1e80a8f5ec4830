package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/infragate/internal/domain/audit"
	"github.com/Sentinel-Gate/infragate/internal/domain/auth"
	"github.com/Sentinel-Gate/infragate/internal/domain/capability"
)

// ErrForbidden is returned when the caller's role lacks the capability for
// a gateway operation.
var ErrForbidden = errors.New("forbidden")

// AuditService writes and reads the append-only audit trail. Writes are
// synchronous: Record returns only once the store has accepted the record,
// and every failure is reported to the caller.
type AuditService struct {
	store    audit.Store
	registry *capability.Registry
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithAuditMetrics records write failures in m.
func WithAuditMetrics(m *Metrics) AuditOption {
	return func(s *AuditService) {
		s.metrics = m
	}
}

// WithAuditClock overrides the record timestamp source.
func WithAuditClock(now func() time.Time) AuditOption {
	return func(s *AuditService) {
		s.now = now
	}
}

// NewAuditService creates a new AuditService with the given store and options.
// registry authorizes List; it may be nil for offline export tooling, which
// uses Export instead.
func NewAuditService(store audit.Store, registry *capability.Registry, logger *slog.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		store:    store,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record assigns an ID and timestamp if missing and appends rec.
func (s *AuditService) Record(ctx context.Context, rec audit.Record) (audit.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	if s.registry != nil && rec.RegistryVersion == "" {
		rec.RegistryVersion = s.registry.Version()
	}
	if !rec.Outcome.Valid() {
		return rec, fmt.Errorf("audit record %s: invalid outcome %q", rec.ID, rec.Outcome)
	}
	if err := s.store.Append(ctx, rec); err != nil {
		s.metrics.auditWriteFailed()
		s.logger.Error("audit write failed",
			"audit_id", rec.ID,
			"action", rec.Action,
			"session_id", rec.SessionID,
			"outcome", rec.Outcome,
			"error", err,
		)
		return rec, fmt.Errorf("append audit record: %w", err)
	}
	s.logger.Debug("audit record written", "audit_id", rec.ID, "action", rec.Action, "outcome", rec.Outcome)
	return rec, nil
}

// Ready reports whether the store can currently accept writes.
func (s *AuditService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// List returns records matching filter on behalf of caller, who needs the
// gateway:audit capability.
func (s *AuditService) List(ctx context.Context, caller *auth.Identity, filter audit.Filter) ([]audit.Record, error) {
	if caller == nil || s.registry == nil || !s.registry.Allows(capability.Role(caller.Role), capability.AuditRead) {
		return nil, fmt.Errorf("%w: %s requires %s", ErrForbidden, callerRole(caller), capability.AuditRead)
	}
	return s.Export(ctx, filter)
}

// Export returns records matching filter without an authorization check.
// It backs local tooling that already has direct access to the store.
func (s *AuditService) Export(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return s.store.Query(ctx, filter)
}

func callerRole(caller *auth.Identity) string {
	if caller == nil || caller.Role == "" {
		return "anonymous"
	}
	return "role " + caller.Role
}
