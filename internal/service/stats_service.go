// Package service contains the application services of the gateway: proposal
// mediation, the statement-guarded query path and the audit trail.
package service

import (
	"sync"
	"sync/atomic"

	"github.com/Sentinel-Gate/infragate/internal/domain/mediation"
)

// StatsService tracks runtime statistics using lock-free atomic counters.
// All counter operations are safe for concurrent access from multiple goroutines.
type StatsService struct {
	executed atomic.Int64
	pending  atomic.Int64
	blocked  atomic.Int64
	failed   atomic.Int64

	queriesAllowed  atomic.Int64
	queriesRejected atomic.Int64

	// Per reason code counters (mutex-protected map).
	mu      sync.Mutex
	reasons map[mediation.ReasonCode]int64
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		reasons: make(map[mediation.ReasonCode]int64),
	}
}

// RecordResult counts one gateway result.
func (s *StatsService) RecordResult(res mediation.Result) {
	if s == nil {
		return
	}
	switch res.Status {
	case mediation.StatusExecuted:
		s.executed.Add(1)
	case mediation.StatusPending:
		s.pending.Add(1)
	case mediation.StatusBlocked:
		s.blocked.Add(1)
	case mediation.StatusFailed:
		s.failed.Add(1)
	}
	if res.Reason == "" {
		return
	}
	s.mu.Lock()
	s.reasons[res.Reason]++
	s.mu.Unlock()
}

// RecordQuery counts one statement that passed or failed the guard.
func (s *StatsService) RecordQuery(allowed bool) {
	if s == nil {
		return
	}
	if allowed {
		s.queriesAllowed.Add(1)
	} else {
		s.queriesRejected.Add(1)
	}
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Executed        int64                          `json:"executed"`
	Pending         int64                          `json:"pending"`
	Blocked         int64                          `json:"blocked"`
	Failed          int64                          `json:"failed"`
	QueriesAllowed  int64                          `json:"queries_allowed"`
	QueriesRejected int64                          `json:"queries_rejected"`
	Reasons         map[mediation.ReasonCode]int64 `json:"reasons"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	rc := make(map[mediation.ReasonCode]int64, len(s.reasons))
	for k, v := range s.reasons {
		rc[k] = v
	}
	s.mu.Unlock()

	return Stats{
		Executed:        s.executed.Load(),
		Pending:         s.pending.Load(),
		Blocked:         s.blocked.Load(),
		Failed:          s.failed.Load(),
		QueriesAllowed:  s.queriesAllowed.Load(),
		QueriesRejected: s.queriesRejected.Load(),
		Reasons:         rc,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.executed.Store(0)
	s.pending.Store(0)
	s.blocked.Store(0)
	s.failed.Store(0)
	s.queriesAllowed.Store(0)
	s.queriesRejected.Store(0)

	s.mu.Lock()
	s.reasons = make(map[mediation.ReasonCode]int64)
	s.mu.Unlock()
}
