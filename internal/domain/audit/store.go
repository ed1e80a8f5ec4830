package audit

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for audit store operations.
var (
	// ErrStoreClosed is returned by stores after Close.
	ErrStoreClosed = errors.New("audit store closed")
	// ErrInvalidRange is returned when End is before Start.
	ErrInvalidRange = errors.New("audit filter end is before start")
)

// Query limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Store persists audit records. Append must return only once the record is
// durable; implementations must never drop records silently.
type Store interface {
	// Append stores a record.
	Append(ctx context.Context, rec Record) error

	// Query returns records matching filter, oldest first, skipping the
	// first filter.Offset matches.
	Query(ctx context.Context, filter Filter) ([]Record, error)

	// Ping reports whether the store can currently accept writes.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter selects audit records. Zero fields match everything.
type Filter struct {
	// Start is the inclusive lower time bound.
	Start time.Time
	// End is the exclusive upper time bound.
	End       time.Time
	SessionID string
	Outcome   Outcome
	Action    string
	// Limit caps the number of records (default 100, max 1000).
	Limit int
	// Offset skips that many matching records, so callers can page past
	// MaxLimit.
	Offset int
}

// Validate checks the filter and normalizes Limit.
func (f *Filter) Validate() error {
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return ErrInvalidRange
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return nil
}

// Matches reports whether rec satisfies the filter.
func (f Filter) Matches(rec Record) bool {
	if !f.Start.IsZero() && rec.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !rec.Timestamp.Before(f.End) {
		return false
	}
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	return true
}
