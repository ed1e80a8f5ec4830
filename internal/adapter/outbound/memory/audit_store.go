package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Sentinel-Gate/infragate/internal/domain/audit"
)

// MemoryAuditStore implements audit.Store in memory. Every record is kept
// for the lifetime of the process; an optional writer mirrors each record as
// a JSON line (stdout in dev mode). For development/testing only.
type MemoryAuditStore struct {
	encoder *json.Encoder
	mu      sync.Mutex
	records []audit.Record
	closed  bool
}

// NewAuditStore creates an in-memory audit store with no mirror.
func NewAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// NewAuditStoreWithWriter creates an audit store that also writes each
// record as JSON to w.
func NewAuditStoreWithWriter(w io.Writer) *MemoryAuditStore {
	return &MemoryAuditStore{encoder: json.NewEncoder(w)}
}

// Append stores rec. The record is mirrored before it becomes queryable;
// a mirror failure rejects the record.
func (s *MemoryAuditStore) Append(ctx context.Context, rec audit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audit.ErrStoreClosed
	}
	if s.encoder != nil {
		if err := s.encoder.Encode(rec); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
	}
	s.records = append(s.records, rec)
	return nil
}

// Query returns matching records, oldest first.
func (s *MemoryAuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, audit.ErrStoreClosed
	}

	var result []audit.Record
	skip := filter.Offset
	for _, rec := range s.records {
		if len(result) >= filter.Limit {
			break
		}
		if !filter.Matches(rec) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

// Ping fails only after Close.
func (s *MemoryAuditStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audit.ErrStoreClosed
	}
	return nil
}

// Close rejects further writes and queries.
func (s *MemoryAuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored records.
func (s *MemoryAuditStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Compile-time interface verification.
var _ audit.Store = (*MemoryAuditStore)(nil)
