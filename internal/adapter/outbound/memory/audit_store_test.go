package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sentinel-Gate/infragate/internal/domain/audit"
)

func auditRecord(id string, ts time.Time, outcome audit.Outcome) audit.Record {
	return audit.Record{
		ID:        id,
		Timestamp: ts,
		SessionID: "sess-1",
		Role:      "sre-admin",
		Action:    "scale_deployment",
		Outcome:   outcome,
	}
}

func TestMemoryAuditStore_AppendAndQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewAuditStore()
	base := time.Date(2026, 2, 14, 1, 0, 0, 0, time.UTC)

	_ = store.Append(ctx, auditRecord("a", base, audit.OutcomeExecuted))
	_ = store.Append(ctx, auditRecord("b", base.Add(time.Minute), audit.OutcomeBlocked))
	_ = store.Append(ctx, auditRecord("c", base.Add(2*time.Minute), audit.OutcomeFailed))

	all, err := store.Query(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a" || all[2].ID != "c" {
		t.Errorf("Query() = %+v, want oldest first", all)
	}

	blocked, _ := store.Query(ctx, audit.Filter{Outcome: audit.OutcomeBlocked})
	if len(blocked) != 1 || blocked[0].ID != "b" {
		t.Errorf("outcome filter = %+v", blocked)
	}

	limited, _ := store.Query(ctx, audit.Filter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limit filter returned %d", len(limited))
	}

	page, _ := store.Query(ctx, audit.Filter{Limit: 2, Offset: 2})
	if len(page) != 1 || page[0].ID != "c" {
		t.Errorf("second page = %+v, want [c]", page)
	}

	if _, err := store.Query(ctx, audit.Filter{Start: base, End: base.Add(-time.Second)}); !errors.Is(err, audit.ErrInvalidRange) {
		t.Errorf("inverted range error = %v", err)
	}
}

func TestMemoryAuditStore_Mirror(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	store := NewAuditStoreWithWriter(&buf)
	if err := store.Append(context.Background(), auditRecord("m", time.Now(), audit.OutcomeExecuted)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	var rec audit.Record
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("mirror output is not JSON: %v", err)
	}
	if rec.ID != "m" {
		t.Errorf("mirrored id = %q", rec.ID)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestMemoryAuditStore_MirrorFailureRejectsRecord(t *testing.T) {
	t.Parallel()

	store := NewAuditStoreWithWriter(failingWriter{})
	if err := store.Append(context.Background(), auditRecord("x", time.Now(), audit.OutcomeExecuted)); err == nil {
		t.Fatal("Append() should fail when the mirror fails")
	}
	if store.Len() != 0 {
		t.Errorf("record stored despite mirror failure")
	}
}

func TestMemoryAuditStore_Close(t *testing.T) {
	t.Parallel()

	store := NewAuditStore()
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	_ = store.Close()
	if err := store.Ping(context.Background()); !errors.Is(err, audit.ErrStoreClosed) {
		t.Errorf("Ping() after Close = %v", err)
	}
	if err := store.Append(context.Background(), audit.Record{}); !errors.Is(err, audit.ErrStoreClosed) {
		t.Errorf("Append() after Close = %v", err)
	}
}

func TestMemoryAuditStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	store := NewAuditStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Append(context.Background(), auditRecord(fmt.Sprint(i), time.Now(), audit.OutcomeExecuted))
		}(i)
	}
	wg.Wait()
	if store.Len() != 50 {
		t.Errorf("Len() = %d, want 50", store.Len())
	}
}
