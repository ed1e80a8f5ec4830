package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Sentinel-Gate/infragate/internal/domain/confirmation"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
)

func TestKeys(t *testing.T) {
	tr := NewConfirmationTracker(nil, WithPrefix("test"))
	if got := tr.sessionKey("s-1"); got != "test:{s-1}" {
		t.Errorf("sessionKey() = %q", got)
	}
	if got := tr.entryKey("s-1", "sha256:ab"); got != "test:{s-1}:sha256:ab" {
		t.Errorf("entryKey() = %q", got)
	}
}

func TestScriptsUseServerClock(t *testing.T) {
	tr := NewConfirmationTracker(nil, WithWindow(time.Minute))
	window, ttl := tr.args()
	if window != time.Minute.Microseconds() || ttl != (2*time.Minute).Milliseconds() {
		t.Errorf("args() = (%d, %d)", window, ttl)
	}
	if !strings.Contains(effectiveLua, `redis.call("TIME")`) {
		t.Error("expiry must be judged by the Redis server clock")
	}
}

// Trackers on different replicas share entries and server timestamps.
func TestConfirmationTracker_SharedAcrossReplicas(t *testing.T) {
	a := newIntegrationTracker(t, WithWindow(time.Minute))
	b := NewConfirmationTracker(a.client, WithPrefix(a.prefix), WithWindow(time.Minute))
	ctx := context.Background()
	p := testProposal(t)

	if _, err := a.Propose(ctx, "s-2", p); err != nil {
		t.Fatal(err)
	}
	if ok, err := b.Confirm(ctx, "s-2", p.Hash()); err != nil || !ok {
		t.Fatalf("Confirm() on second replica = %v, %v", ok, err)
	}
	e, found, err := a.Get(ctx, "s-2", p.Hash())
	if err != nil || !found || e.State != confirmation.StateConfirmed {
		t.Fatalf("Get() on first replica = %+v, %v, %v", e, found, err)
	}
	if e.ConfirmedAt.Before(e.ProposedAt) {
		t.Errorf("confirmed_at %v before proposed_at %v", e.ConfirmedAt, e.ProposedAt)
	}
}

func TestParseEntry(t *testing.T) {
	proposed := time.Date(2026, 2, 14, 1, 0, 0, 0, time.UTC)
	confirmed := proposed.Add(time.Minute)

	tests := []struct {
		name    string
		vals    []any
		wantOK  bool
		wantErr bool
		want    confirmation.Entry
	}{
		{"missing", []any{nil, nil, nil}, false, false, confirmation.Entry{}},
		{"unconfirmed", []any{"unconfirmed", fmt.Sprint(proposed.UnixMicro()), nil}, true, false,
			confirmation.Entry{SessionID: "s", Hash: "h", State: confirmation.StateUnconfirmed, ProposedAt: proposed}},
		{"confirmed", []any{"confirmed", fmt.Sprint(proposed.UnixMicro()), fmt.Sprint(confirmed.UnixMicro())}, true, false,
			confirmation.Entry{SessionID: "s", Hash: "h", State: confirmation.StateConfirmed, ProposedAt: proposed, ConfirmedAt: confirmed}},
		{"corrupt", []any{"confirmed", "yesterday", nil}, false, true, confirmation.Entry{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := parseEntry("s", "h", tt.vals)
			if (err != nil) != tt.wantErr || ok != tt.wantOK {
				t.Fatalf("parseEntry() = (%v, %v), want ok=%v err=%v", ok, err, tt.wantOK, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseEntry() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// newIntegrationTracker requires a running Redis; the test is skipped
// when none is reachable.
func newIntegrationTracker(t *testing.T, opts ...Option) *ConfirmationTracker {
	t.Helper()
	addr := os.Getenv("INFRAGATE_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() { _ = client.Close() })

	opts = append([]Option{WithPrefix("infragate-test:" + uuid.NewString())}, opts...)
	return NewConfirmationTracker(client, opts...)
}

func testProposal(t *testing.T) *proposal.Proposal {
	t.Helper()
	p, err := proposal.New(proposal.Input{
		Action:    proposal.ActionScaleDeployment,
		Arguments: map[string]any{"name": "payment-service", "replicas": 3},
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestConfirmationTracker_Integration(t *testing.T) {
	const window = 2 * time.Second
	tr := newIntegrationTracker(t, WithWindow(window))
	ctx := context.Background()
	p := testProposal(t)

	if st, err := tr.Propose(ctx, "s-1", p); err != nil || st != confirmation.StateUnconfirmed {
		t.Fatalf("Propose() = %v, %v", st, err)
	}
	if ok, _ := tr.Consume(ctx, "s-1", p.Hash()); ok {
		t.Fatal("Consume() of unconfirmed entry must fail")
	}
	if ok, err := tr.Confirm(ctx, "s-1", p.Hash()); err != nil || !ok {
		t.Fatalf("Confirm() = %v, %v", ok, err)
	}
	if st, _ := tr.Propose(ctx, "s-1", p); st != confirmation.StateConfirmed {
		t.Fatalf("Propose() after confirm = %v", st)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := tr.Consume(ctx, "s-1", p.Hash()); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("Consume() winners = %d, want 1", wins.Load())
	}

	_, _ = tr.Propose(ctx, "s-1", p)
	time.Sleep(window + 100*time.Millisecond)
	e, found, err := tr.Get(ctx, "s-1", p.Hash())
	if err != nil || !found || e.State != confirmation.StateExpired {
		t.Fatalf("Get() after window = %+v, %v, %v", e, found, err)
	}
	if ok, _ := tr.Confirm(ctx, "s-1", p.Hash()); ok {
		t.Fatal("Confirm() after window must fail")
	}

	if err := tr.EndSession(ctx, "s-1"); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	if _, found, _ := tr.Get(ctx, "s-1", p.Hash()); found {
		t.Error("entry survived EndSession")
	}
}
