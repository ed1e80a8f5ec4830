package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/infragate/internal/domain/session"
	"github.com/Sentinel-Gate/infragate/internal/domain/validation"
)

func newSession(id string, ttl time.Duration) *session.Session {
	now := time.Now().UTC()
	return &session.Session{
		ID:         id,
		CreatedAt:  now,
		LastAccess: now,
		ExpiresAt:  now.Add(ttl),
		Messages:   []validation.Message{{Role: "user", Text: "restart checkout"}},
	}
}

func TestSessionStore_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	if _, err := store.Get(ctx, "s-1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Get() on empty store = %v", err)
	}
	if err := store.Update(ctx, newSession("s-1", time.Hour)); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Update() of unknown session = %v", err)
	}

	_ = store.Create(ctx, newSession("s-1", time.Hour))
	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.AddMessage(validation.Message{Role: "user", Text: "yes"})
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	again, _ := store.Get(ctx, "s-1")
	if len(again.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(again.Messages))
	}

	_ = store.Delete(ctx, "s-1")
	_ = store.Delete(ctx, "s-1")
	if _, err := store.Get(ctx, "s-1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() after Delete = %v", err)
	}
}

func TestSessionStore_ExpiredSessionHidden(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	_ = store.Create(context.Background(), newSession("old", -time.Second))
	if _, err := store.Get(context.Background(), "old"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() of expired session = %v", err)
	}
	if store.Size() != 1 {
		t.Error("expired session is removed by cleanup, not Get")
	}
}

func TestSessionStore_CopyOnReturn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	orig := newSession("s", time.Hour)
	_ = store.Create(ctx, orig)
	orig.Messages[0].Text = "changed"

	got, _ := store.Get(ctx, "s")
	if got.Messages[0].Text != "restart checkout" {
		t.Error("caller mutation leaked into store")
	}
	got.Messages[0].Text = "changed again"
	again, _ := store.Get(ctx, "s")
	if again.Messages[0].Text != "restart checkout" {
		t.Error("returned copy shares message storage")
	}
}

func TestSessionStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			_ = store.Create(ctx, newSession(id, time.Hour))
			_, _ = store.Get(ctx, id)
			_ = store.Delete(ctx, id)
		}(i)
	}
	wg.Wait()
	if store.Size() != 0 {
		t.Errorf("Size() = %d, want 0", store.Size())
	}
}

func TestSessionStoreCleanup(t *testing.T) {
	t.Parallel()

	store := NewSessionStoreWithConfig(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartCleanup(ctx)
	defer store.Stop()

	_ = store.Create(ctx, newSession("short", 20*time.Millisecond))
	_ = store.Create(ctx, newSession("long", time.Hour))

	deadline := time.Now().Add(2 * time.Second)
	for store.Size() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if store.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", store.Size())
	}
	if _, err := store.Get(ctx, "long"); err != nil {
		t.Errorf("live session removed: %v", err)
	}
}

func TestSessionStoreNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewSessionStoreWithConfig(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	store.StartCleanup(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	store.Stop()
	store.Stop()
}
