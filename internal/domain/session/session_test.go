package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sentinel-Gate/infragate/internal/domain/validation"
)

// mockSessionStore is a simple in-memory mock for testing.
type mockSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: make(map[string]*Session)}
}

func (m *mockSessionStore) Create(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *mockSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok || session.IsExpired() {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (m *mockSessionStore) Update(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *mockSessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

var _ SessionStore = (*mockSessionStore)(nil)

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"s-1", true},
		{"chat:4f2a.b_9", true},
		{"", false},
		{"-leading", false},
		{"has space", false},
		{fmt.Sprintf("%0129d", 0), false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestSessionService_Touch(t *testing.T) {
	ctx := context.Background()
	store := newMockSessionStore()
	svc := NewSessionService(store, Config{Timeout: time.Minute})

	first, err := svc.Touch(ctx, "s-1")
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	second, err := svc.Touch(ctx, "s-1")
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("Touch() recreated an existing session")
	}
	if second.ExpiresAt.Before(first.ExpiresAt) {
		t.Error("Touch() did not extend expiry")
	}

	if _, err := svc.Touch(ctx, "bad id"); !errors.Is(err, ErrInvalidSessionID) {
		t.Errorf("invalid id error = %v", err)
	}
}

func TestSessionService_Messages(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService(newMockSessionStore(), Config{})

	if msgs, err := svc.Messages(ctx, "unknown"); err != nil || msgs != nil {
		t.Fatalf("unknown session = (%v, %v), want empty", msgs, err)
	}

	_ = svc.AddMessage(ctx, "s-1", validation.Message{Role: "user", Text: "  scale payment-service to zero  "})
	_ = svc.AddMessage(ctx, "s-1", validation.Message{Role: "user", Text: "   "})
	_ = svc.AddMessage(ctx, "s-1", validation.Message{Role: "assistant", Text: "ok"})

	msgs, err := svc.Messages(ctx, "s-1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2 (blank message dropped)", len(msgs))
	}
	if msgs[0].Text != "scale payment-service to zero" || msgs[0].At.IsZero() {
		t.Errorf("first message = %+v", msgs[0])
	}

	msgs[0].Text = "mutated"
	again, _ := svc.Messages(ctx, "s-1")
	if again[0].Text == "mutated" {
		t.Error("Messages() must return a snapshot")
	}
}

func TestSession_AddMessageBounded(t *testing.T) {
	s := &Session{ID: "s"}
	for i := 0; i < MaxMessages+5; i++ {
		s.AddMessage(validation.Message{Role: "user", Text: fmt.Sprint(i)})
	}
	if len(s.Messages) != MaxMessages {
		t.Fatalf("len = %d, want %d", len(s.Messages), MaxMessages)
	}
	if s.Messages[0].Text != "5" {
		t.Errorf("oldest kept = %q, want 5", s.Messages[0].Text)
	}
}

func TestSessionService_Delete(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService(newMockSessionStore(), Config{})
	_ = svc.AddMessage(ctx, "s-1", validation.Message{Role: "user", Text: "hi"})
	_ = svc.Delete(ctx, "s-1")
	if msgs, _ := svc.Messages(ctx, "s-1"); len(msgs) != 0 {
		t.Errorf("messages survived Delete: %v", msgs)
	}
}

func TestGenerateSessionID(t *testing.T) {
	a, err := GenerateSessionID()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateSessionID()
	if len(a) != 64 || a == b {
		t.Errorf("GenerateSessionID() = %q, %q", a, b)
	}
	if !ValidID(a) {
		t.Error("generated id must be valid")
	}
}
