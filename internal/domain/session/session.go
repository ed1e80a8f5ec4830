package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sentinel-Gate/infragate/internal/domain/validation"
)

// DefaultTimeout is the default idle session timeout.
const DefaultTimeout = 30 * time.Minute

// Config holds session service configuration.
type Config struct {
	// Timeout is the session expiration duration. Default: 30 minutes.
	Timeout time.Duration
}

// SessionService manages session lifecycle and conversation evidence.
type SessionService struct {
	store   SessionStore
	timeout time.Duration
}

// NewSessionService creates a new SessionService with the given store and config.
func NewSessionService(store SessionStore, cfg Config) *SessionService {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &SessionService{
		store:   store,
		timeout: timeout,
	}
}

// Touch returns the session with id, creating it if it does not exist or
// has expired, and extends its expiry.
func (s *SessionService) Touch(ctx context.Context, id string) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrInvalidSessionID
	}

	sess, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		now := time.Now().UTC()
		sess = &Session{ID: id, CreatedAt: now, LastAccess: now, ExpiresAt: now.Add(s.timeout)}
		if err := s.store.Create(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		return sess, nil
	case err != nil:
		return nil, err
	}

	sess.Refresh(s.timeout)
	if err := s.store.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return sess, nil
}

// AddMessage records a conversation message in the session, creating the
// session if needed.
func (s *SessionService) AddMessage(ctx context.Context, id string, msg validation.Message) error {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return nil
	}
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}

	sess, err := s.Touch(ctx, id)
	if err != nil {
		return err
	}
	sess.AddMessage(msg)
	if err := s.store.Update(ctx, sess); err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	return nil
}

// Messages returns a snapshot of the session's recent messages. An unknown
// session has no messages.
func (s *SessionService) Messages(ctx context.Context, id string) ([]validation.Message, error) {
	sess, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return append([]validation.Message(nil), sess.Messages...), nil
}

// Delete terminates a session.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// GenerateSessionID creates a cryptographically random session ID.
// Returns 64 hex characters (32 bytes).
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}
