// Package session tracks conversation sessions: the evidence of what the
// human said, which the independent validator reads as a snapshot.
package session

import (
	"regexp"
	"time"

	"github.com/Sentinel-Gate/infragate/internal/domain/validation"
)

// MaxMessages bounds the message history kept per session.
const MaxMessages = 50

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// ValidID reports whether id is an acceptable session identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Session is one conversation shared by the agents serving a human.
type Session struct {
	// ID is chosen by the conversation layer or generated by GenerateSessionID.
	ID string
	// Messages is the recent conversation, oldest first.
	Messages []validation.Message
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the session will expire (UTC).
	ExpiresAt time.Time
	// LastAccess is the last time the session was used (UTC).
	LastAccess time.Time
}

// IsExpired checks if the session has exceeded its timeout.
func (s *Session) IsExpired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// Refresh updates LastAccess and extends ExpiresAt by the given duration.
func (s *Session) Refresh(timeout time.Duration) {
	now := time.Now().UTC()
	s.LastAccess = now
	s.ExpiresAt = now.Add(timeout)
}

// AddMessage appends m, dropping the oldest messages beyond MaxMessages.
func (s *Session) AddMessage(m validation.Message) {
	s.Messages = append(s.Messages, m)
	if over := len(s.Messages) - MaxMessages; over > 0 {
		s.Messages = append([]validation.Message(nil), s.Messages[over:]...)
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = append([]validation.Message(nil), s.Messages...)
	return &c
}
