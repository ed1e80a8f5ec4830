// Package confirmation holds the per-session confirmation state machine:
// unconfirmed -> confirmed -> expired, and unconfirmed -> expired on timeout.
package confirmation

import (
	"context"
	"errors"
	"time"

	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
)

// DefaultWindow is how long a proposal stays confirmable, and how long a
// confirmation stays consumable.
const DefaultWindow = 10 * time.Minute

// State is the confirmation state of one (session, content hash) key.
type State string

const (
	StateUnconfirmed State = "unconfirmed"
	StateConfirmed   State = "confirmed"
	StateExpired     State = "expired"
)

// ErrEmptySession is returned when a session id is missing.
var ErrEmptySession = errors.New("session id is required")

// Entry is the stored state for one key. Expiry is lazy: the stored State
// may be stale and must be read through Effective.
type Entry struct {
	SessionID   string    `json:"session_id"`
	Hash        string    `json:"hash"`
	State       State     `json:"state"`
	ProposedAt  time.Time `json:"proposed_at"`
	ConfirmedAt time.Time `json:"confirmed_at,omitempty"`
}

// Effective returns the state as of now, treating entries older than
// window as expired.
func (e Entry) Effective(now time.Time, window time.Duration) State {
	switch e.State {
	case StateUnconfirmed:
		if now.Sub(e.ProposedAt) >= window {
			return StateExpired
		}
	case StateConfirmed:
		if now.Sub(e.ConfirmedAt) >= window {
			return StateExpired
		}
	}
	return e.State
}

// Tracker records which proposals a human has explicitly confirmed.
// Confirm and Consume on the same key are serialized.
type Tracker interface {
	// Propose creates the entry for (session, p.Hash()) or returns the
	// current state. An expired entry is replaced by a fresh unconfirmed one.
	Propose(ctx context.Context, sessionID string, p *proposal.Proposal) (State, error)

	// Confirm moves unconfirmed -> confirmed. Returns false for confirmed,
	// expired or unknown keys.
	Confirm(ctx context.Context, sessionID, hash string) (bool, error)

	// Consume atomically moves confirmed -> expired and returns true.
	// Returns false in every other case.
	Consume(ctx context.Context, sessionID, hash string) (bool, error)

	// Get returns the entry with its effective state.
	Get(ctx context.Context, sessionID, hash string) (Entry, bool, error)

	// EndSession drops all state held for a session.
	EndSession(ctx context.Context, sessionID string) error
}
