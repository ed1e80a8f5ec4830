package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/infragate/internal/domain/confirmation"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
)

const trackerShards = 32

// sessionEntries holds all confirmation entries of one session. dead is set
// once the session has been unlinked from its shard; a caller that locks a
// dead session must look it up again.
type sessionEntries struct {
	mu      sync.Mutex
	entries map[string]*confirmation.Entry
	dead    bool
}

type trackerShard struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntries
}

// ConfirmationTracker implements confirmation.Tracker in memory. Sessions
// are spread over xxhash-selected shards; every transition runs under the
// owning session's lock, so Confirm and Consume on a key are serialized
// while unrelated sessions proceed in parallel.
type ConfirmationTracker struct {
	shards          [trackerShards]*trackerShard
	window          time.Duration
	now             func() time.Time
	cleanupInterval time.Duration
	logger          *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// TrackerOption configures a ConfirmationTracker.
type TrackerOption func(*ConfirmationTracker)

// WithWindow sets the confirmation window.
func WithWindow(d time.Duration) TrackerOption {
	return func(t *ConfirmationTracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *ConfirmationTracker) { t.now = now }
}

// WithSweepInterval sets how often StartCleanup sweeps expired entries.
func WithSweepInterval(d time.Duration) TrackerOption {
	return func(t *ConfirmationTracker) {
		if d > 0 {
			t.cleanupInterval = d
		}
	}
}

// WithTrackerLogger sets the logger used by the sweeper.
func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *ConfirmationTracker) { t.logger = l }
}

// NewConfirmationTracker creates an empty tracker.
func NewConfirmationTracker(opts ...TrackerOption) *ConfirmationTracker {
	t := &ConfirmationTracker{
		window:          confirmation.DefaultWindow,
		now:             time.Now,
		cleanupInterval: time.Minute,
		logger:          slog.Default(),
		stopChan:        make(chan struct{}),
	}
	for i := range t.shards {
		t.shards[i] = &trackerShard{sessions: make(map[string]*sessionEntries)}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *ConfirmationTracker) shardFor(sessionID string) *trackerShard {
	return t.shards[xxhash.Sum64String(sessionID)%trackerShards]
}

// lockSession returns the session locked, or nil when it does not exist and
// create is false.
func (t *ConfirmationTracker) lockSession(sessionID string, create bool) *sessionEntries {
	sh := t.shardFor(sessionID)
	for {
		sh.mu.Lock()
		s, ok := sh.sessions[sessionID]
		if !ok {
			if !create {
				sh.mu.Unlock()
				return nil
			}
			s = &sessionEntries{entries: make(map[string]*confirmation.Entry)}
			sh.sessions[sessionID] = s
		}
		sh.mu.Unlock()

		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

// Propose creates or returns the entry for (sessionID, p.Hash()).
func (t *ConfirmationTracker) Propose(ctx context.Context, sessionID string, p *proposal.Proposal) (confirmation.State, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", confirmation.ErrEmptySession
	}
	hash := p.Hash()

	s := t.lockSession(sessionID, true)
	defer s.mu.Unlock()

	now := t.now()
	if e, ok := s.entries[hash]; ok {
		if st := e.Effective(now, t.window); st != confirmation.StateExpired {
			return st, nil
		}
	}
	s.entries[hash] = &confirmation.Entry{
		SessionID:  sessionID,
		Hash:       hash,
		State:      confirmation.StateUnconfirmed,
		ProposedAt: now,
	}
	return confirmation.StateUnconfirmed, nil
}

// Confirm moves an unconfirmed, unexpired entry to confirmed.
func (t *ConfirmationTracker) Confirm(ctx context.Context, sessionID, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s := t.lockSession(sessionID, false)
	if s == nil {
		return false, nil
	}
	defer s.mu.Unlock()

	now := t.now()
	e, ok := s.entries[hash]
	if !ok || e.Effective(now, t.window) != confirmation.StateUnconfirmed {
		return false, nil
	}
	e.State = confirmation.StateConfirmed
	e.ConfirmedAt = now
	return true, nil
}

// Consume moves a confirmed, unexpired entry to expired. At most one
// caller observes true per confirmation.
func (t *ConfirmationTracker) Consume(ctx context.Context, sessionID, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s := t.lockSession(sessionID, false)
	if s == nil {
		return false, nil
	}
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok || e.Effective(t.now(), t.window) != confirmation.StateConfirmed {
		return false, nil
	}
	e.State = confirmation.StateExpired
	return true, nil
}

// Get returns a copy of the entry with its effective state.
func (t *ConfirmationTracker) Get(ctx context.Context, sessionID, hash string) (confirmation.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return confirmation.Entry{}, false, err
	}
	s := t.lockSession(sessionID, false)
	if s == nil {
		return confirmation.Entry{}, false, nil
	}
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok {
		return confirmation.Entry{}, false, nil
	}
	out := *e
	out.State = e.Effective(t.now(), t.window)
	return out, true, nil
}

// EndSession drops every entry of sessionID.
func (t *ConfirmationTracker) EndSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := t.shardFor(sessionID)
	sh.mu.Lock()
	s, ok := sh.sessions[sessionID]
	delete(sh.sessions, sessionID)
	sh.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.dead = true
	s.entries = nil
	s.mu.Unlock()
	return nil
}

// StartCleanup starts the background sweeper. It stops when ctx is
// cancelled or Stop() is called.
func (t *ConfirmationTracker) StartCleanup(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopChan:
				return
			case <-ticker.C:
				t.Sweep()
			}
		}
	}()
}

// Sweep removes expired entries and sessions left empty. It returns the
// number of entries removed.
func (t *ConfirmationTracker) Sweep() int {
	removed := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		sessions := make(map[string]*sessionEntries, len(sh.sessions))
		for id, s := range sh.sessions {
			sessions[id] = s
		}
		sh.mu.Unlock()

		for id, s := range sessions {
			s.mu.Lock()
			if s.dead {
				s.mu.Unlock()
				continue
			}
			now := t.now()
			for hash, e := range s.entries {
				if e.Effective(now, t.window) == confirmation.StateExpired {
					delete(s.entries, hash)
					removed++
				}
			}
			if len(s.entries) == 0 {
				sh.mu.Lock()
				if sh.sessions[id] == s {
					delete(sh.sessions, id)
				}
				sh.mu.Unlock()
				s.dead = true
			}
			s.mu.Unlock()
		}
	}
	if removed > 0 {
		t.logger.Debug("confirmation sweep completed", "removed_entries", removed)
	}
	return removed
}

// Stop stops the sweeper and waits for it to exit. Safe to call multiple times.
func (t *ConfirmationTracker) Stop() {
	t.once.Do(func() {
		close(t.stopChan)
	})
	t.wg.Wait()
}

// SessionCount returns the number of sessions holding state.
func (t *ConfirmationTracker) SessionCount() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// Compile-time interface verification.
var _ confirmation.Tracker = (*ConfirmationTracker)(nil)
