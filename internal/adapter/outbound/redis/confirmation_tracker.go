// Package redis provides Redis-backed implementations of outbound ports,
// for deployments where several gateway replicas share state.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sentinel-Gate/infragate/internal/domain/confirmation"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
)

// DefaultPrefix namespaces every key written by the tracker.
const DefaultPrefix = "infragate:confirm"

// effectiveLua computes the effective state of the entry loaded into st
// (state, proposed_at, confirmed_at). Timestamps come from the Redis server
// clock in microseconds, so replicas with skewed clocks agree on expiry.
const effectiveLua = `
local function server_now()
  local t = redis.call("TIME")
  return tonumber(t[1]) * 1000000 + tonumber(t[2])
end
local function effective(st, now, window)
  local state = st[1]
  if not state then return nil end
  if state == "unconfirmed" and now - tonumber(st[2]) >= window then return "expired" end
  if state == "confirmed" and now - tonumber(st[3]) >= window then return "expired" end
  return state
end
`

// proposeScript: KEYS[1]=entry KEYS[2]=session index
// ARGV[1]=window(us) ARGV[2]=ttl(ms) ARGV[3]=hash
var proposeScript = redis.NewScript(effectiveLua + `
local now = server_now()
local window = tonumber(ARGV[1])
local st = redis.call("HMGET", KEYS[1], "state", "proposed_at", "confirmed_at")
local eff = effective(st, now, window)
if eff and eff ~= "expired" then
  return eff
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "state", "unconfirmed", "proposed_at", string.format("%d", now))
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
return "unconfirmed"
`)

// confirmScript: KEYS[1]=entry KEYS[2]=session index
// ARGV[1]=window(us) ARGV[2]=ttl(ms)
var confirmScript = redis.NewScript(effectiveLua + `
local now = server_now()
local st = redis.call("HMGET", KEYS[1], "state", "proposed_at", "confirmed_at")
if effective(st, now, tonumber(ARGV[1])) ~= "unconfirmed" then
  return 0
end
redis.call("HSET", KEYS[1], "state", "confirmed", "confirmed_at", string.format("%d", now))
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
return 1
`)

// consumeScript: KEYS[1]=entry ARGV[1]=window(us)
var consumeScript = redis.NewScript(effectiveLua + `
local st = redis.call("HMGET", KEYS[1], "state", "proposed_at", "confirmed_at")
if effective(st, server_now(), tonumber(ARGV[1])) ~= "confirmed" then
  return 0
end
redis.call("HSET", KEYS[1], "state", "expired")
return 1
`)

// endSessionScript: KEYS[1]=session index ARGV[1]=entry key prefix.
// Entry keys share the session hash tag, so they live in the index's slot.
var endSessionScript = redis.NewScript(`
local members = redis.call("SMEMBERS", KEYS[1])
for _, h in ipairs(members) do
  redis.call("DEL", ARGV[1] .. h)
end
redis.call("DEL", KEYS[1])
return #members
`)

// ConfirmationTracker implements confirmation.Tracker on Redis. Every
// transition is a single Lua script, so it is atomic across replicas.
// Entries carry a TTL of twice the window; Redis expiry replaces the
// in-memory sweeper.
type ConfirmationTracker struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
}

// Option configures a ConfirmationTracker.
type Option func(*ConfirmationTracker)

// WithWindow sets the confirmation window.
func WithWindow(d time.Duration) Option {
	return func(t *ConfirmationTracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(p string) Option {
	return func(t *ConfirmationTracker) {
		if p != "" {
			t.prefix = p
		}
	}
}

// NewConfirmationTracker creates a tracker on client.
func NewConfirmationTracker(client redis.UniversalClient, opts ...Option) *ConfirmationTracker {
	t := &ConfirmationTracker{
		client: client,
		prefix: DefaultPrefix,
		window: confirmation.DefaultWindow,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// sessionKey returns the index key; the braces form a cluster hash tag.
func (t *ConfirmationTracker) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:{%s}", t.prefix, sessionID)
}

func (t *ConfirmationTracker) entryPrefix(sessionID string) string {
	return t.sessionKey(sessionID) + ":"
}

func (t *ConfirmationTracker) entryKey(sessionID, hash string) string {
	return t.entryPrefix(sessionID) + hash
}

func (t *ConfirmationTracker) args() (window, ttl int64) {
	return t.window.Microseconds(), (2 * t.window).Milliseconds()
}

// Propose creates or returns the entry for (sessionID, p.Hash()).
func (t *ConfirmationTracker) Propose(ctx context.Context, sessionID string, p *proposal.Proposal) (confirmation.State, error) {
	if sessionID == "" {
		return "", confirmation.ErrEmptySession
	}
	hash := p.Hash()
	window, ttl := t.args()
	keys := []string{t.entryKey(sessionID, hash), t.sessionKey(sessionID)}

	res, err := proposeScript.Run(ctx, t.client, keys, window, ttl, hash).Text()
	if err != nil {
		return "", fmt.Errorf("redis propose: %w", err)
	}
	return confirmation.State(res), nil
}

// Confirm moves an unconfirmed, unexpired entry to confirmed.
func (t *ConfirmationTracker) Confirm(ctx context.Context, sessionID, hash string) (bool, error) {
	window, ttl := t.args()
	keys := []string{t.entryKey(sessionID, hash), t.sessionKey(sessionID)}

	n, err := confirmScript.Run(ctx, t.client, keys, window, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("redis confirm: %w", err)
	}
	return n == 1, nil
}

// Consume moves a confirmed, unexpired entry to expired.
func (t *ConfirmationTracker) Consume(ctx context.Context, sessionID, hash string) (bool, error) {
	window, _ := t.args()

	n, err := consumeScript.Run(ctx, t.client, []string{t.entryKey(sessionID, hash)}, window).Int()
	if err != nil {
		return false, fmt.Errorf("redis consume: %w", err)
	}
	return n == 1, nil
}

// Get returns the entry with its effective state, judged by the server clock.
func (t *ConfirmationTracker) Get(ctx context.Context, sessionID, hash string) (confirmation.Entry, bool, error) {
	vals, err := t.client.HMGet(ctx, t.entryKey(sessionID, hash), "state", "proposed_at", "confirmed_at").Result()
	if err != nil {
		return confirmation.Entry{}, false, fmt.Errorf("redis get: %w", err)
	}
	e, ok, err := parseEntry(sessionID, hash, vals)
	if err != nil || !ok {
		return confirmation.Entry{}, ok, err
	}
	now, err := t.client.Time(ctx).Result()
	if err != nil {
		return confirmation.Entry{}, false, fmt.Errorf("redis time: %w", err)
	}
	e.State = e.Effective(now, t.window)
	return e, true, nil
}

// EndSession deletes every entry of sessionID and its index.
func (t *ConfirmationTracker) EndSession(ctx context.Context, sessionID string) error {
	err := endSessionScript.Run(ctx, t.client, []string{t.sessionKey(sessionID)}, t.entryPrefix(sessionID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis end session: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (t *ConfirmationTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// parseEntry decodes an HMGET reply of (state, proposed_at, confirmed_at).
func parseEntry(sessionID, hash string, vals []any) (confirmation.Entry, bool, error) {
	if len(vals) != 3 || vals[0] == nil {
		return confirmation.Entry{}, false, nil
	}
	state, _ := vals[0].(string)
	e := confirmation.Entry{SessionID: sessionID, Hash: hash, State: confirmation.State(state)}

	var err error
	if e.ProposedAt, err = parseMicros(vals[1]); err != nil {
		return confirmation.Entry{}, false, fmt.Errorf("parse proposed_at: %w", err)
	}
	if vals[2] != nil {
		if e.ConfirmedAt, err = parseMicros(vals[2]); err != nil {
			return confirmation.Entry{}, false, fmt.Errorf("parse confirmed_at: %w", err)
		}
	}
	return e, true, nil
}

func parseMicros(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected value %T", v)
	}
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(us).UTC(), nil
}

// Compile-time interface verification.
var _ confirmation.Tracker = (*ConfirmationTracker)(nil)
