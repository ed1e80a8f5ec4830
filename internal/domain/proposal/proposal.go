// Package proposal contains the action proposal model and the catalog of
// actions the gateway knows how to mediate.
package proposal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// HashPrefix is prepended to every content hash.
const HashPrefix = "sha256:"

// ErrEmptyAction is returned when a proposal names no action.
var ErrEmptyAction = errors.New("action name is required")

// Proposal is a fully specified action an agent wants to perform.
// It is immutable once created; use Clone before handing it to code that
// must not observe later changes.
type Proposal struct {
	// ID uniquely identifies this proposal instance.
	ID string `json:"id"`
	// Action is the tool or operation name, e.g. "restart_deployment".
	Action string `json:"action"`
	// Arguments are normalized JSON values (json.Number for numbers).
	Arguments map[string]any `json:"arguments"`
	// SessionID is the conversation that issued the proposal.
	SessionID string `json:"session_id"`
	// Role is the requesting role.
	Role string `json:"role"`
	// IdentityID is the authenticated caller, if known.
	IdentityID string `json:"identity_id,omitempty"`
	// Justification is the human-readable reason supplied by the agent.
	Justification string `json:"justification"`
	// CreatedAt is when the proposal was received (UTC).
	CreatedAt time.Time `json:"created_at"`

	hash string
}

// Input carries the fields needed to build a Proposal.
type Input struct {
	Action        string
	Arguments     map[string]any
	SessionID     string
	Role          string
	IdentityID    string
	Justification string
}

// New builds a Proposal from in, normalizing its arguments and computing its
// content hash.
func New(in Input, now time.Time) (*Proposal, error) {
	action := strings.TrimSpace(in.Action)
	if action == "" {
		return nil, ErrEmptyAction
	}
	args, err := Normalize(in.Arguments)
	if err != nil {
		return nil, err
	}
	hash, err := ContentHash(action, args)
	if err != nil {
		return nil, err
	}
	return &Proposal{
		ID:            uuid.NewString(),
		Action:        action,
		Arguments:     args,
		SessionID:     in.SessionID,
		Role:          in.Role,
		IdentityID:    in.IdentityID,
		Justification: in.Justification,
		CreatedAt:     now.UTC(),
		hash:          hash,
	}, nil
}

// Hash returns the content hash of the action name and arguments.
func (p *Proposal) Hash() string {
	if p.hash == "" {
		// Proposals decoded from storage carry no cached hash.
		h, err := ContentHash(p.Action, p.Arguments)
		if err != nil {
			return ""
		}
		return h
	}
	return p.hash
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	c := *p
	c.Arguments = cloneMap(p.Arguments)
	return &c
}

// Normalize round-trips args through JSON so that every value is a plain
// JSON type. Numbers are kept as json.Number to avoid float rounding in the
// content hash.
func Normalize(args map[string]any) (map[string]any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := make(map[string]any, len(args))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return out, nil
}

// ContentHash computes "sha256:<hex>" over the RFC 8785 canonical form of
// {"action": action, "arguments": args}. Identical actions with identical
// arguments always hash the same regardless of key order.
func ContentHash(action string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(map[string]any{
		"action":    action,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("encode proposal content: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize proposal content: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return HashPrefix + hex.EncodeToString(sum[:]), nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
