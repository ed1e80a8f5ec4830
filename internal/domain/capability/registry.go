// Package capability maps roles to the actions they may invoke.
//
// A Registry is built once at startup from static configuration and is
// read-only afterwards. All lookups fail closed: unknown roles and unknown
// capabilities are never authorized.
package capability

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Role is an opaque role identifier such as "viewer" or "sre-admin".
type Role string

// Capability is a named permission such as "tool:restart_deployment".
type Capability string

// Capability namespaces.
const (
	ToolPrefix    = "tool:"
	GatewayPrefix = "gateway:"
)

// Gateway-level capabilities.
const (
	// Confirm allows sending confirmation signals for a session.
	Confirm Capability = GatewayPrefix + "confirm"
	// AuditRead allows exporting audit records.
	AuditRead Capability = GatewayPrefix + "audit"
	// EndSession allows discarding a session's confirmation state.
	EndSession Capability = GatewayPrefix + "end_session"
)

// Sentinel errors for registry construction.
var (
	ErrInvalidCapability = errors.New("invalid capability")
	ErrInvalidRole       = errors.New("invalid role")
)

// ForAction returns the capability that authorizes invoking action.
func ForAction(action string) Capability {
	return Capability(ToolPrefix + action)
}

// Registry is an immutable Role -> capability set mapping.
type Registry struct {
	version *semver.Version
	roles   map[Role]map[Capability]struct{}
}

// NewRegistry validates and copies roles into a Registry.
func NewRegistry(version *semver.Version, roles map[Role][]Capability) (*Registry, error) {
	if version == nil {
		version = semver.MustParse("0.0.0")
	}
	r := &Registry{
		version: version,
		roles:   make(map[Role]map[Capability]struct{}, len(roles)),
	}
	for role, caps := range roles {
		name := strings.TrimSpace(string(role))
		if name == "" || name != string(role) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
		}
		set := make(map[Capability]struct{}, len(caps))
		for _, c := range caps {
			if err := validateCapability(c); err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
			set[c] = struct{}{}
		}
		r.roles[role] = set
	}
	return r, nil
}

func validateCapability(c Capability) error {
	s := string(c)
	var rest string
	switch {
	case strings.HasPrefix(s, ToolPrefix):
		rest = strings.TrimPrefix(s, ToolPrefix)
	case strings.HasPrefix(s, GatewayPrefix):
		rest = strings.TrimPrefix(s, GatewayPrefix)
	default:
		return fmt.Errorf("%w: %q must start with %q or %q", ErrInvalidCapability, s, ToolPrefix, GatewayPrefix)
	}
	if rest == "" {
		return fmt.Errorf("%w: %q has no name", ErrInvalidCapability, s)
	}
	if strings.ContainsAny(rest, "*? \t") {
		return fmt.Errorf("%w: %q (wildcards and spaces are not allowed)", ErrInvalidCapability, s)
	}
	return nil
}

// Authorize reports whether role may invoke action.
func (r *Registry) Authorize(role Role, action string) bool {
	if action == "" {
		return false
	}
	return r.Allows(role, ForAction(action))
}

// Allows reports whether role holds capability c.
func (r *Registry) Allows(role Role, c Capability) bool {
	if r == nil {
		return false
	}
	set, ok := r.roles[role]
	if !ok {
		return false
	}
	_, ok = set[c]
	return ok
}

// HasRole reports whether role is defined.
func (r *Registry) HasRole(role Role) bool {
	if r == nil {
		return false
	}
	_, ok := r.roles[role]
	return ok
}

// Roles returns all defined roles, sorted.
func (r *Registry) Roles() []Role {
	roles := make([]Role, 0, len(r.roles))
	for role := range r.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Capabilities returns the sorted capabilities of role, or nil if the role
// is unknown. The returned slice is a copy.
func (r *Registry) Capabilities(role Role) []Capability {
	set, ok := r.roles[role]
	if !ok {
		return nil
	}
	caps := make([]Capability, 0, len(set))
	for c := range set {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// Version returns the registry's configuration version.
func (r *Registry) Version() string {
	return r.version.String()
}
