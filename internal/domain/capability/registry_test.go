package capability

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
)

const testRegistry = `
version: 1.4.0
roles:
  viewer:
    - tool:list_pods
    - tool:get_alerts
  operator:
    - tool:list_pods
    - tool:list_deployments
    - tool:run_query
    - gateway:confirm
  sre-admin:
    - tool:list_pods
    - tool:restart_deployment
    - tool:scale_deployment
    - gateway:confirm
    - gateway:audit
`

func mustParse(t *testing.T, src string) *Registry {
	t.Helper()
	reg, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return reg
}

func TestRegistry_Authorize(t *testing.T) {
	reg := mustParse(t, testRegistry)

	tests := []struct {
		name   string
		role   Role
		action string
		want   bool
	}{
		{"admin restart", "sre-admin", "restart_deployment", true},
		{"admin scale", "sre-admin", "scale_deployment", true},
		{"operator restart", "operator", "restart_deployment", false},
		{"viewer list", "viewer", "list_pods", true},
		{"viewer scale", "viewer", "scale_deployment", false},
		{"unknown role", "root", "list_pods", false},
		{"empty role", "", "list_pods", false},
		{"unknown action", "sre-admin", "delete_cluster", false},
		{"empty action", "sre-admin", "", false},
		{"case sensitive role", "SRE-ADMIN", "restart_deployment", false},
		{"gateway cap is not an action", "sre-admin", "confirm", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.Authorize(tt.role, tt.action); got != tt.want {
				t.Errorf("Authorize(%q, %q) = %v, want %v", tt.role, tt.action, got, tt.want)
			}
		})
	}
}

func TestRegistry_Allows(t *testing.T) {
	reg := mustParse(t, testRegistry)
	if !reg.Allows("operator", Confirm) {
		t.Error("operator should hold gateway:confirm")
	}
	if reg.Allows("operator", AuditRead) {
		t.Error("operator should not hold gateway:audit")
	}
	if !reg.Allows("sre-admin", AuditRead) {
		t.Error("sre-admin should hold gateway:audit")
	}

	var nilReg *Registry
	if nilReg.Allows("sre-admin", AuditRead) {
		t.Error("nil registry must deny")
	}
}

func TestRegistry_Introspection(t *testing.T) {
	reg := mustParse(t, testRegistry)

	if reg.Version() != "1.4.0" {
		t.Errorf("Version() = %s", reg.Version())
	}
	roles := reg.Roles()
	if len(roles) != 3 || roles[0] != "operator" || roles[2] != "viewer" {
		t.Errorf("Roles() = %v", roles)
	}
	if !reg.HasRole("viewer") || reg.HasRole("ghost") {
		t.Error("HasRole mismatch")
	}

	caps := reg.Capabilities("viewer")
	if len(caps) != 2 || caps[0] != "tool:get_alerts" {
		t.Errorf("Capabilities(viewer) = %v", caps)
	}
	// Mutating the returned slice must not affect the registry.
	caps[0] = "tool:scale_deployment"
	if reg.Authorize("viewer", "scale_deployment") {
		t.Error("registry mutated through Capabilities() result")
	}
	if reg.Capabilities("ghost") != nil {
		t.Error("unknown role should have nil capabilities")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr error
	}{
		{"missing version", "roles:\n  viewer: [tool:list_pods]\n", ErrMissingVersion},
		{"bad version", "version: one\nroles: {}\n", nil},
		{"wildcard", "version: 1.0.0\nroles:\n  admin: ['tool:*']\n", ErrInvalidCapability},
		{"no prefix", "version: 1.0.0\nroles:\n  admin: [restart_deployment]\n", ErrInvalidCapability},
		{"empty name", "version: 1.0.0\nroles:\n  admin: ['tool:']\n", ErrInvalidCapability},
		{"padded role", "version: 1.0.0\nroles:\n  ' admin': [tool:list_pods]\n", ErrInvalidRole},
		{"unknown field", "version: 1.0.0\nroles: {}\nextra: true\n", nil},
		{"not yaml", "version: [", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			if err == nil {
				t.Fatal("Parse() expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capabilities.yaml")
	if err := os.WriteFile(path, []byte(testRegistry), 0o600); err != nil {
		t.Fatal(err)
	}
	reg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if !reg.Authorize("sre-admin", "restart_deployment") {
		t.Error("loaded registry lost capabilities")
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile(missing) expected error")
	}
}

func TestNewRegistry_NilVersion(t *testing.T) {
	reg, err := NewRegistry(nil, map[Role][]Capability{"viewer": {ForAction("list_pods")}})
	if err != nil {
		t.Fatal(err)
	}
	if reg.Version() != semver.MustParse("0.0.0").String() {
		t.Errorf("Version() = %s", reg.Version())
	}
}
