package capability

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ErrMissingVersion is returned when a registry file has no version.
var ErrMissingVersion = errors.New("registry version is required")

// fileFormat is the on-disk registry layout:
//
//	version: 1.2.0
//	roles:
//	  viewer:
//	    - tool:list_pods
//	  sre-admin:
//	    - tool:restart_deployment
type fileFormat struct {
	Version string              `yaml:"version"`
	Roles   map[string][]string `yaml:"roles"`
}

// LoadFile reads a registry from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability registry: %w", err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes a registry from YAML. Unknown fields are rejected.
func Parse(data []byte) (*Registry, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse capability registry: %w", err)
	}
	if f.Version == "" {
		return nil, ErrMissingVersion
	}
	version, err := semver.NewVersion(f.Version)
	if err != nil {
		return nil, fmt.Errorf("registry version %q: %w", f.Version, err)
	}

	roles := make(map[Role][]Capability, len(f.Roles))
	for role, caps := range f.Roles {
		list := make([]Capability, 0, len(caps))
		for _, c := range caps {
			list = append(list, Capability(c))
		}
		roles[Role(role)] = list
	}
	return NewRegistry(version, roles)
}
