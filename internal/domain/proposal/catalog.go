package proposal

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Action names known to the default catalog.
const (
	ActionRestartDeployment = "restart_deployment"
	ActionScaleDeployment   = "scale_deployment"
	ActionLogIncident       = "log_incident"
	ActionRunQuery          = "run_query"
)

// MaxReplicas is the largest replica count scale_deployment accepts.
const MaxReplicas = 50

// DefaultNamespace is applied to cluster actions that omit a namespace.
const DefaultNamespace = "default"

// ErrUnknownAction is returned when an action is not in the catalog.
var ErrUnknownAction = errors.New("unknown action")

// ErrInvalidArguments wraps schema validation failures.
var ErrInvalidArguments = errors.New("invalid arguments")

// ActionSpec describes one action the gateway can mediate.
type ActionSpec struct {
	// Name is the action name.
	Name string
	// Mutating marks actions with side effects. Mutating actions go through
	// confirmation and validation.
	Mutating bool
	// Description is shown to agents listing the catalog.
	Description string
	// Schema is a JSON Schema (draft 2020-12) for the arguments object.
	Schema string
	// Defaults are applied to missing arguments before hashing.
	Defaults map[string]any

	compiled *jsonschema.Schema
}

// Catalog is an immutable set of action specs with compiled schemas.
type Catalog struct {
	specs map[string]*ActionSpec
}

// NewCatalog compiles every spec's schema. A spec with an empty schema
// accepts any arguments object.
func NewCatalog(specs ...ActionSpec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]*ActionSpec, len(specs))}
	for i := range specs {
		spec := specs[i]
		if spec.Name == "" {
			return nil, fmt.Errorf("catalog entry %d: %w", i, ErrEmptyAction)
		}
		if _, dup := c.specs[spec.Name]; dup {
			return nil, fmt.Errorf("catalog entry %q defined twice", spec.Name)
		}
		if spec.Schema != "" {
			compiler := jsonschema.NewCompiler()
			compiler.Draft = jsonschema.Draft2020
			url := fmt.Sprintf("https://infragate.local/actions/%s.schema.json", spec.Name)
			if err := compiler.AddResource(url, strings.NewReader(spec.Schema)); err != nil {
				return nil, fmt.Errorf("load schema for %s: %w", spec.Name, err)
			}
			compiled, err := compiler.Compile(url)
			if err != nil {
				return nil, fmt.Errorf("compile schema for %s: %w", spec.Name, err)
			}
			spec.compiled = compiled
		}
		c.specs[spec.Name] = &spec
	}
	return c, nil
}

// Lookup returns the spec for action.
func (c *Catalog) Lookup(action string) (ActionSpec, bool) {
	spec, ok := c.specs[action]
	if !ok {
		return ActionSpec{}, false
	}
	return *spec, true
}

// IsMutating reports whether action has side effects. Actions missing from
// the catalog are treated as mutating.
func (c *Catalog) IsMutating(action string) bool {
	spec, ok := c.specs[action]
	if !ok {
		return true
	}
	return spec.Mutating
}

// Names returns all action names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithDefaults returns a copy of args with the action's defaults filled in.
func (c *Catalog) WithDefaults(action string, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	spec, ok := c.specs[action]
	if !ok {
		return out
	}
	for k, v := range spec.Defaults {
		if _, set := out[k]; !set {
			out[k] = v
		}
	}
	return out
}

// ValidateArguments checks args against the action's schema.
// Returns ErrUnknownAction for actions not in the catalog.
func (c *Catalog) ValidateArguments(action string, args map[string]any) error {
	spec, ok := c.specs[action]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if spec.compiled == nil {
		return nil
	}
	doc := make(map[string]any, len(args))
	for k, v := range args {
		doc[k] = v
	}
	if err := spec.compiled.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %s", ErrInvalidArguments, leafMessage(verr))
		}
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// leafMessage returns the most specific validation message.
func leafMessage(verr *jsonschema.ValidationError) string {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	loc := verr.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, verr.Message)
}

const (
	dnsName       = `{"type": "string", "minLength": 1, "maxLength": 253, "pattern": "^[a-z0-9]([-a-z0-9.]*[a-z0-9])?$"}`
	namespaceProp = `"namespace": ` + dnsName
)

// DefaultCatalog returns the built-in action catalog: cluster, monitoring,
// incident and database tools.
func DefaultCatalog() *Catalog {
	nsDefault := map[string]any{"namespace": DefaultNamespace}
	c, err := NewCatalog(
		ActionSpec{
			Name:        ActionRestartDeployment,
			Mutating:    true,
			Description: "Perform a rolling restart of a deployment.",
			Schema: `{"type": "object", "additionalProperties": false, "required": ["name"],
				"properties": {"name": ` + dnsName + `, ` + namespaceProp + `}}`,
			Defaults: nsDefault,
		},
		ActionSpec{
			Name:        ActionScaleDeployment,
			Mutating:    true,
			Description: "Scale a deployment to a specified number of replicas.",
			Schema: `{"type": "object", "additionalProperties": false, "required": ["name", "replicas"],
				"properties": {"name": ` + dnsName + `, ` + namespaceProp + `,
					"replicas": {"type": "integer", "minimum": 0, "maximum": 50}}}`,
			Defaults: nsDefault,
		},
		ActionSpec{
			Name:        ActionLogIncident,
			Mutating:    true,
			Description: "Create a timestamped incident log entry.",
			Schema: `{"type": "object", "additionalProperties": false,
				"required": ["title", "severity", "description", "affected_services"],
				"properties": {
					"title": {"type": "string", "minLength": 1, "maxLength": 200},
					"severity": {"enum": ["critical", "high", "medium", "low"]},
					"description": {"type": "string"},
					"affected_services": {"type": "string"},
					"actions_taken": {"type": "string"}}}`,
		},
		ActionSpec{
			Name:        "list_pods",
			Description: "List pods in a namespace with status and restarts.",
			Schema:      `{"type": "object", "additionalProperties": false, "properties": {` + namespaceProp + `}}`,
			Defaults:    nsDefault,
		},
		ActionSpec{
			Name:        "get_pod_logs",
			Description: "Fetch recent log lines of a pod.",
			Schema: `{"type": "object", "additionalProperties": false, "required": ["pod_name"],
				"properties": {"pod_name": ` + dnsName + `, ` + namespaceProp + `,
					"lines": {"type": "integer", "minimum": 1, "maximum": 1000}}}`,
			Defaults: map[string]any{"namespace": DefaultNamespace, "lines": 50},
		},
		ActionSpec{
			Name:        "describe_pod",
			Description: "Describe a pod including containers and conditions.",
			Schema: `{"type": "object", "additionalProperties": false, "required": ["pod_name"],
				"properties": {"pod_name": ` + dnsName + `, ` + namespaceProp + `}}`,
			Defaults: nsDefault,
		},
		ActionSpec{
			Name:        "list_deployments",
			Description: "List deployments with replica status.",
			Schema:      `{"type": "object", "additionalProperties": false, "properties": {` + namespaceProp + `}}`,
			Defaults:    nsDefault,
		},
		ActionSpec{
			Name:        "get_events",
			Description: "List recent cluster events.",
			Schema: `{"type": "object", "additionalProperties": false,
				"properties": {` + namespaceProp + `, "limit": {"type": "integer", "minimum": 1, "maximum": 500}}}`,
			Defaults: map[string]any{"namespace": DefaultNamespace, "limit": 20},
		},
		ActionSpec{
			Name:        "list_nodes",
			Description: "List cluster nodes with status and resource usage.",
			Schema:      `{"type": "object", "additionalProperties": false}`,
		},
		ActionSpec{
			Name:        "query_metric",
			Description: "Execute a PromQL instant query.",
			Schema: `{"type": "object", "additionalProperties": false, "required": ["query"],
				"properties": {"query": {"type": "string", "minLength": 1}}}`,
		},
		ActionSpec{
			Name:        "query_range",
			Description: "Execute a PromQL range query.",
			Schema: `{"type": "object", "additionalProperties": false, "required": ["query"],
				"properties": {"query": {"type": "string", "minLength": 1},
					"duration": {"type": "string", "pattern": "^[0-9]+[smhd]$"},
					"step": {"type": "string", "pattern": "^[0-9]+[smh]$"}}}`,
			Defaults: map[string]any{"duration": "30m", "step": "1m"},
		},
		ActionSpec{
			Name:        "get_alerts",
			Description: "List currently firing alerts.",
			Schema:      `{"type": "object", "additionalProperties": false}`,
		},
		ActionSpec{
			Name:        "get_targets",
			Description: "List scrape targets and their health.",
			Schema:      `{"type": "object", "additionalProperties": false}`,
		},
		ActionSpec{
			Name:        "search_runbooks",
			Description: "Search runbooks by keyword.",
			Schema: `{"type": "object", "additionalProperties": false, "required": ["query"],
				"properties": {"query": {"type": "string", "minLength": 1}}}`,
		},
		ActionSpec{
			Name:        "list_incidents",
			Description: "List recent incidents, optionally filtered by status.",
			Schema: `{"type": "object", "additionalProperties": false,
				"properties": {"status": {"enum": ["open", "resolved", "all"]},
					"limit": {"type": "integer", "minimum": 1, "maximum": 100}}}`,
			Defaults: map[string]any{"status": "all", "limit": 10},
		},
		ActionSpec{
			Name:        "get_incident",
			Description: "Get details of a single incident.",
			Schema: `{"type": "object", "additionalProperties": false, "required": ["incident_id"],
				"properties": {"incident_id": {"type": "string", "minLength": 1}}}`,
		},
		ActionSpec{
			Name:        "list_tables",
			Description: "List database tables.",
			Schema:      `{"type": "object", "additionalProperties": false}`,
		},
		ActionSpec{
			Name:        "describe_table",
			Description: "Describe the columns of a database table.",
			Schema: `{"type": "object", "additionalProperties": false, "required": ["table_name"],
				"properties": {"table_name": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"}}}`,
		},
		ActionSpec{
			Name:        "slow_queries",
			Description: "Show the slowest recorded queries.",
			Schema:      `{"type": "object", "additionalProperties": false}`,
		},
	)
	if err != nil {
		// The built-in schemas are constants; failing here is a programming error.
		panic(err)
	}
	return c
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
