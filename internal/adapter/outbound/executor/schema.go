package executor

import (
	"context"
	"fmt"

	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
)

// SchemaActions lists the actions served by SchemaTools.
var SchemaActions = []string{"list_tables", "describe_table", "slow_queries"}

// SchemaTools exposes a SchemaInspector as catalog actions.
type SchemaTools struct {
	inspector outbound.SchemaInspector
}

var _ outbound.Executor = (*SchemaTools)(nil)

// NewSchemaTools wraps inspector.
func NewSchemaTools(inspector outbound.SchemaInspector) *SchemaTools {
	return &SchemaTools{inspector: inspector}
}

// Execute implements outbound.Executor.
func (s *SchemaTools) Execute(ctx context.Context, action string, args map[string]any) (any, error) {
	switch action {
	case "list_tables":
		return s.inspector.ListTables(ctx)
	case "describe_table":
		return s.inspector.DescribeTable(ctx, proposal.StringArg(args, "table_name"))
	case "slow_queries":
		return s.inspector.SlowQueries(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", outbound.ErrUnsupportedAction, action)
	}
}
