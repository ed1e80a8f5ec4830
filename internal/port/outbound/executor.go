// Package outbound defines the outbound port interfaces through which the
// gateway reaches infrastructure backends.
package outbound

import (
	"context"
	"errors"
)

// ErrUnsupportedAction is returned by an Executor that does not implement
// the requested action.
var ErrUnsupportedAction = errors.New("action not supported by executor")

// Executor performs catalog actions against a backend. The gateway calls
// Execute at most once per approved proposal and never retries.
type Executor interface {
	// Execute runs action with already validated arguments and returns a
	// JSON-serializable result.
	Execute(ctx context.Context, action string, args map[string]any) (any, error)
}

// QueryResult is the tabular result of a read-only statement.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	// RowCount is the number of rows returned.
	RowCount int `json:"row_count"`
	// Truncated is set when the row cap cut the result short.
	Truncated bool `json:"truncated"`
}

// QueryExecutor runs statements that the classifier labelled read.
type QueryExecutor interface {
	Query(ctx context.Context, statement string) (*QueryResult, error)
}

// SchemaInspector is implemented by query executors that can describe
// their database for the list_tables/describe_table/slow_queries actions.
type SchemaInspector interface {
	ListTables(ctx context.Context) (*QueryResult, error)
	DescribeTable(ctx context.Context, table string) (*QueryResult, error)
	// SlowQueries lists statements running longer than the inspector's
	// threshold.
	SlowQueries(ctx context.Context) (*QueryResult, error)
}
