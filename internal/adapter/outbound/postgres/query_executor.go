// Package postgres runs classified read statements against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" driver

	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
)

// Defaults for QueryExecutor.
const (
	DefaultMaxRows          = 100
	DefaultStatementTimeout = 15 * time.Second
	DefaultSlowThreshold    = 5 * time.Second
)

// ErrTableNotFound is returned by DescribeTable for unknown tables.
var ErrTableNotFound = errors.New("table not found")

// QueryExecutor runs statements inside READ ONLY transactions. Results are
// capped at maxRows; callers see Truncated when more rows were available.
type QueryExecutor struct {
	db            *sql.DB
	maxRows       int
	timeout       time.Duration
	slowThreshold time.Duration
}

// Compile-time interface checks.
var (
	_ outbound.QueryExecutor   = (*QueryExecutor)(nil)
	_ outbound.SchemaInspector = (*QueryExecutor)(nil)
)

// Option configures a QueryExecutor.
type Option func(*QueryExecutor)

// WithMaxRows sets the row cap. Values below 1 keep the default.
func WithMaxRows(n int) Option {
	return func(e *QueryExecutor) {
		if n > 0 {
			e.maxRows = n
		}
	}
}

// WithStatementTimeout sets the server-side statement_timeout applied to
// every transaction.
func WithStatementTimeout(d time.Duration) Option {
	return func(e *QueryExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithSlowThreshold sets the minimum running time reported by SlowQueries.
func WithSlowThreshold(d time.Duration) Option {
	return func(e *QueryExecutor) {
		if d > 0 {
			e.slowThreshold = d
		}
	}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*QueryExecutor, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, opts ...Option) *QueryExecutor {
	e := &QueryExecutor{
		db:            db,
		maxRows:       DefaultMaxRows,
		timeout:       DefaultStatementTimeout,
		slowThreshold: DefaultSlowThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query runs statement in a read-only transaction that is always rolled
// back. The statement must already have been classified as read.
func (e *QueryExecutor) Query(ctx context.Context, statement string) (*outbound.QueryResult, error) {
	return e.readOnly(ctx, statement)
}

// ListTables lists user tables with their estimated live row counts.
func (e *QueryExecutor) ListTables(ctx context.Context) (*outbound.QueryResult, error) {
	return e.readOnly(ctx, listTablesSQL)
}

// DescribeTable lists the columns of table in ordinal order.
func (e *QueryExecutor) DescribeTable(ctx context.Context, table string) (*outbound.QueryResult, error) {
	res, err := e.readOnly(ctx, describeTableSQL, table)
	if err != nil {
		return nil, err
	}
	if res.RowCount == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return res, nil
}

// SlowQueries lists active statements running longer than the threshold.
func (e *QueryExecutor) SlowQueries(ctx context.Context) (*outbound.QueryResult, error) {
	return e.readOnly(ctx, slowQueriesSQL, e.slowThreshold.Seconds())
}

// Close closes the database handle.
func (e *QueryExecutor) Close() error {
	return e.db.Close()
}

const (
	listTablesSQL = `SELECT schemaname || '.' || relname AS table_name, n_live_tup AS row_count
FROM pg_stat_user_tables
ORDER BY n_live_tup DESC`

	describeTableSQL = `SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_name = $1
ORDER BY ordinal_position`

	slowQueriesSQL = `SELECT pid, EXTRACT(EPOCH FROM now() - query_start) AS duration_seconds, state, query
FROM pg_stat_activity
WHERE state != 'idle'
  AND now() - query_start > make_interval(secs => $1)
ORDER BY duration_seconds DESC`
)

func (e *QueryExecutor) readOnly(ctx context.Context, statement string, args ...any) (*outbound.QueryResult, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	// Nothing is ever committed.
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.timeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}

	rows, err := tx.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collect(rows, e.maxRows)
}

// collect reads up to maxRows rows and flags truncation if more remain.
func collect(rows *sql.Rows, maxRows int) (*outbound.QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	res := &outbound.QueryResult{Columns: cols, Rows: [][]any{}}

	for rows.Next() {
		if len(res.Rows) == maxRows {
			res.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			values[i] = scalar(v)
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

// scalar keeps numbers, booleans, strings and NULL; everything else is
// rendered as a string.
func scalar(v any) any {
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}
