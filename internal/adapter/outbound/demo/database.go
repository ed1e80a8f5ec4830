package demo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
)

// Column describes a demo table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
}

type table struct {
	columns  []Column
	rowCount int
}

// Database returns synthetic e-commerce results. It answers by keyword,
// not by executing SQL; statements are expected to be classified already.
type Database struct {
	tables map[string]table
}

// Compile-time interface checks.
var (
	_ outbound.QueryExecutor   = (*Database)(nil)
	_ outbound.SchemaInspector = (*Database)(nil)
)

// NewDatabase returns the demo e-commerce database.
func NewDatabase() *Database {
	return &Database{tables: map[string]table{
		"customers": {rowCount: 15234, columns: []Column{
			{"id", "integer", false, "nextval('customers_id_seq')"},
			{"email", "varchar(255)", false, ""},
			{"name", "varchar(255)", false, ""},
			{"phone", "varchar(20)", true, ""},
			{"created_at", "timestamp", false, "now()"},
			{"tier", "varchar(20)", false, "'standard'"},
		}},
		"orders": {rowCount: 48921, columns: []Column{
			{"id", "integer", false, "nextval('orders_id_seq')"},
			{"customer_id", "integer", false, ""},
			{"total_amount", "numeric(10,2)", false, ""},
			{"status", "varchar(20)", false, "'pending'"},
			{"created_at", "timestamp", false, "now()"},
			{"payment_id", "varchar(50)", true, ""},
		}},
		"products": {rowCount: 1847, columns: []Column{
			{"id", "integer", false, "nextval('products_id_seq')"},
			{"name", "varchar(255)", false, ""},
			{"price", "numeric(10,2)", false, ""},
			{"stock", "integer", false, "0"},
			{"category", "varchar(100)", true, ""},
		}},
		"order_items": {rowCount: 127453, columns: []Column{
			{"id", "integer", false, "nextval('order_items_id_seq')"},
			{"order_id", "integer", false, ""},
			{"product_id", "integer", false, ""},
			{"quantity", "integer", false, ""},
			{"unit_price", "numeric(10,2)", false, ""},
		}},
		"payments": {rowCount: 48921, columns: []Column{
			{"id", "varchar(50)", false, ""},
			{"order_id", "integer", false, ""},
			{"amount", "numeric(10,2)", false, ""},
			{"status", "varchar(20)", false, "'pending'"},
			{"provider", "varchar(50)", false, "'stripe'"},
			{"created_at", "timestamp", false, "now()"},
			{"error_message", "text", true, ""},
		}},
	}}
}

// Query implements outbound.QueryExecutor.
func (d *Database) Query(ctx context.Context, statement string) (*outbound.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToUpper(statement)
	switch {
	case strings.Contains(q, "PAYMENT") && (strings.Contains(q, "FAIL") || strings.Contains(q, "ERROR")):
		return result([]string{"payment_id", "order_id", "amount", "status", "error_message", "created_at"},
			[]any{"pay_err_001", int64(48919), 234.00, "failed", "Payment gateway timeout: service unavailable", "2026-02-14T01:18:45Z"},
			[]any{"pay_err_002", int64(48918), 89.99, "failed", "Payment gateway timeout: service unavailable", "2026-02-14T01:18:00Z"},
			[]any{"pay_err_003", int64(48917), 156.75, "failed", "Payment gateway timeout: service unavailable", "2026-02-14T01:17:30Z"},
			[]any{"pay_err_004", int64(48916), 67.25, "failed", "Payment gateway timeout: service unavailable", "2026-02-14T01:16:45Z"},
			[]any{"pay_err_005", int64(48915), 199.99, "failed", "Payment gateway timeout: service unavailable", "2026-02-14T01:16:00Z"},
		), nil
	case strings.Contains(q, "CUSTOMER"):
		return result([]string{"id", "email", "name", "phone", "tier"},
			[]any{int64(1234), "jane.doe@example.com", "Jane Doe", "+1 415-555-0132", "gold"},
			[]any{int64(5678), "sam.lee@example.org", "Sam Lee", "(212) 555-0199", "standard"},
		), nil
	case strings.Contains(q, "ORDER"):
		return result([]string{"id", "customer_id", "total_amount", "status", "created_at"},
			[]any{int64(48921), int64(1234), 129.99, "pending", "2026-02-14T01:20:00Z"},
			[]any{int64(48920), int64(5678), 45.50, "pending", "2026-02-14T01:19:30Z"},
			[]any{int64(48919), int64(9012), 234.00, "failed", "2026-02-14T01:18:45Z"},
			[]any{int64(48918), int64(3456), 89.99, "failed", "2026-02-14T01:18:00Z"},
			[]any{int64(48917), int64(7890), 156.75, "failed", "2026-02-14T01:17:30Z"},
		), nil
	case strings.Contains(q, "COUNT"):
		return result([]string{"count"}, []any{int64(48921)}), nil
	default:
		return result([]string{"info"},
			[]any{"Demo mode: synthetic results. Query was classified as read-only."}), nil
	}
}

// ListTables implements outbound.SchemaInspector.
func (d *Database) ListTables(ctx context.Context) (*outbound.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	// Largest first, like pg_stat_user_tables ordered by n_live_tup.
	sort.Slice(names, func(i, j int) bool {
		a, b := d.tables[names[i]], d.tables[names[j]]
		if a.rowCount != b.rowCount {
			return a.rowCount > b.rowCount
		}
		return names[i] < names[j]
	})
	rows := make([][]any, len(names))
	for i, name := range names {
		t := d.tables[name]
		rows[i] = []any{"public." + name, int64(t.rowCount), int64(len(t.columns))}
	}
	return result([]string{"table_name", "row_count", "column_count"}, rows...), nil
}

// DescribeTable implements outbound.SchemaInspector.
func (d *Database) DescribeTable(ctx context.Context, name string) (*outbound.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := d.tables[name]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", name, ErrNotFound)
	}
	rows := make([][]any, len(t.columns))
	for i, c := range t.columns {
		nullable := "NO"
		if c.Nullable {
			nullable = "YES"
		}
		var def any
		if c.Default != "" {
			def = c.Default
		}
		rows[i] = []any{c.Name, c.Type, nullable, def}
	}
	return result([]string{"column_name", "data_type", "is_nullable", "column_default"}, rows...), nil
}

// SlowQueries implements outbound.SchemaInspector.
func (d *Database) SlowQueries(ctx context.Context) (*outbound.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result([]string{"pid", "duration_seconds", "state", "query"},
		[]any{int64(1234), 45.2, "active", "SELECT o.*, c.email FROM orders o JOIN customers c ON o.customer_id = c.id WHERE o.status = 'pending' ORDER BY o.created_at DESC"},
		[]any{int64(1235), 12.8, "active", "SELECT COUNT(*), status FROM payments WHERE created_at > NOW() - INTERVAL '1 hour' GROUP BY status"},
	), nil
}

func result(columns []string, rows ...[]any) *outbound.QueryResult {
	if rows == nil {
		rows = [][]any{}
	}
	return &outbound.QueryResult{Columns: columns, Rows: rows, RowCount: len(rows)}
}
