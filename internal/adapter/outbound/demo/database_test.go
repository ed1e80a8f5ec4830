package demo

import (
	"context"
	"errors"
	"testing"
)

func TestDatabase_QueryByKeyword(t *testing.T) {
	db := NewDatabase()
	tests := []struct {
		stmt      string
		firstCol  string
		wantCount int
	}{
		{"SELECT * FROM payments WHERE status = 'failed'", "payment_id", 5},
		{"SELECT * FROM orders ORDER BY created_at DESC LIMIT 5", "id", 5},
		{"SELECT email, name FROM customers LIMIT 2", "id", 2},
		{"SELECT count(*) FROM products", "count", 1},
		{"SELECT 1", "info", 1},
	}
	for _, tt := range tests {
		t.Run(tt.stmt, func(t *testing.T) {
			res, err := db.Query(context.Background(), tt.stmt)
			if err != nil {
				t.Fatal(err)
			}
			if res.Columns[0] != tt.firstCol || res.RowCount != tt.wantCount || len(res.Rows) != tt.wantCount {
				t.Errorf("got columns %v and %d rows", res.Columns, res.RowCount)
			}
		})
	}
}

func TestDatabase_Schema(t *testing.T) {
	db := NewDatabase()
	ctx := context.Background()

	tables, err := db.ListTables(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tables.RowCount != 5 || tables.Rows[0][0] != "public.order_items" {
		t.Errorf("tables = %v", tables.Rows)
	}

	cols, err := db.DescribeTable(ctx, "payments")
	if err != nil {
		t.Fatal(err)
	}
	if cols.RowCount != 7 || cols.Rows[6][0] != "error_message" || cols.Rows[6][2] != "YES" || cols.Rows[6][3] != nil {
		t.Errorf("payments columns = %v", cols.Rows)
	}

	if _, err := db.DescribeTable(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DescribeTable(nope) error = %v", err)
	}

	slow, err := db.SlowQueries(ctx)
	if err != nil || slow.RowCount != 2 {
		t.Errorf("SlowQueries = %v, %v", slow, err)
	}
}
