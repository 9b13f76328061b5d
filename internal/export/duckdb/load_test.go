package duckdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/sandworm/sandworm/dune"
)

func TestLoadCreatesTableInResultOrder(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "results.duckdb")
	rs := dune.ResultSet{
		ExecutionID: "01HQEXEC",
		Result: &dune.QueryResult{
			Metadata: dune.ResultMetadata{ColumnNames: []string{"validator", "epoch"}},
			Rows: []map[string]any{
				{"validator": "val-1", "epoch": float64(500)},
				{"validator": nil, "epoch": float64(501)},
			},
		},
	}

	result, err := Load(context.Background(), dbPath, "epoch stats", rs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.Rows != 2 || result.Table != "epoch stats" {
		t.Fatalf("result = %+v", result)
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(`SELECT * FROM "epoch stats" ORDER BY epoch`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer func() { _ = rows.Close() }()
	columns, err := rows.Columns()
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	if len(columns) != 2 || columns[0] != "validator" || columns[1] != "epoch" {
		t.Fatalf("columns = %v", columns)
	}

	var got []sql.NullString
	for rows.Next() {
		var validator, epoch sql.NullString
		if err := rows.Scan(&validator, &epoch); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		got = append(got, validator, epoch)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err() = %v", err)
	}
	if len(got) != 4 || got[0].String != "val-1" || got[1].String != "500" || got[2].Valid {
		t.Fatalf("values = %+v", got)
	}
}

func TestLoadReplacesExistingTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "results.duckdb")
	first := dune.ResultSet{ExecutionID: "a", Result: &dune.QueryResult{Rows: []map[string]any{{"n": "1"}, {"n": "2"}}}}
	second := dune.ResultSet{ExecutionID: "b", Result: &dune.QueryResult{Rows: []map[string]any{{"n": "3"}}}}

	if _, err := Load(context.Background(), dbPath, "t", first); err != nil {
		t.Fatalf("first Load() error = %v", err)
	}
	result, err := Load(context.Background(), dbPath, "t", second)
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if result.Rows != 1 {
		t.Fatalf("Rows = %d, want table replaced", result.Rows)
	}
}

func TestLoadValidatesArguments(t *testing.T) {
	rs := dune.ResultSet{Result: &dune.QueryResult{Rows: []map[string]any{{"n": "1"}}}}
	if _, err := Load(context.Background(), "", "t", rs); err == nil {
		t.Fatal("expected path error")
	}
	if _, err := Load(context.Background(), filepath.Join(t.TempDir(), "x.duckdb"), " ", rs); err == nil {
		t.Fatal("expected table error")
	}
	if _, err := Load(context.Background(), filepath.Join(t.TempDir(), "x.duckdb"), "t", dune.ResultSet{}); err == nil {
		t.Fatal("expected empty result error")
	}
}
