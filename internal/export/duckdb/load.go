// Package duckdb loads result sets into a local DuckDB database file so
// they can be queried offline.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sandworm/sandworm/dune"
	"github.com/sandworm/sandworm/internal/export"
)

type LoadResult struct {
	Path    string
	Table   string
	Columns []string
	Rows    int64
}

// Load creates or replaces table in the database at dbPath with one VARCHAR
// column per result column, in result order. Null cells stay NULL.
func Load(ctx context.Context, dbPath, table string, rs dune.ResultSet) (LoadResult, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return LoadResult{}, fmt.Errorf("duckdb path is required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return LoadResult{}, fmt.Errorf("table name is required")
	}

	encoded, err := export.EncodeParquet(rs)
	if err != nil {
		return LoadResult{}, err
	}
	columns := export.Columns(rs)

	workDir, err := os.MkdirTemp("", "sandworm-load-")
	if err != nil {
		return LoadResult{}, fmt.Errorf("create load temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath := filepath.Join(workDir, sanitizeFileComponent(rs.ExecutionID)+".parquet")
	if err := os.WriteFile(localPath, encoded.Data, 0o600); err != nil {
		return LoadResult{}, fmt.Errorf("write staging parquet file %q: %w", localPath, err)
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return LoadResult{}, fmt.Errorf("open duckdb %q: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	selectList := make([]string, 0, len(columns))
	for _, column := range columns {
		selectList = append(selectList, quoteIdent(column))
	}
	createSQL := fmt.Sprintf(`CREATE OR REPLACE TABLE %s AS SELECT %s FROM read_parquet(%s)`,
		quoteIdent(table), strings.Join(selectList, ", "), quoteString(localPath))
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return LoadResult{}, fmt.Errorf("create table %q: %w", table, err)
	}

	var rows int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(table))).Scan(&rows); err != nil {
		return LoadResult{}, fmt.Errorf("count rows in %q: %w", table, err)
	}

	return LoadResult{Path: dbPath, Table: table, Columns: columns, Rows: rows}, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "result"
	}
	return value
}
