package export

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/sandworm/sandworm/dune"
)

type ParquetEncodeResult struct {
	Data        []byte
	RecordCount int64
	Columns     []string
}

// EncodeParquet writes rs as a single Parquet file. Every column is an
// optional string; nulls stay null.
func EncodeParquet(rs dune.ResultSet) (ParquetEncodeResult, error) {
	columns := Columns(rs)
	if len(columns) == 0 {
		return ParquetEncodeResult{}, fmt.Errorf("result set for execution %s has no columns", rs.ExecutionID)
	}
	// Group nodes order their fields by name, which fixes the column index.
	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return ParquetEncodeResult{}, fmt.Errorf("duplicate column %q", sorted[i])
		}
	}

	group := parquet.Group{}
	for _, column := range sorted {
		group[column] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("result", group)

	rows := make([]parquet.Row, 0, len(rs.Result.Rows))
	for index, source := range rs.Result.Rows {
		row := make(parquet.Row, len(sorted))
		for i, column := range sorted {
			cell, ok, err := cellString(source[column])
			if err != nil {
				return ParquetEncodeResult{}, fmt.Errorf("row %d column %q: %w", index, column, err)
			}
			if !ok {
				row[i] = parquet.NullValue().Level(0, 0, i)
				continue
			}
			row[i] = parquet.ValueOf(cell).Level(0, 1, i)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return ParquetEncodeResult{
		Data:        buf.Bytes(),
		RecordCount: int64(len(rows)),
		Columns:     sorted,
	}, nil
}
