package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/sandworm/sandworm/dune"
)

// WriteCSV writes a header and one record per row. It returns the number of
// data rows written.
func WriteCSV(w io.Writer, rs dune.ResultSet) (int64, error) {
	columns := Columns(rs)
	if len(columns) == 0 {
		return 0, fmt.Errorf("result set for execution %s has no columns", rs.ExecutionID)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	var written int64
	record := make([]string, len(columns))
	for _, row := range rs.Result.Rows {
		for i, column := range columns {
			cell, _, err := cellString(row[column])
			if err != nil {
				return written, fmt.Errorf("row %d column %q: %w", written, column, err)
			}
			record[i] = cell
		}
		if err := writer.Write(record); err != nil {
			return written, fmt.Errorf("write csv row: %w", err)
		}
		written++
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return written, fmt.Errorf("flush csv: %w", err)
	}
	return written, nil
}
