// Package export turns fetched result sets into files: CSV, Parquet and
// local DuckDB databases, optionally uploaded to object storage.
package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sandworm/sandworm/dune"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatDuckDB  Format = "duckdb"
)

func ParseFormat(raw string) (Format, error) {
	switch format := Format(strings.ToLower(strings.TrimSpace(raw))); format {
	case FormatCSV, FormatParquet, FormatDuckDB:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

func (f Format) Extension() string { return string(f) }

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// Columns returns the column order of rs: the names reported by the service,
// or the sorted keys of the first row when the metadata carries none.
func Columns(rs dune.ResultSet) []string {
	if rs.Result == nil {
		return nil
	}
	if columns := rs.Result.Columns(); len(columns) > 0 {
		return append([]string(nil), columns...)
	}
	if len(rs.Result.Rows) == 0 {
		return nil
	}
	columns := make([]string, 0, len(rs.Result.Rows[0]))
	for name := range rs.Result.Rows[0] {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns
}

// cellString renders one value. Strings are kept verbatim, everything else
// is encoded as JSON. ok is false for a missing or null value.
func cellString(value any) (string, bool, error) {
	switch typed := value.(type) {
	case nil:
		return "", false, nil
	case string:
		return typed, true, nil
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return "", false, fmt.Errorf("encode cell: %w", err)
		}
		return string(encoded), true, nil
	}
}
