package dune

import (
	"net/url"
	"strconv"
	"strings"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ResultOptions narrows a results request. A zero field is left to the
// service default and produces no query parameter. Format picks the
// endpoint and is never sent.
type ResultOptions struct {
	Limit               int
	Offset              int
	SortBy              string
	Columns             []string
	Filters             string
	SampleCount         int
	AllowPartialResults bool
	Format              Format
}

// QueryParams renders the options as URL query parameters.
func (o ResultOptions) QueryParams() url.Values {
	params := url.Values{}
	if o.Limit > 0 {
		params.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		params.Set("offset", strconv.Itoa(o.Offset))
	}
	if sortBy := strings.TrimSpace(o.SortBy); sortBy != "" {
		params.Set("sort_by", sortBy)
	}
	if columns := trimAll(o.Columns); len(columns) > 0 {
		params.Set("columns", strings.Join(columns, ","))
	}
	if filters := strings.TrimSpace(o.Filters); filters != "" {
		params.Set("filters", filters)
	}
	if o.SampleCount > 0 {
		params.Set("sample_count", strconv.Itoa(o.SampleCount))
	}
	if o.AllowPartialResults {
		params.Set("allow_partial_results", "true")
	}
	return params
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
