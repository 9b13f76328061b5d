package sandwormctl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandworm/sandworm/dune"
	"github.com/sandworm/sandworm/internal/export"
	"github.com/sandworm/sandworm/internal/export/duckdb"
)

// exportFlags route a result set to a file, a DuckDB table or the object
// store instead of stdout.
type exportFlags struct {
	format    string
	out       string
	upload    bool
	overwrite bool
	table     string
}

func (f *exportFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.format, "export", "", "export format (csv, parquet, duckdb)")
	flags.StringVar(&f.out, "out", "", "export destination file; the database file for duckdb")
	flags.BoolVar(&f.upload, "upload", false, "upload the export to the configured bucket")
	flags.BoolVar(&f.overwrite, "overwrite", false, "replace an export that was already uploaded")
	flags.StringVar(&f.table, "table", "results", "table name for duckdb exports")
}

// validate checks the flag combination before any request is sent.
func (f exportFlags) validate() (export.Format, error) {
	if f.format == "" {
		return "", nil
	}
	format, err := export.ParseFormat(f.format)
	if err != nil {
		return "", &usageError{err: err}
	}
	if format == export.FormatDuckDB {
		if f.out == "" {
			return "", usagef("--export duckdb requires --out")
		}
		if f.upload {
			return "", usagef("--upload is not supported for duckdb exports")
		}
		return format, nil
	}
	if f.out == "" && !f.upload {
		return "", usagef("--export %s requires --out or --upload", format)
	}
	return format, nil
}

type exportOutput struct {
	ExecutionID string `json:"execution_id"`
	Format      string `json:"format"`
	Rows        int64  `json:"rows"`
	Path        string `json:"path,omitempty"`
	Table       string `json:"table,omitempty"`
	ObjectKey   string `json:"object_key,omitempty"`
	ObjectURI   string `json:"object_uri,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
}

func newResultsCommand(a *app) *cobra.Command {
	var (
		results resultFlags
		exports exportFlags
	)
	cmd := &cobra.Command{
		Use:   "results <execution-id>",
		Short: "Fetch the results of an execution",
		Args:  exactArgs("execution-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := results.options(a.cfg.API.Output)
			if err != nil {
				return err
			}
			if _, err := exports.validate(); err != nil {
				return err
			}
			client, err := a.duneClient()
			if err != nil {
				return err
			}
			if opts.Format == dune.FormatCSV && exports.format == "" {
				body, err := client.ResultsCSV(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				return writeText(cmd.OutOrStdout(), body)
			}
			rs, err := client.Results(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return a.emit(cmd.Context(), cmd.OutOrStdout(), rs, exports)
		},
	}
	results.bind(cmd)
	exports.bind(cmd)
	return cmd
}

func newResultsCSVCommand(a *app) *cobra.Command {
	var results resultFlags
	cmd := &cobra.Command{
		Use:   "results-csv <execution-id>",
		Short: "Fetch the results of an execution as CSV",
		Args:  exactArgs("execution-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := results.options(string(dune.FormatCSV))
			if err != nil {
				return err
			}
			client, err := a.duneClient()
			if err != nil {
				return err
			}
			body, err := client.ResultsCSV(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return writeText(cmd.OutOrStdout(), body)
		},
	}
	results.bind(cmd)
	return cmd
}

func newLatestCommand(a *app) *cobra.Command {
	var (
		results resultFlags
		exports exportFlags
	)
	cmd := &cobra.Command{
		Use:   "latest <query-id>",
		Short: "Fetch the latest results of a saved query without running it",
		Args:  exactArgs("query-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			queryID, err := parseQueryID(args[0])
			if err != nil {
				return err
			}
			opts, err := results.options(a.cfg.API.Output)
			if err != nil {
				return err
			}
			if _, err := exports.validate(); err != nil {
				return err
			}
			client, err := a.duneClient()
			if err != nil {
				return err
			}
			if opts.Format == dune.FormatCSV && exports.format == "" {
				body, err := client.LatestResultsCSV(cmd.Context(), queryID, opts)
				if err != nil {
					return err
				}
				return writeText(cmd.OutOrStdout(), body)
			}
			rs, err := client.LatestResults(cmd.Context(), queryID, opts)
			if err != nil {
				return err
			}
			return a.emit(cmd.Context(), cmd.OutOrStdout(), rs, exports)
		},
	}
	results.bind(cmd)
	exports.bind(cmd)
	return cmd
}

func newLatestCSVCommand(a *app) *cobra.Command {
	var results resultFlags
	cmd := &cobra.Command{
		Use:   "latest-csv <query-id>",
		Short: "Fetch the latest results of a saved query as CSV",
		Args:  exactArgs("query-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			queryID, err := parseQueryID(args[0])
			if err != nil {
				return err
			}
			opts, err := results.options(string(dune.FormatCSV))
			if err != nil {
				return err
			}
			client, err := a.duneClient()
			if err != nil {
				return err
			}
			body, err := client.LatestResultsCSV(cmd.Context(), queryID, opts)
			if err != nil {
				return err
			}
			return writeText(cmd.OutOrStdout(), body)
		},
	}
	results.bind(cmd)
	return cmd
}

// emit prints rs as JSON, or exports it when --export is set.
func (a *app) emit(ctx context.Context, w io.Writer, rs dune.ResultSet, flags exportFlags) error {
	if flags.format == "" {
		return printJSON(w, rs)
	}
	format, err := flags.validate()
	if err != nil {
		return err
	}

	if format == export.FormatDuckDB {
		loaded, err := duckdb.Load(ctx, flags.out, flags.table, rs)
		if err != nil {
			return err
		}
		return printJSON(w, exportOutput{
			ExecutionID: rs.ExecutionID,
			Format:      string(format),
			Rows:        loaded.Rows,
			Path:        loaded.Path,
			Table:       loaded.Table,
		})
	}

	var (
		body bytes.Buffer
		rows int64
	)
	switch format {
	case export.FormatCSV:
		rows, err = export.WriteCSV(&body, rs)
	case export.FormatParquet:
		var encoded export.ParquetEncodeResult
		encoded, err = export.EncodeParquet(rs)
		body.Write(encoded.Data)
		rows = encoded.RecordCount
	}
	if err != nil {
		return err
	}

	summary := exportOutput{ExecutionID: rs.ExecutionID, Format: string(format), Rows: rows}
	if flags.out != "" {
		if err := os.WriteFile(flags.out, body.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		summary.Path = flags.out
	}
	if flags.upload {
		store, err := a.objectStore(ctx)
		if err != nil {
			return err
		}
		uploaded, err := export.Uploader{Store: store, Overwrite: flags.overwrite, Now: a.opts.Now}.
			Upload(ctx, rs.ExecutionID, format, body.Bytes())
		if err != nil {
			return err
		}
		summary.ObjectKey = uploaded.Key
		summary.ObjectURI = uploaded.URI
		summary.Skipped = uploaded.Skipped
	}
	return printJSON(w, summary)
}

func writeText(w io.Writer, body string) error {
	_, err := io.WriteString(w, body)
	return err
}
