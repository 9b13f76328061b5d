package sandwormctl

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandworm/sandworm/internal/journal"
)

type historyRow struct {
	ExecutionID       string     `json:"execution_id"`
	Kind              string     `json:"kind"`
	QueryID           *int64     `json:"query_id,omitempty"`
	SQL               string     `json:"sql,omitempty"`
	ParentExecutionID string     `json:"parent_execution_id,omitempty"`
	SubmittedAt       time.Time  `json:"submitted_at"`
	Outcome           string     `json:"outcome,omitempty"`
	Error             string     `json:"error,omitempty"`
	RowCount          *int64     `json:"row_count,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent executions from the journal",
		Args:  exactArgs(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := a.journalRepo(cmd.Context())
			if err != nil {
				return err
			}
			if repo == nil {
				return fmt.Errorf("journal is not configured: set SANDWORM_JOURNAL_DSN")
			}
			if err := repo.HealthCheck(cmd.Context()); err != nil {
				return fmt.Errorf("journal unavailable: %w", err)
			}
			entries, err := repo.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows := make([]historyRow, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, toHistoryRow(entry))
			}
			if a.cfg.API.Output == "csv" {
				return writeHistoryCSV(cmd.OutOrStdout(), rows)
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to list")
	return cmd
}

func toHistoryRow(entry journal.Entry) historyRow {
	return historyRow{
		ExecutionID:       entry.ExecutionID,
		Kind:              string(entry.Kind),
		QueryID:           entry.QueryID,
		SQL:               entry.SQLText,
		ParentExecutionID: entry.ParentExecutionID,
		SubmittedAt:       entry.SubmittedAt,
		Outcome:           entry.Status,
		Error:             entry.ErrorMessage,
		RowCount:          entry.RowCount,
		FinishedAt:        entry.FinishedAt,
	}
}

func writeHistoryCSV(w io.Writer, rows []historyRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"execution_id", "kind", "query_id", "submitted_at", "outcome", "row_count", "finished_at", "error"}); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.ExecutionID,
			row.Kind,
			optionalInt(row.QueryID),
			row.SubmittedAt.UTC().Format(time.RFC3339),
			row.Outcome,
			optionalInt(row.RowCount),
			"",
			row.Error,
		}
		if row.FinishedAt != nil {
			record[6] = row.FinishedAt.UTC().Format(time.RFC3339)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func optionalInt(value *int64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatInt(*value, 10)
}
