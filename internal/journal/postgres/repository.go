package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sandworm/sandworm/internal/journal"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ journal.Repository = (*Repository)(nil)

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping journal db: %w", err)
	}
	return nil
}

func (r *Repository) RecordSubmission(ctx context.Context, in journal.Submission) (journal.Entry, error) {
	if err := in.Validate(); err != nil {
		return journal.Entry{}, err
	}

	query := `
INSERT INTO execution_journal (journal_id, execution_id, kind, query_id, sql_text, parent_execution_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING submitted_at`

	entry := journal.Entry{
		JournalID:         uuid.NewString(),
		ExecutionID:       in.ExecutionID,
		Kind:              in.Kind,
		QueryID:           in.QueryID,
		SQLText:           in.SQLText,
		ParentExecutionID: in.ParentExecutionID,
	}
	if err := r.db.QueryRowContext(ctx, query,
		entry.JournalID,
		in.ExecutionID,
		string(in.Kind),
		in.QueryID,
		nullString(in.SQLText),
		nullString(in.ParentExecutionID),
	).Scan(&entry.SubmittedAt); err != nil {
		return journal.Entry{}, fmt.Errorf("record submission %s: %w", in.ExecutionID, err)
	}
	return entry, nil
}

func (r *Repository) RecordOutcome(ctx context.Context, in journal.Outcome) error {
	if in.ExecutionID == "" {
		return fmt.Errorf("execution id is required")
	}
	if in.Status == "" {
		return fmt.Errorf("outcome status is required")
	}
	finishedAt := in.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE execution_journal
SET outcome = $2, error_message = $3, row_count = $4, finished_at = $5
WHERE execution_id = $1`,
		in.ExecutionID,
		in.Status,
		nullString(in.ErrorMessage),
		in.RowCount,
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", in.ExecutionID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record outcome rows affected: %w", err)
	}
	if affected == 0 {
		return journal.ErrNotFound
	}
	return nil
}

const selectEntry = `
SELECT journal_id, execution_id, kind, query_id, sql_text, parent_execution_id, submitted_at, outcome, error_message, row_count, finished_at
FROM execution_journal`

func (r *Repository) Get(ctx context.Context, executionID string) (journal.Entry, error) {
	row := r.db.QueryRowContext(ctx, selectEntry+`
WHERE execution_id = $1`, executionID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return journal.Entry{}, journal.ErrNotFound
		}
		return journal.Entry{}, fmt.Errorf("get journal entry %s: %w", executionID, err)
	}
	return entry, nil
}

// ListRecent returns the newest entries first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx, selectEntry+`
ORDER BY submitted_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]journal.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (journal.Entry, error) {
	var (
		entry        journal.Entry
		kind         string
		sqlText      sql.NullString
		parentID     sql.NullString
		outcome      sql.NullString
		errorMessage sql.NullString
	)
	if err := row.Scan(
		&entry.JournalID,
		&entry.ExecutionID,
		&kind,
		&entry.QueryID,
		&sqlText,
		&parentID,
		&entry.SubmittedAt,
		&outcome,
		&errorMessage,
		&entry.RowCount,
		&entry.FinishedAt,
	); err != nil {
		return journal.Entry{}, err
	}
	entry.Kind = journal.Kind(kind)
	entry.SQLText = sqlText.String
	entry.ParentExecutionID = parentID.String
	entry.Status = outcome.String
	entry.ErrorMessage = errorMessage.String
	return entry, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
