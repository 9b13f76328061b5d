package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sandworm/sandworm/internal/journal"
)

var entryColumns = []string{
	"journal_id", "execution_id", "kind", "query_id", "sql_text", "parent_execution_id",
	"submitted_at", "outcome", "error_message", "row_count", "finished_at",
}

func TestRecordSubmission(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	submittedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	queryID := int64(42)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO execution_journal")).
		WithArgs(sqlmock.AnyArg(), "01HEXEC", "query", int64(42), nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"submitted_at"}).AddRow(submittedAt))

	entry, err := repo.RecordSubmission(context.Background(), journal.Submission{
		ExecutionID: "01HEXEC",
		Kind:        journal.KindQuery,
		QueryID:     &queryID,
	})
	if err != nil {
		t.Fatalf("RecordSubmission() error = %v", err)
	}
	if entry.JournalID == "" || !entry.SubmittedAt.Equal(submittedAt) || entry.Finished() {
		t.Fatalf("entry = %+v", entry)
	}
	assertSQLMock(t, mock)
}

func TestRecordSubmissionValidates(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	if _, err := repo.RecordSubmission(context.Background(), journal.Submission{Kind: journal.KindSQL}); err == nil {
		t.Fatal("expected missing execution id error")
	}
	if _, err := repo.RecordSubmission(context.Background(), journal.Submission{ExecutionID: "e", Kind: "batch"}); err == nil {
		t.Fatal("expected invalid kind error")
	}
	assertSQLMock(t, mock)
}

func TestRecordOutcome(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	finishedAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	rows := int64(7)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE execution_journal")).
		WithArgs("01HEXEC", "completed", nil, int64(7), finishedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordOutcome(context.Background(), journal.Outcome{
		ExecutionID: "01HEXEC",
		Status:      "completed",
		RowCount:    &rows,
		FinishedAt:  finishedAt,
	})
	if err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRecordOutcomeUnknownExecution(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE execution_journal")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RecordOutcome(context.Background(), journal.Outcome{ExecutionID: "missing", Status: "failed", ErrorMessage: "boom"})
	if !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("RecordOutcome() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestGetMapsNoRowsToNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM execution_journal")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestGetScansNullableColumns(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	submittedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finishedAt := submittedAt.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("FROM execution_journal")).
		WithArgs("01HEXEC").
		WillReturnRows(sqlmock.NewRows(entryColumns).AddRow(
			"0b7c9d52-0000-4000-8000-000000000001", "01HEXEC", "sql", nil, "SELECT 1", nil,
			submittedAt, "completed", nil, int64(1), finishedAt,
		))

	entry, err := repo.Get(context.Background(), "01HEXEC")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Kind != journal.KindSQL || entry.SQLText != "SELECT 1" || entry.QueryID != nil {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Status != "completed" || entry.RowCount == nil || *entry.RowCount != 1 || !entry.Finished() {
		t.Fatalf("outcome fields = %+v", entry)
	}
	assertSQLMock(t, mock)
}

func TestListRecentClampsLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	submittedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY submitted_at DESC")).
		WithArgs(defaultListLimit).
		WillReturnRows(sqlmock.NewRows(entryColumns).
			AddRow("j2", "e2", "pipeline", nil, nil, nil, submittedAt.Add(time.Second), nil, nil, nil, nil).
			AddRow("j1", "e1", "query", int64(9), nil, "e2", submittedAt, "failed", "boom", nil, submittedAt))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY submitted_at DESC")).
		WithArgs(maxListLimit).
		WillReturnRows(sqlmock.NewRows(entryColumns))

	entries, err := repo.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(entries) != 2 || entries[0].ExecutionID != "e2" || entries[0].Finished() {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[1].ParentExecutionID != "e2" || entries[1].ErrorMessage != "boom" || *entries[1].QueryID != 9 {
		t.Fatalf("second entry = %+v", entries[1])
	}

	entries, err = repo.ListRecent(context.Background(), 10_000)
	if err != nil {
		t.Fatalf("ListRecent(max) error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %+v", entries)
	}
	assertSQLMock(t, mock)
}

func TestHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectPing().WillReturnError(errors.New("down"))
	if err := NewRepository(db).HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check error")
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
