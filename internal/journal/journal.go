// Package journal keeps a local record of submitted executions and how the
// client saw them end.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("journal: not found")

type Kind string

const (
	KindSQL      Kind = "sql"
	KindQuery    Kind = "query"
	KindPipeline Kind = "pipeline"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSQL, KindQuery, KindPipeline:
		return true
	default:
		return false
	}
}

type Repository interface {
	HealthCheck(ctx context.Context) error
	RecordSubmission(ctx context.Context, in Submission) (Entry, error)
	RecordOutcome(ctx context.Context, in Outcome) error
	Get(ctx context.Context, executionID string) (Entry, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

type Submission struct {
	ExecutionID       string
	Kind              Kind
	QueryID           *int64
	SQLText           string
	ParentExecutionID string
}

func (s Submission) Validate() error {
	if s.ExecutionID == "" {
		return fmt.Errorf("execution id is required")
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("invalid submission kind %q", s.Kind)
	}
	return nil
}

// Outcome is what the client observed when it stopped waiting. Status is a
// short label such as completed, failed, cancelled or timeout.
type Outcome struct {
	ExecutionID  string
	Status       string
	ErrorMessage string
	RowCount     *int64
	FinishedAt   time.Time
}

type Entry struct {
	JournalID         string
	ExecutionID       string
	Kind              Kind
	QueryID           *int64
	SQLText           string
	ParentExecutionID string
	SubmittedAt       time.Time
	Status            string
	ErrorMessage      string
	RowCount          *int64
	FinishedAt        *time.Time
}

// Finished reports whether an outcome has been recorded.
func (e Entry) Finished() bool {
	return e.FinishedAt != nil
}
