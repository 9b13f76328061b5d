package dune

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the remote execution state. Only the five values below are
// valid; decoding anything else fails, so switches over State stay closed.
type State string

const (
	StatePending   State = "QUERY_STATE_PENDING"
	StateExecuting State = "QUERY_STATE_EXECUTING"
	StateCompleted State = "QUERY_STATE_COMPLETED"
	StateFailed    State = "QUERY_STATE_FAILED"
	StateCancelled State = "QUERY_STATE_CANCELLED"
)

// ParseState validates a wire value.
func ParseState(raw string) (State, error) {
	switch state := State(raw); state {
	case StatePending, StateExecuting, StateCompleted, StateFailed, StateCancelled:
		return state, nil
	default:
		return "", fmt.Errorf("unknown execution state %q", raw)
	}
}

// Terminal reports whether no further remote transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Short returns the state without the wire prefix, e.g. "completed".
func (s State) Short() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("execution state: %w", err)
	}
	state, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = state
	return nil
}

type Performance string

const (
	PerformanceMedium Performance = "medium"
	PerformanceLarge  Performance = "large"
)

// SubmitSQLRequest is the body of POST /v1/sql/execute.
type SubmitSQLRequest struct {
	SQL             string         `json:"sql"`
	QueryParameters map[string]any `json:"query_parameters,omitempty"`
	Performance     Performance    `json:"performance,omitempty"`
}

// SubmitQueryRequest is the body of the saved query and pipeline execute calls.
type SubmitQueryRequest struct {
	QueryParameters map[string]any `json:"query_parameters,omitempty"`
	Performance     Performance    `json:"performance,omitempty"`
}

// ExecutionHandle identifies one remote execution. The ID is opaque and is
// only meaningful to the remote service.
type ExecutionHandle struct {
	ExecutionID string `json:"execution_id"`
	State       State  `json:"state,omitempty"`
}

type PipelineHandle struct {
	ExecutionID       string   `json:"execution_id"`
	ChildExecutionIDs []string `json:"child_execution_ids,omitempty"`
}

// ExecutionIDs returns the root execution followed by its children.
func (h PipelineHandle) ExecutionIDs() []string {
	ids := make([]string, 0, len(h.ChildExecutionIDs)+1)
	ids = append(ids, h.ExecutionID)
	return append(ids, h.ChildExecutionIDs...)
}

type ResultMetadata struct {
	ColumnNames         []string `json:"column_names"`
	ColumnTypes         []string `json:"column_types,omitempty"`
	RowCount            int64    `json:"row_count"`
	ResultSetBytes      int64    `json:"result_set_bytes"`
	TotalRowCount       int64    `json:"total_row_count"`
	TotalResultSetBytes int64    `json:"total_result_set_bytes"`
	DatapointCount      int64    `json:"datapoint_count"`
	PendingTimeMillis   int64    `json:"pending_time_millis"`
	ExecutionTimeMillis int64    `json:"execution_time_millis"`
}

type ExecutionError struct {
	Type     string         `json:"type"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExecutionStatus is one status snapshot. It is read once per poll and
// never cached.
type ExecutionStatus struct {
	ExecutionID         string          `json:"execution_id"`
	QueryID             int64           `json:"query_id"`
	State               State           `json:"state"`
	IsExecutionFinished bool            `json:"is_execution_finished"`
	SubmittedAt         *time.Time      `json:"submitted_at,omitempty"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty"`
	ExecutionStartedAt  *time.Time      `json:"execution_started_at,omitempty"`
	ExecutionEndedAt    *time.Time      `json:"execution_ended_at,omitempty"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty"`
	ResultMetadata      *ResultMetadata `json:"result_metadata,omitempty"`
	Error               *ExecutionError `json:"error,omitempty"`
}

type QueryResult struct {
	Rows     []map[string]any `json:"rows"`
	Metadata ResultMetadata   `json:"metadata"`
}

// Columns returns the column order reported by the service.
func (r *QueryResult) Columns() []string {
	if r == nil {
		return nil
	}
	return r.Metadata.ColumnNames
}

// ResultSet is the payload of the results endpoints. Result is nil until
// the execution has completed.
type ResultSet struct {
	ExecutionID         string          `json:"execution_id"`
	QueryID             int64           `json:"query_id"`
	State               State           `json:"state"`
	IsExecutionFinished bool            `json:"is_execution_finished"`
	SubmittedAt         *time.Time      `json:"submitted_at,omitempty"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty"`
	ExecutionStartedAt  *time.Time      `json:"execution_started_at,omitempty"`
	ExecutionEndedAt    *time.Time      `json:"execution_ended_at,omitempty"`
	Result              *QueryResult    `json:"result,omitempty"`
	Error               *ExecutionError `json:"error,omitempty"`
	NextOffset          *int64          `json:"next_offset,omitempty"`
	NextURI             string          `json:"next_uri,omitempty"`
}

// RowCount is the number of rows carried in this page.
func (r ResultSet) RowCount() int {
	if r.Result == nil {
		return 0
	}
	return len(r.Result.Rows)
}

type cancelResponse struct {
	Success bool `json:"success"`
}
