// Package dunetest runs an in-process stand-in for the Dune execution API.
// Executions move through a scripted list of states, one step per status
// poll, so callers can drive the wait loop deterministically.
package dunetest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	StatePending   = "QUERY_STATE_PENDING"
	StateExecuting = "QUERY_STATE_EXECUTING"
	StateCompleted = "QUERY_STATE_COMPLETED"
	StateFailed    = "QUERY_STATE_FAILED"
	StateCancelled = "QUERY_STATE_CANCELLED"
)

type RecordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	APIKey string
	Body   []byte
	At     time.Time
}

type Execution struct {
	ID       string
	QueryID  int64
	SQL      string
	Params   map[string]any
	States   []string
	Children []string
	polls    int
}

func (e *Execution) state() string {
	if len(e.States) == 0 {
		return StateCompleted
	}
	idx := e.polls
	if idx >= len(e.States) {
		idx = len(e.States) - 1
	}
	return e.States[idx]
}

type Server struct {
	*httptest.Server

	APIKey string

	mu         sync.Mutex
	script     []string
	scriptByQ  map[int64][]string
	columns    []string
	rows       []map[string]any
	csvBody    *string
	children   int
	nextID     int
	executions map[string]*Execution
	requests   []RecordedRequest
	failures   map[string]failure
}

type failure struct {
	status int
	body   string
}

// NewServer starts a fake API that accepts apiKey.
func NewServer(apiKey string) *Server {
	s := &Server{
		APIKey:     apiKey,
		executions: map[string]*Execution{},
		failures:   map[string]failure{},
		scriptByQ:  map[int64][]string{},
		columns:    []string{"n"},
		rows:       []map[string]any{{"n": float64(1)}},
	}
	s.Server = httptest.NewServer(s.handler())
	return s
}

// Script sets the states reported by successive status polls of every
// execution submitted afterwards. The last state repeats.
func (s *Server) Script(states ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append([]string(nil), states...)
}

// ScriptQuery overrides Script for executions of queryID, including
// pipeline children, whose query ids follow the root's.
func (s *Server) ScriptQuery(queryID int64, states ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scriptByQ[queryID] = append([]string(nil), states...)
}

func (s *Server) SetResult(columns []string, rows []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns = append([]string(nil), columns...)
	s.rows = rows
}

// SetCSV overrides the CSV body served for every execution.
func (s *Server) SetCSV(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csvBody = &body
}

// SetPipelineChildren controls how many child executions a pipeline spawns.
func (s *Server) SetPipelineChildren(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = n
}

// Fail makes every request matching "METHOD /path" answer with status and body.
func (s *Server) Fail(route string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = failure{status: status, body: body}
}

func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// CountRequests counts recorded requests whose path ends with suffix.
func (s *Server) CountRequests(method, suffix string) int {
	count := 0
	for _, req := range s.Requests() {
		if req.Method == method && strings.HasSuffix(req.Path, suffix) {
			count++
		}
	}
	return count
}

func (s *Server) Execution(id string) (Execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return Execution{}, false
	}
	return *exec, true
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sql/execute", s.handleExecuteSQL)
	mux.HandleFunc("POST /v1/query/{id}/execute", s.handleExecuteQuery)
	mux.HandleFunc("POST /v1/query/{id}/pipeline/execute", s.handleExecutePipeline)
	mux.HandleFunc("GET /v1/query/{id}/results", s.handleLatestResults)
	mux.HandleFunc("GET /v1/query/{id}/results/csv", s.handleLatestResultsCSV)
	mux.HandleFunc("GET /v1/execution/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /v1/execution/{id}/results", s.handleResults)
	mux.HandleFunc("GET /v1/execution/{id}/results/csv", s.handleResultsCSV)
	mux.HandleFunc("POST /v1/execution/{id}/cancel", s.handleCancel)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := readBody(r)
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			APIKey: r.Header.Get("X-Dune-Api-Key"),
			Body:   body,
			At:     time.Now(),
		})
		fail, failing := s.failures[r.Method+" "+r.URL.Path]
		s.mu.Unlock()

		if r.Header.Get("X-Dune-Api-Key") != s.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid API Key")
			return
		}
		if failing {
			w.WriteHeader(fail.status)
			_, _ = w.Write([]byte(fail.body))
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (s *Server) handleExecuteSQL(w http.ResponseWriter, r *http.Request) {
	var request struct {
		SQL             string         `json:"sql"`
		QueryParameters map[string]any `json:"query_parameters"`
		Performance     string         `json:"performance"`
	}
	if err := decodeRecorded(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(w, http.StatusBadRequest, "sql is required")
		return
	}
	exec := s.newExecution(0, request.SQL, request.QueryParameters)
	writeJSON(w, http.StatusOK, map[string]any{"execution_id": exec.ID, "state": exec.state()})
}

func (s *Server) handleExecuteQuery(w http.ResponseWriter, r *http.Request) {
	queryID, ok := parseQueryID(w, r)
	if !ok {
		return
	}
	var request struct {
		QueryParameters map[string]any `json:"query_parameters"`
	}
	if err := decodeRecorded(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	exec := s.newExecution(queryID, "", request.QueryParameters)
	writeJSON(w, http.StatusOK, map[string]any{"execution_id": exec.ID, "state": exec.state()})
}

func (s *Server) handleExecutePipeline(w http.ResponseWriter, r *http.Request) {
	queryID, ok := parseQueryID(w, r)
	if !ok {
		return
	}
	root := s.newExecution(queryID, "", nil)
	s.mu.Lock()
	children := s.children
	s.mu.Unlock()

	childIDs := make([]string, 0, children)
	for i := 0; i < children; i++ {
		child := s.newExecution(queryID+int64(i)+1, "", nil)
		childIDs = append(childIDs, child.ID)
	}
	s.mu.Lock()
	s.executions[root.ID].Children = childIDs
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"execution_id": root.ID, "child_execution_ids": childIDs})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	exec, ok := s.executions[r.PathValue("id")]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	state := exec.state()
	exec.polls++
	payload := map[string]any{
		"execution_id":          exec.ID,
		"query_id":              exec.QueryID,
		"state":                 state,
		"is_execution_finished": isTerminal(state),
		"submitted_at":          time.Now().UTC().Format(time.RFC3339Nano),
	}
	if state == StateFailed {
		payload["error"] = map[string]any{"type": "FAILED_TYPE_EXECUTION_FAILED", "message": "line 1:1: mismatched input"}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	exec, ok := s.executions[r.PathValue("id")]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	payload := s.resultsPayloadLocked(exec.ID, exec.QueryID, exec.state(), r)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleResultsCSV(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	_, ok := s.executions[r.PathValue("id")]
	body := s.csvLocked()
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleLatestResults(w http.ResponseWriter, r *http.Request) {
	queryID, ok := parseQueryID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	payload := s.resultsPayloadLocked("latest-"+strconv.FormatInt(queryID, 10), queryID, StateCompleted, r)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleLatestResultsCSV(w http.ResponseWriter, r *http.Request) {
	if _, ok := parseQueryID(w, r); !ok {
		return
	}
	s.mu.Lock()
	body := s.csvLocked()
	s.mu.Unlock()
	w.Header().Set("Content-Type", "text/csv")
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	exec, ok := s.executions[r.PathValue("id")]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	success := !isTerminal(exec.state())
	if success {
		exec.States = []string{StateCancelled}
		exec.polls = 0
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": success})
}

func (s *Server) newExecution(queryID int64, sql string, params map[string]any) *Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	states, ok := s.scriptByQ[queryID]
	if !ok {
		states = s.script
	}
	exec := &Execution{
		ID:      fmt.Sprintf("01HEXEC%06d", s.nextID),
		QueryID: queryID,
		SQL:     sql,
		Params:  params,
		States:  append([]string(nil), states...),
	}
	s.executions[exec.ID] = exec
	return exec
}

func (s *Server) resultsPayloadLocked(executionID string, queryID int64, state string, r *http.Request) map[string]any {
	payload := map[string]any{
		"execution_id":          executionID,
		"query_id":              queryID,
		"state":                 state,
		"is_execution_finished": isTerminal(state),
	}
	if state != StateCompleted {
		return payload
	}

	rows := s.rows
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && offset > 0 {
		if offset > len(rows) {
			offset = len(rows)
		}
		rows = rows[offset:]
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	payload["result"] = map[string]any{
		"rows": rows,
		"metadata": map[string]any{
			"column_names":    s.columns,
			"row_count":       len(rows),
			"total_row_count": len(s.rows),
		},
	}
	return payload
}

func (s *Server) csvLocked() string {
	if s.csvBody != nil {
		return *s.csvBody
	}
	var b strings.Builder
	writer := csv.NewWriter(&b)
	columns := s.columns
	if len(columns) == 0 && len(s.rows) > 0 {
		for key := range s.rows[0] {
			columns = append(columns, key)
		}
		sort.Strings(columns)
	}
	_ = writer.Write(columns)
	for _, row := range s.rows {
		record := make([]string, len(columns))
		for i, column := range columns {
			record[i] = fmt.Sprint(row[column])
		}
		_ = writer.Write(record)
	}
	writer.Flush()
	return b.String()
}

func parseQueryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	queryID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || queryID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid query id")
		return 0, false
	}
	return queryID, true
}

func isTerminal(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
