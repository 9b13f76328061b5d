package dune

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
)

// fakeTransport answers status polls from a scripted list of states and
// records every request with its send time.
type fakeTransport struct {
	mu        sync.Mutex
	states    []State
	polls     int
	requests  []Request
	sentAt    []time.Time
	statusErr error
	results   string
	override  func(req Request) (Response, bool, error)
}

func newFakeTransport(states ...State) *fakeTransport {
	return &fakeTransport{
		states:  states,
		results: `{"execution_id":"exec-1","state":"QUERY_STATE_COMPLETED","is_execution_finished":true,"result":{"rows":[{"n":1},{"n":2}],"metadata":{"column_names":["n"],"row_count":2}}}`,
	}
}

func (f *fakeTransport) Send(_ context.Context, req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.sentAt = append(f.sentAt, time.Now())

	if f.override != nil {
		if resp, ok, err := f.override(req); ok {
			return resp, err
		}
	}

	switch {
	case req.Method == http.MethodPost && strings.HasSuffix(req.Path, "/execute"):
		return jsonResponse(http.StatusOK, `{"execution_id":"exec-1","state":"QUERY_STATE_PENDING"}`), nil
	case strings.HasSuffix(req.Path, "/status"):
		if f.statusErr != nil {
			return Response{}, f.statusErr
		}
		state := StatePending
		if len(f.states) > 0 {
			idx := f.polls
			if idx >= len(f.states) {
				idx = len(f.states) - 1
			}
			state = f.states[idx]
		}
		f.polls++
		body := `{"execution_id":"` + executionIDFromPath(req.Path) + `","state":"` + string(state) + `"`
		if state == StateFailed {
			body += `,"error":{"type":"FAILED_TYPE_EXECUTION_FAILED","message":"division by zero"}`
		}
		return jsonResponse(http.StatusOK, body+`}`), nil
	case strings.HasSuffix(req.Path, "/results"):
		return jsonResponse(http.StatusOK, f.results), nil
	case strings.HasSuffix(req.Path, "/cancel"):
		return jsonResponse(http.StatusOK, `{"success":true}`), nil
	}
	return jsonResponse(http.StatusNotFound, `{"error":"not found"}`), nil
}

func (f *fakeTransport) count(suffix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.requests {
		if strings.HasSuffix(req.Path, suffix) {
			n++
		}
	}
	return n
}

func (f *fakeTransport) sendTimes(suffix string) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for i, req := range f.requests {
		if strings.HasSuffix(req.Path, suffix) {
			out = append(out, f.sentAt[i])
		}
	}
	return out
}

func (f *fakeTransport) lastRequest() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func jsonResponse(status int, body string) Response {
	return Response{StatusCode: status, Body: []byte(body)}
}

func executionIDFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 {
		return parts[2]
	}
	return ""
}

func newTestClient(t interface{ Fatalf(string, ...any) }, transport Transport, pollInterval time.Duration) *Client {
	client, err := New(Config{APIKey: "test-key", Transport: transport, PollInterval: pollInterval})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}
