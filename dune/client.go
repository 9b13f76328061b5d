// Package dune is a client for the Dune Analytics execution API.
//
// Work is submitted as inline SQL, a saved query or a query pipeline; each
// submission yields an execution id whose state is then observed through
// Status until it reaches Completed, Failed or Cancelled. RunAndWait and
// friends bundle the submit, poll and fetch steps:
//
//	client, err := dune.New(dune.Config{APIKey: os.Getenv("DUNE_API_KEY")})
//	if err != nil {
//		return err
//	}
//	results, err := client.RunSQL(ctx, "SELECT 1", time.Minute)
//
// The remote service owns execution state. The client never retries a
// failed call; the only repetition is the fixed status polling cadence.
package dune

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultPollInterval = time.Second

type Config struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RoundTripper      http.RoundTripper
	RequestsPerSecond float64

	// Transport replaces the HTTP transport entirely. The API key is still
	// validated.
	Transport    Transport
	PollInterval time.Duration
	Logger       *slog.Logger
	// OnPoll is called after every status poll. WaitAll calls it from
	// several goroutines at once.
	OnPoll func(PollEvent)
}

type Client struct {
	transport    Transport
	pollInterval time.Duration
	logger       *slog.Logger
	onPoll       func(PollEvent)
}

// New validates the credential and builds a client. No request is sent.
func New(cfg Config) (*Client, error) {
	if _, err := validateAPIKey(cfg.APIKey); err != nil {
		return nil, err
	}

	transport := cfg.Transport
	if transport == nil {
		httpTransport, err := NewHTTPTransport(TransportConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Timeout:           cfg.Timeout,
			RoundTripper:      cfg.RoundTripper,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		transport = httpTransport
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		transport:    transport,
		pollInterval: pollInterval,
		logger:       logger,
		onPoll:       cfg.OnPoll,
	}, nil
}

func (c *Client) PollInterval() time.Duration { return c.pollInterval }

// ExecuteSQL submits inline SQL with service defaults.
func (c *Client) ExecuteSQL(ctx context.Context, sql string) (ExecutionHandle, error) {
	return c.SubmitSQL(ctx, SubmitSQLRequest{SQL: sql})
}

func (c *Client) SubmitSQL(ctx context.Context, req SubmitSQLRequest) (ExecutionHandle, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return ExecutionHandle{}, fmt.Errorf("%w: sql is required", ErrInvalidRequest)
	}
	var handle ExecutionHandle
	if err := c.doJSON(ctx, "execute sql", Request{Method: http.MethodPost, Path: "/v1/sql/execute", Body: req}, &handle); err != nil {
		return ExecutionHandle{}, err
	}
	if err := requireExecutionID("execute sql", handle.ExecutionID); err != nil {
		return ExecutionHandle{}, err
	}
	c.logger.DebugContext(ctx, "execution_submitted", slog.String("execution_id", handle.ExecutionID), slog.String("kind", "sql"))
	return handle, nil
}

func (c *Client) SubmitQuery(ctx context.Context, queryID int64, req SubmitQueryRequest) (ExecutionHandle, error) {
	var handle ExecutionHandle
	path := "/v1/query/" + strconv.FormatInt(queryID, 10) + "/execute"
	if err := c.doJSON(ctx, "execute query", Request{Method: http.MethodPost, Path: path, Body: req}, &handle); err != nil {
		return ExecutionHandle{}, err
	}
	if err := requireExecutionID("execute query", handle.ExecutionID); err != nil {
		return ExecutionHandle{}, err
	}
	c.logger.DebugContext(ctx, "execution_submitted",
		slog.String("execution_id", handle.ExecutionID),
		slog.String("kind", "query"),
		slog.Int64("query_id", queryID),
	)
	return handle, nil
}

// SubmitPipeline runs a saved query together with its declared dependents.
func (c *Client) SubmitPipeline(ctx context.Context, queryID int64, req SubmitQueryRequest) (PipelineHandle, error) {
	var handle PipelineHandle
	path := "/v1/query/" + strconv.FormatInt(queryID, 10) + "/pipeline/execute"
	if err := c.doJSON(ctx, "execute pipeline", Request{Method: http.MethodPost, Path: path, Body: req}, &handle); err != nil {
		return PipelineHandle{}, err
	}
	if err := requireExecutionID("execute pipeline", handle.ExecutionID); err != nil {
		return PipelineHandle{}, err
	}
	c.logger.DebugContext(ctx, "execution_submitted",
		slog.String("execution_id", handle.ExecutionID),
		slog.String("kind", "pipeline"),
		slog.Int("children", len(handle.ChildExecutionIDs)),
	)
	return handle, nil
}

func (c *Client) Status(ctx context.Context, executionID string) (ExecutionStatus, error) {
	var status ExecutionStatus
	if err := c.doJSON(ctx, "execution status", Request{Method: http.MethodGet, Path: executionPath(executionID, "/status")}, &status); err != nil {
		return ExecutionStatus{}, err
	}
	return status, nil
}

// Results fetches the JSON results. Calling it before the execution has
// completed returns whatever the service answers, usually no rows.
func (c *Client) Results(ctx context.Context, executionID string, opts ResultOptions) (ResultSet, error) {
	var results ResultSet
	req := Request{Method: http.MethodGet, Path: executionPath(executionID, "/results"), Query: opts.QueryParams()}
	if err := c.doJSON(ctx, "execution results", req, &results); err != nil {
		return ResultSet{}, err
	}
	return results, nil
}

// ResultsCSV returns the CSV body exactly as received.
func (c *Client) ResultsCSV(ctx context.Context, executionID string, opts ResultOptions) (string, error) {
	req := Request{Method: http.MethodGet, Path: executionPath(executionID, "/results/csv"), Query: opts.QueryParams(), Accept: "text/csv"}
	return c.doText(ctx, req)
}

// LatestResults returns the most recent results of a saved query without
// starting a new execution.
func (c *Client) LatestResults(ctx context.Context, queryID int64, opts ResultOptions) (ResultSet, error) {
	var results ResultSet
	req := Request{Method: http.MethodGet, Path: "/v1/query/" + strconv.FormatInt(queryID, 10) + "/results", Query: opts.QueryParams()}
	if err := c.doJSON(ctx, "latest results", req, &results); err != nil {
		return ResultSet{}, err
	}
	return results, nil
}

func (c *Client) LatestResultsCSV(ctx context.Context, queryID int64, opts ResultOptions) (string, error) {
	req := Request{Method: http.MethodGet, Path: "/v1/query/" + strconv.FormatInt(queryID, 10) + "/results/csv", Query: opts.QueryParams(), Accept: "text/csv"}
	return c.doText(ctx, req)
}

// Cancel asks the service to stop an execution and reports whether it agreed.
func (c *Client) Cancel(ctx context.Context, executionID string) (bool, error) {
	var resp cancelResponse
	if err := c.doJSON(ctx, "cancel execution", Request{Method: http.MethodPost, Path: executionPath(executionID, "/cancel")}, &resp); err != nil {
		return false, err
	}
	c.logger.DebugContext(ctx, "execution_cancel_requested", slog.String("execution_id", executionID), slog.Bool("success", resp.Success))
	return resp.Success, nil
}

func (c *Client) doJSON(ctx context.Context, op string, req Request, dst any) error {
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return apiErrorFromResponse(resp)
	}
	if err := json.Unmarshal(resp.Body, dst); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) doText(ctx context.Context, req Request) (string, error) {
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return "", err
	}
	if !resp.Success() {
		return "", apiErrorFromResponse(resp)
	}
	return string(resp.Body), nil
}

func apiErrorFromResponse(resp Response) *APIError {
	var payload map[string]any
	if err := json.Unmarshal(resp.Body, &payload); err == nil {
		if message, ok := payload["error"].(string); ok {
			return &APIError{StatusCode: resp.StatusCode, Message: message}
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("HTTP %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), string(resp.Body)),
	}
}

func executionPath(executionID, suffix string) string {
	return "/v1/execution/" + url.PathEscape(executionID) + suffix
}

func requireExecutionID(op, executionID string) error {
	if strings.TrimSpace(executionID) == "" {
		return &DecodeError{Op: op, Err: fmt.Errorf("missing execution_id")}
	}
	return nil
}
