package dune

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Submission is what RunAndWait submits: inline SQL or a saved query.
type Submission struct {
	queryID int64
	sql     *SubmitSQLRequest
	query   SubmitQueryRequest
}

func SQL(req SubmitSQLRequest) Submission {
	return Submission{sql: &req}
}

func SavedQuery(queryID int64, req SubmitQueryRequest) Submission {
	return Submission{queryID: queryID, query: req}
}

// PollEvent describes one status poll of a wait loop.
type PollEvent struct {
	ExecutionID string
	Attempt     int
	State       State
	Elapsed     time.Duration
}

// RunSQL submits sql and waits up to timeout for its results.
func (c *Client) RunSQL(ctx context.Context, sql string, timeout time.Duration) (ResultSet, error) {
	return c.RunAndWait(ctx, SQL(SubmitSQLRequest{SQL: sql}), timeout)
}

func (c *Client) RunQuery(ctx context.Context, queryID int64, timeout time.Duration) (ResultSet, error) {
	return c.RunAndWait(ctx, SavedQuery(queryID, SubmitQueryRequest{}), timeout)
}

// RunAndWait submits the work, polls its status every poll interval and
// returns the results once the execution completes.
//
// The elapsed time is checked before each poll, so a slow poll may run
// past timeout; the overrun is caught on the next iteration.
func (c *Client) RunAndWait(ctx context.Context, submission Submission, timeout time.Duration) (ResultSet, error) {
	if timeout <= 0 {
		return ResultSet{}, fmt.Errorf("%w: timeout must be positive", ErrInvalidRequest)
	}
	handle, err := c.Submit(ctx, submission)
	if err != nil {
		return ResultSet{}, err
	}
	return c.wait(ctx, handle.ExecutionID, timeout, time.Now())
}

func (c *Client) Submit(ctx context.Context, submission Submission) (ExecutionHandle, error) {
	if submission.sql != nil {
		return c.SubmitSQL(ctx, *submission.sql)
	}
	return c.SubmitQuery(ctx, submission.queryID, submission.query)
}

// WaitForResults runs the polling loop for an execution that was already
// submitted. The clock starts when it is called.
func (c *Client) WaitForResults(ctx context.Context, executionID string, timeout time.Duration) (ResultSet, error) {
	if timeout <= 0 {
		return ResultSet{}, fmt.Errorf("%w: timeout must be positive", ErrInvalidRequest)
	}
	return c.wait(ctx, executionID, timeout, time.Now())
}

// WaitAll waits for several executions concurrently. Results keep the
// order of executionIDs; the first failure cancels the other waits.
func (c *Client) WaitAll(ctx context.Context, executionIDs []string, timeout time.Duration) ([]ResultSet, error) {
	waits, err := c.WaitEach(ctx, executionIDs, timeout)
	if err != nil {
		return nil, err
	}
	results := make([]ResultSet, len(waits))
	for i, w := range waits {
		results[i] = w.Result
	}
	return results, nil
}

// WaitResult is how one execution of a group wait ended. Err is nil when
// Result holds its rows.
type WaitResult struct {
	ExecutionID string
	Result      ResultSet
	Err         error
}

// WaitEach is WaitAll that also reports every execution's own outcome.
// The returned error is the first failure, which cancels the other waits;
// those end with an error matching context.Canceled.
func (c *Client) WaitEach(ctx context.Context, executionIDs []string, timeout time.Duration) ([]WaitResult, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidRequest)
	}
	waits := make([]WaitResult, len(executionIDs))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, executionID := range executionIDs {
		group.Go(func() error {
			result, err := c.wait(groupCtx, executionID, timeout, time.Now())
			waits[i] = WaitResult{ExecutionID: executionID, Result: result, Err: err}
			return err
		})
	}
	return waits, group.Wait()
}

// RunPipelineAndWait submits a pipeline and waits for the root execution
// and every child. The root comes first in the returned slice.
func (c *Client) RunPipelineAndWait(ctx context.Context, queryID int64, req SubmitQueryRequest, timeout time.Duration) ([]ResultSet, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidRequest)
	}
	handle, err := c.SubmitPipeline(ctx, queryID, req)
	if err != nil {
		return nil, err
	}
	return c.WaitAll(ctx, handle.ExecutionIDs(), timeout)
}

func (c *Client) wait(ctx context.Context, executionID string, timeout time.Duration, start time.Time) (ResultSet, error) {
	for attempt := 1; ; attempt++ {
		elapsed := time.Since(start)
		if elapsed > timeout {
			c.logger.DebugContext(ctx, "execution_wait_timeout",
				slog.String("execution_id", executionID),
				slog.Int("attempt", attempt),
				slog.String("elapsed", elapsed.String()),
			)
			return ResultSet{}, &TimeoutError{ExecutionID: executionID, Timeout: timeout, Elapsed: elapsed}
		}

		status, err := c.Status(ctx, executionID)
		if err != nil {
			return ResultSet{}, fmt.Errorf("poll execution %s: %w", executionID, err)
		}
		c.observePoll(ctx, PollEvent{ExecutionID: executionID, Attempt: attempt, State: status.State, Elapsed: time.Since(start)})

		switch status.State {
		case StateCompleted:
			results, err := c.Results(ctx, executionID, ResultOptions{})
			if err != nil {
				return ResultSet{}, fmt.Errorf("fetch results for execution %s: %w", executionID, err)
			}
			return results, nil
		case StateFailed:
			return ResultSet{}, &ExecutionFailedError{ExecutionID: executionID, Status: status}
		case StateCancelled:
			return ResultSet{}, &CancelledError{ExecutionID: executionID}
		case StatePending, StateExecuting:
			if err := sleepContext(ctx, c.pollInterval); err != nil {
				return ResultSet{}, err
			}
		default:
			return ResultSet{}, &DecodeError{Op: "execution status", Err: fmt.Errorf("unknown execution state %q", status.State)}
		}
	}
}

func (c *Client) observePoll(ctx context.Context, event PollEvent) {
	c.logger.DebugContext(ctx, "execution_polled",
		slog.String("execution_id", event.ExecutionID),
		slog.Int("attempt", event.Attempt),
		slog.String("state", string(event.State)),
		slog.String("elapsed", event.Elapsed.String()),
	)
	if c.onPoll != nil {
		c.onPoll(event)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
