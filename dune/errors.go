package dune

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredential = errors.New("dune: invalid api credential")
	ErrInvalidRequest    = errors.New("dune: invalid request")
	ErrTransport         = errors.New("dune: transport failure")
	ErrRequestRejected   = errors.New("dune: request rejected")
	ErrExecutionFailed   = errors.New("dune: execution failed")
	ErrCancelled         = errors.New("dune: execution cancelled")
	ErrTimeout           = errors.New("dune: timed out waiting for execution")
	ErrDecode            = errors.New("dune: decode response")
)

// TransportError is a failure to complete the HTTP exchange at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// APIError is a non-2xx answer from the service. Message holds the "error"
// field of a JSON body when present, otherwise status and body verbatim.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool { return target == ErrRequestRejected }

// ExecutionFailedError carries the last status observed before giving up.
type ExecutionFailedError struct {
	ExecutionID string
	Status      ExecutionStatus
}

func (e *ExecutionFailedError) Error() string {
	msg := fmt.Sprintf("execution %s failed", e.ExecutionID)
	if e.Status.Error != nil && e.Status.Error.Message != "" {
		msg += ": " + e.Status.Error.Message
	}
	return msg
}

func (e *ExecutionFailedError) Is(target error) bool { return target == ErrExecutionFailed }

type CancelledError struct {
	ExecutionID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("execution %s was cancelled", e.ExecutionID)
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// TimeoutError is local only: the remote execution may still be running.
type TimeoutError struct {
	ExecutionID string
	Timeout     time.Duration
	Elapsed     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution %s not finished after %s (timeout %s)", e.ExecutionID, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
