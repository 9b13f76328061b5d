package observability

import (
	"context"
	"errors"
	"time"

	"github.com/sandworm/sandworm/dune"
)

// PollObserver counts every status poll by state and then hands the event
// to next, which may be nil. The result is safe for concurrent use when next
// is.
func PollObserver(next func(dune.PollEvent)) func(dune.PollEvent) {
	return func(event dune.PollEvent) {
		statusPollsTotal.WithLabelValues(event.State.Short()).Inc()
		if next != nil {
			next(event)
		}
	}
}

// ObserveWait records how a wait loop ended.
func ObserveWait(err error, elapsed time.Duration) {
	waitsTotal.WithLabelValues(WaitOutcome(err)).Inc()
	observeWaitDuration(elapsed)
}

// WaitOutcome maps a wait error onto a bounded label value.
func WaitOutcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, dune.ErrExecutionFailed):
		return "failed"
	case errors.Is(err, dune.ErrCancelled):
		return "cancelled"
	case errors.Is(err, dune.ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "interrupted"
	case errors.Is(err, dune.ErrTransport):
		return "transport_error"
	case errors.Is(err, dune.ErrRequestRejected):
		return "rejected"
	case errors.Is(err, dune.ErrDecode):
		return "decode_error"
	default:
		return "error"
	}
}
