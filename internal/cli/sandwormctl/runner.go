// Package sandwormctl is the command line front end: submit executions,
// wait for them, fetch and export their results.
package sandwormctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sandworm/sandworm/dune"
	"github.com/sandworm/sandworm/internal/config"
	"github.com/sandworm/sandworm/internal/journal"
	"github.com/sandworm/sandworm/internal/observability"
	"github.com/sandworm/sandworm/internal/storage"
)

const serviceName = "sandwormctl"

type Options struct {
	// Lookup resolves SANDWORM_* settings. Nil means an empty environment.
	Lookup         config.LookupFunc
	UserConfigPath string
	RoundTripper   http.RoundTripper
	// Journal and ObjectStore replace the backends built from config.
	Journal     journal.Repository
	ObjectStore storage.ObjectStore
	Stdout      io.Writer
	Stderr      io.Writer
	Now         func() time.Time
}

// Run executes one command line and returns the process exit code:
// 0 on success, 1 on runtime failure, 2 on usage errors.
func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.Lookup == nil {
		opts.Lookup = func(string) (string, bool) { return "", false }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cfg, err := config.Load(serviceName, opts.Lookup)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "config error: %v\n", err)
		return 2
	}

	// Every request of one invocation shares a trace id.
	if observability.TraceIDFromContext(ctx) == "" {
		ctx = observability.ContextWithTraceID(ctx, uuid.NewString())
	}

	a := newApp(opts, cfg)
	defer a.close()

	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	err = root.ExecuteContext(ctx)
	if metricsErr := a.writeMetrics(); metricsErr != nil && err == nil {
		err = metricsErr
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var usage *usageError
	switch {
	case errors.As(err, &usage):
		return 2
	case errors.Is(err, dune.ErrInvalidCredential), errors.Is(err, dune.ErrInvalidRequest):
		return 2
	default:
		return 1
	}
}
