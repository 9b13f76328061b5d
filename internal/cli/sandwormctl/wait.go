package sandwormctl

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/sandworm/sandworm/dune"
	"github.com/sandworm/sandworm/internal/journal"
)

// runFlags bundle what run-sql, run-query and wait accept.
type runFlags struct {
	results resultFlags
	exports exportFlags
}

func (f *runFlags) bind(cmd *cobra.Command) {
	f.results.bind(cmd)
	f.exports.bind(cmd)
}

func (f runFlags) validate(defaultFormat string) (dune.ResultOptions, error) {
	opts, err := f.results.options(defaultFormat)
	if err != nil {
		return dune.ResultOptions{}, err
	}
	if _, err := f.exports.validate(); err != nil {
		return dune.ResultOptions{}, err
	}
	return opts, nil
}

func newRunSQLCommand(a *app) *cobra.Command {
	var (
		submit submitFlags
		run    runFlags
	)
	cmd := &cobra.Command{
		Use:   "run-sql <sql>",
		Short: "Submit inline SQL, wait for it and print the results",
		Args:  exactArgs("sql"),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := submit.sqlRequest(args[0])
			if err != nil {
				return err
			}
			opts, err := run.validate(a.cfg.API.Output)
			if err != nil {
				return err
			}
			client, err := a.duneClient()
			if err != nil {
				return err
			}
			handle, err := client.SubmitSQL(cmd.Context(), req)
			if err != nil {
				return err
			}
			a.recordSubmission(cmd.Context(), journal.Submission{
				ExecutionID: handle.ExecutionID,
				Kind:        journal.KindSQL,
				SQLText:     req.SQL,
			})
			return a.waitAndEmit(cmd.Context(), cmd.OutOrStdout(), client, handle.ExecutionID, opts, run)
		},
	}
	submit.bind(cmd)
	run.bind(cmd)
	return cmd
}

func newRunQueryCommand(a *app) *cobra.Command {
	var (
		submit submitFlags
		run    runFlags
	)
	cmd := &cobra.Command{
		Use:   "run-query <query-id>",
		Short: "Run a saved query, wait for it and print the results",
		Args:  exactArgs("query-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			queryID, err := parseQueryID(args[0])
			if err != nil {
				return err
			}
			req, err := submit.queryRequest()
			if err != nil {
				return err
			}
			opts, err := run.validate(a.cfg.API.Output)
			if err != nil {
				return err
			}
			client, err := a.duneClient()
			if err != nil {
				return err
			}
			handle, err := client.SubmitQuery(cmd.Context(), queryID, req)
			if err != nil {
				return err
			}
			a.recordSubmission(cmd.Context(), journal.Submission{
				ExecutionID: handle.ExecutionID,
				Kind:        journal.KindQuery,
				QueryID:     &queryID,
			})
			return a.waitAndEmit(cmd.Context(), cmd.OutOrStdout(), client, handle.ExecutionID, opts, run)
		},
	}
	submit.bind(cmd)
	run.bind(cmd)
	return cmd
}

func newWaitCommand(a *app) *cobra.Command {
	var run runFlags
	cmd := &cobra.Command{
		Use:   "wait <execution-id>",
		Short: "Wait for an existing execution and print its results",
		Args:  exactArgs("execution-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := run.validate(a.cfg.API.Output)
			if err != nil {
				return err
			}
			client, err := a.duneClient()
			if err != nil {
				return err
			}
			return a.waitAndEmit(cmd.Context(), cmd.OutOrStdout(), client, args[0], opts, run)
		},
	}
	run.bind(cmd)
	return cmd
}

// waitAndEmit waits for executionID and then prints or exports its
// results. The wait itself fetches the default page; narrowed result flags
// or CSV output trigger one more fetch.
func (a *app) waitAndEmit(ctx context.Context, w io.Writer, client *dune.Client, executionID string, opts dune.ResultOptions, run runFlags) error {
	rs, err := a.wait(ctx, client, executionID)
	if err != nil {
		return err
	}
	if opts.Format == dune.FormatCSV && run.exports.format == "" {
		body, err := client.ResultsCSV(ctx, executionID, opts)
		if err != nil {
			return err
		}
		return writeText(w, body)
	}
	if run.results.narrowed() {
		rs, err = client.Results(ctx, executionID, opts)
		if err != nil {
			return err
		}
	}
	return a.emit(ctx, w, rs, run.exports)
}
