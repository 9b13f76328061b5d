package sandwormctl

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandworm/sandworm/dune"
	"github.com/sandworm/sandworm/internal/journal"
	"github.com/sandworm/sandworm/internal/observability"
)

func newExecuteSQLCommand(a *app) *cobra.Command {
	var submit submitFlags
	cmd := &cobra.Command{
		Use:   "execute-sql <sql>",
		Short: "Submit inline SQL and print the execution handle",
		Args:  exactArgs("sql"),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := submit.sqlRequest(args[0])
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
			return printJSON(cmd.OutOrStdout(), handle)
		},
	}
	submit.bind(cmd)
	return cmd
}

func newExecuteQueryCommand(a *app) *cobra.Command {
	var submit submitFlags
	cmd := &cobra.Command{
		Use:   "execute-query <query-id>",
		Short: "Submit a saved query and print the execution handle",
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
			return printJSON(cmd.OutOrStdout(), handle)
		},
	}
	submit.bind(cmd)
	return cmd
}

func newExecutePipelineCommand(a *app) *cobra.Command {
	var (
		submit submitFlags
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "execute-pipeline <query-id>",
		Short: "Submit a saved query together with its dependencies",
		Long: "Submit a saved query together with its dependencies. With --wait, every execution " +
			"of the pipeline is awaited concurrently and the result sets are printed in handle order.",
		Args: exactArgs("query-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			queryID, err := parseQueryID(args[0])
			if err != nil {
				return err
			}
			req, err := submit.queryRequest()
			if err != nil {
				return err
			}
			client, err := a.duneClient()
			if err != nil {
				return err
			}
			handle, err := client.SubmitPipeline(cmd.Context(), queryID, req)
			if err != nil {
				return err
			}
			a.recordSubmission(cmd.Context(), journal.Submission{
				ExecutionID: handle.ExecutionID,
				Kind:        journal.KindPipeline,
				QueryID:     &queryID,
			})
			for _, child := range handle.ChildExecutionIDs {
				a.recordSubmission(cmd.Context(), journal.Submission{
					ExecutionID:       child,
					Kind:              journal.KindQuery,
					ParentExecutionID: handle.ExecutionID,
				})
			}
			if !wait {
				return printJSON(cmd.OutOrStdout(), handle)
			}

			a.startSpinner("waiting for pipeline " + handle.ExecutionID)
			start := time.Now()
			waits, err := client.WaitEach(cmd.Context(), handle.ExecutionIDs(), a.waitTimeout)
			a.stopSpinner()
			observability.ObserveWait(err, time.Since(start))
			results := make([]dune.ResultSet, 0, len(waits))
			for _, w := range waits {
				a.recordOutcome(cmd.Context(), w.ExecutionID, w.Result, w.Err)
				results = append(results, w.Result)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	submit.bind(cmd)
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the pipeline and print every result set")
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Print one status snapshot of an execution",
		Args:  exactArgs("execution-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.duneClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

type cancelOutput struct {
	ExecutionID string `json:"execution_id"`
	Success     bool   `json:"success"`
}

func newCancelCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Request cancellation of an execution",
		Long:  "Request cancellation of an execution. Exits 1 when the service does not accept the request.",
		Args:  exactArgs("execution-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.duneClient()
			if err != nil {
				return err
			}
			ok, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), cancelOutput{ExecutionID: args[0], Success: ok}); err != nil {
				return err
			}
			if !ok {
				return errCancelRejected(args[0])
			}
			return nil
		},
	}
}

func errCancelRejected(executionID string) error {
	return fmt.Errorf("cancellation of %s was not accepted", executionID)
}
