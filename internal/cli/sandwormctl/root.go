package sandwormctl

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandworm/sandworm/dune"
)

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "sandwormctl",
		Short:         "Run and fetch Dune executions",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return usagef("a command is required")
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.apiKey, "api-key", "", "Dune API key (default from SANDWORM_API_KEY or DUNE_API_KEY)")
	flags.StringVar(&a.baseURL, "base-url", a.cfg.API.BaseURL, "API base URL")
	flags.DurationVar(&a.httpTimeout, "timeout", a.cfg.API.HTTPTimeout, "per-request HTTP timeout")
	flags.DurationVar(&a.pollInterval, "poll-interval", a.cfg.API.PollInterval, "status poll interval while waiting")
	flags.DurationVar(&a.waitTimeout, "wait-timeout", a.cfg.API.WaitTimeout, "how long to wait for an execution to finish")
	flags.StringVar(&a.profile, "profile", "", "profile from the user config file")
	flags.StringVarP(&a.output, "output", "o", a.cfg.API.Output, "default result format (json, csv)")
	flags.StringVar(&a.metricsOut, "metrics-out", "", "write client metrics in Prometheus text format to this file")
	flags.BoolVar(&a.progress, "progress", true, "show a spinner on stderr while waiting")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log every API request to stderr")

	root.AddCommand(
		newExecuteSQLCommand(a),
		newExecuteQueryCommand(a),
		newExecutePipelineCommand(a),
		newStatusCommand(a),
		newCancelCommand(a),
		newResultsCommand(a),
		newResultsCSVCommand(a),
		newLatestCommand(a),
		newLatestCSVCommand(a),
		newRunSQLCommand(a),
		newRunQueryCommand(a),
		newWaitCommand(a),
		newHistoryCommand(a),
		newConfigCommand(a),
	)
	return root
}

func exactArgs(names ...string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) == len(names) {
			return nil
		}
		if len(names) == 0 {
			return usagef("%s takes no arguments, got %d", cmd.Name(), len(args))
		}
		return usagef("%s expects %d argument(s) <%s>, got %d",
			cmd.Name(), len(names), strings.Join(names, "> <"), len(args))
	}
}

func parseQueryID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, usagef("invalid query id %q", raw)
	}
	return id, nil
}

// submitFlags are shared by every command that starts an execution.
type submitFlags struct {
	params      []string
	performance string
}

func (f *submitFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.params, "param", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&f.performance, "performance", "", "execution tier (medium, large)")
}

func (f submitFlags) parameters() (map[string]any, error) {
	if len(f.params) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(f.params))
	for _, raw := range f.params {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, usagef("invalid --param %q: want key=value", raw)
		}
		out[key] = value
	}
	return out, nil
}

func (f submitFlags) tier() (dune.Performance, error) {
	switch performance := dune.Performance(strings.ToLower(strings.TrimSpace(f.performance))); performance {
	case "", dune.PerformanceMedium, dune.PerformanceLarge:
		return performance, nil
	default:
		return "", usagef("invalid --performance %q: use medium or large", f.performance)
	}
}

func (f submitFlags) sqlRequest(sql string) (dune.SubmitSQLRequest, error) {
	params, err := f.parameters()
	if err != nil {
		return dune.SubmitSQLRequest{}, err
	}
	tier, err := f.tier()
	if err != nil {
		return dune.SubmitSQLRequest{}, err
	}
	return dune.SubmitSQLRequest{SQL: sql, QueryParameters: params, Performance: tier}, nil
}

func (f submitFlags) queryRequest() (dune.SubmitQueryRequest, error) {
	params, err := f.parameters()
	if err != nil {
		return dune.SubmitQueryRequest{}, err
	}
	tier, err := f.tier()
	if err != nil {
		return dune.SubmitQueryRequest{}, err
	}
	return dune.SubmitQueryRequest{QueryParameters: params, Performance: tier}, nil
}

// resultFlags select a page of results.
type resultFlags struct {
	limit        int
	offset       int
	sortBy       string
	columns      []string
	filters      string
	sampleCount  int
	allowPartial bool
	format       string
}

func (f *resultFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&f.limit, "limit", 0, "maximum number of rows")
	flags.IntVar(&f.offset, "offset", 0, "rows to skip")
	flags.StringVar(&f.sortBy, "sort-by", "", "sort expression, e.g. \"amount desc\"")
	flags.StringSliceVar(&f.columns, "columns", nil, "columns to return")
	flags.StringVar(&f.filters, "filters", "", "row filter expression")
	flags.IntVar(&f.sampleCount, "sample-count", 0, "return a uniform sample of this many rows")
	flags.BoolVar(&f.allowPartial, "allow-partial-results", false, "accept truncated results")
	flags.StringVar(&f.format, "format", "", "result format (json, csv); defaults to --output")
}

func (f resultFlags) options(defaultFormat string) (dune.ResultOptions, error) {
	if f.limit < 0 || f.offset < 0 || f.sampleCount < 0 {
		return dune.ResultOptions{}, usagef("--limit, --offset and --sample-count must not be negative")
	}
	format := f.format
	if format == "" {
		format = defaultFormat
	}
	opts := dune.ResultOptions{
		Limit:               f.limit,
		Offset:              f.offset,
		SortBy:              f.sortBy,
		Columns:             f.columns,
		Filters:             f.filters,
		SampleCount:         f.sampleCount,
		AllowPartialResults: f.allowPartial,
	}
	switch dune.Format(format) {
	case dune.FormatJSON, dune.FormatCSV:
		opts.Format = dune.Format(format)
	default:
		return dune.ResultOptions{}, usagef("unsupported --format %q: use json or csv", format)
	}
	return opts, nil
}

// narrowed reports whether any flag changes which rows are returned.
func (f resultFlags) narrowed() bool {
	return f.limit > 0 || f.offset > 0 || f.sortBy != "" || len(f.columns) > 0 ||
		f.filters != "" || f.sampleCount > 0 || f.allowPartial
}
