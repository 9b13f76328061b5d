package sandwormctl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/sandworm/sandworm/dune"
	"github.com/sandworm/sandworm/internal/config"
	"github.com/sandworm/sandworm/internal/journal"
	journalpg "github.com/sandworm/sandworm/internal/journal/postgres"
	"github.com/sandworm/sandworm/internal/observability"
	"github.com/sandworm/sandworm/internal/storage"
	"github.com/sandworm/sandworm/internal/storage/s3"
)

type app struct {
	opts   Options
	cfg    config.Config
	logger *slog.Logger

	apiKey       string
	baseURL      string
	profile      string
	output       string
	metricsOut   string
	httpTimeout  time.Duration
	pollInterval time.Duration
	waitTimeout  time.Duration
	progress     bool
	verbose      bool

	client    *dune.Client
	journal   journal.Repository
	journalDB *sql.DB
	store     storage.ObjectStore

	mu      sync.Mutex
	spinner *progressbar.ProgressBar
}

func newApp(opts Options, cfg config.Config) *app {
	return &app{
		opts:   opts,
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
	}
}

// resolve merges the profile file and command line flags over the
// environment config. Flags win, then env, then the profile file.
func (a *app) resolve(cmd *cobra.Command) error {
	userCfg, err := config.LoadUserConfig(a.opts.UserConfigPath)
	if err != nil {
		return err
	}
	if err := config.ApplyUserProfile(&a.cfg, userCfg.ActiveProfile(a.profile), a.opts.Lookup); err != nil {
		return &usageError{err: err}
	}

	flags := cmd.Flags()
	if flags.Changed("api-key") {
		a.cfg.API.Key = a.apiKey
	}
	if flags.Changed("base-url") {
		a.cfg.API.BaseURL = a.baseURL
	}
	if flags.Changed("timeout") {
		a.cfg.API.HTTPTimeout = a.httpTimeout
	}
	if flags.Changed("poll-interval") {
		a.cfg.API.PollInterval = a.pollInterval
	}
	if flags.Changed("output") {
		a.cfg.API.Output = a.output
	}
	if a.cfg.API.PollInterval <= 0 {
		return usagef("--poll-interval must be positive")
	}
	switch a.cfg.API.Output {
	case "json", "csv":
	default:
		return usagef("unsupported output %q: use json or csv", a.cfg.API.Output)
	}

	if _, ok := a.opts.Lookup("SANDWORM_LOG_LEVEL"); !ok && !a.verbose {
		a.cfg.Observability.LogLevel = slog.LevelWarn
	}
	if a.verbose {
		a.cfg.Observability.LogLevel = slog.LevelDebug
	}
	a.logger = observability.NewLogger(a.cfg, a.opts.Stderr).With(
		slog.String("trace_id", observability.TraceIDFromContext(cmd.Context())),
	)
	return nil
}

func (a *app) duneClient() (*dune.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	client, err := dune.New(dune.Config{
		APIKey:            a.cfg.API.Key,
		BaseURL:           a.cfg.API.BaseURL,
		Timeout:           a.cfg.API.HTTPTimeout,
		RoundTripper:      observability.NewRoundTripper(a.opts.RoundTripper, a.logger),
		RequestsPerSecond: a.cfg.API.RequestsPerSecond,
		PollInterval:      a.cfg.API.PollInterval,
		Logger:            a.logger,
		OnPoll:            observability.PollObserver(a.reportPoll),
	})
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

// journalRepo returns nil when no journal is configured.
func (a *app) journalRepo(ctx context.Context) (journal.Repository, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	if a.opts.Journal != nil {
		a.journal = a.opts.Journal
		return a.journal, nil
	}
	if a.cfg.Journal.DSN == "" {
		return nil, nil
	}
	db, err := journalpg.Open(ctx, a.cfg.Journal)
	if err != nil {
		return nil, err
	}
	a.journalDB = db
	a.journal = journalpg.NewRepository(db)
	return a.journal, nil
}

func (a *app) objectStore(ctx context.Context) (storage.ObjectStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	if a.opts.ObjectStore != nil {
		a.store = a.opts.ObjectStore
		return a.store, nil
	}
	store, err := s3.New(ctx, a.cfg.Export)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

func (a *app) recordSubmission(ctx context.Context, in journal.Submission) {
	repo, err := a.journalRepo(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "journal_unavailable", slog.Any("error", err))
		return
	}
	if repo == nil {
		return
	}
	if _, err := repo.RecordSubmission(ctx, in); err != nil {
		a.logger.WarnContext(ctx, "journal_record_failed",
			slog.String("execution_id", in.ExecutionID),
			slog.Any("error", err),
		)
	}
}

func (a *app) recordOutcome(ctx context.Context, executionID string, rs dune.ResultSet, waitErr error) {
	repo, err := a.journalRepo(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "journal_unavailable", slog.Any("error", err))
		return
	}
	if repo == nil {
		return
	}

	outcome := journal.Outcome{
		ExecutionID: executionID,
		Status:      observability.WaitOutcome(waitErr),
		FinishedAt:  a.opts.Now().UTC(),
	}
	if waitErr != nil {
		outcome.ErrorMessage = waitErr.Error()
	} else {
		rows := int64(rs.RowCount())
		outcome.RowCount = &rows
	}

	err = repo.RecordOutcome(ctx, outcome)
	switch {
	case err == nil:
	case errors.Is(err, journal.ErrNotFound):
		a.logger.DebugContext(ctx, "journal_entry_missing", slog.String("execution_id", executionID))
	default:
		a.logger.WarnContext(ctx, "journal_record_failed",
			slog.String("execution_id", executionID),
			slog.Any("error", err),
		)
	}
}

// wait blocks on one execution with the spinner running and records the
// outcome in metrics and the journal.
func (a *app) wait(ctx context.Context, client *dune.Client, executionID string) (dune.ResultSet, error) {
	a.logger.DebugContext(ctx, "execution_wait_started",
		slog.String("execution_id", executionID),
		slog.String("poll_interval", client.PollInterval().String()),
		slog.String("timeout", a.waitTimeout.String()),
	)
	a.startSpinner("waiting for " + executionID)
	start := time.Now()
	rs, err := client.WaitForResults(ctx, executionID, a.waitTimeout)
	a.stopSpinner()

	observability.ObserveWait(err, time.Since(start))
	a.recordOutcome(ctx, executionID, rs, err)
	return rs, err
}

func (a *app) startSpinner(description string) {
	if !a.progress {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spinner = progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(a.opts.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowBytes(false),
		progressbar.OptionClearOnFinish(),
	)
}

func (a *app) stopSpinner() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.spinner == nil {
		return
	}
	_ = a.spinner.Finish()
	a.spinner = nil
}

func (a *app) reportPoll(event dune.PollEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.spinner == nil {
		return
	}
	a.spinner.Describe(fmt.Sprintf("%s %s (poll %d, %s)",
		event.ExecutionID, event.State.Short(), event.Attempt, event.Elapsed.Round(time.Millisecond)))
	_ = a.spinner.Add(1)
}

func (a *app) writeMetrics() error {
	if a.metricsOut == "" {
		return nil
	}
	f, err := os.Create(a.metricsOut)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	if err := observability.WriteMetrics(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (a *app) close() {
	if a.journalDB != nil {
		_ = a.journalDB.Close()
	}
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
