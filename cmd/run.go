package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/checkpoint"
	"github.com/sells-group/taxid-cli/internal/config"
	"github.com/sells-group/taxid-cli/internal/enrich"
	"github.com/sells-group/taxid-cli/internal/input"
	"github.com/sells-group/taxid-cli/internal/lookup"
	"github.com/sells-group/taxid-cli/internal/lookup/browser"
	"github.com/sells-group/taxid-cli/internal/lookup/httpform"
	"github.com/sells-group/taxid-cli/internal/lookup/stub"
	"github.com/sells-group/taxid-cli/internal/metrics"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/operator"
	"github.com/sells-group/taxid-cli/internal/resilience"
	"github.com/sells-group/taxid-cli/internal/tabular"
)

var (
	runInput       string
	runOutput      string
	runWorkers     int
	runOffline     bool
	runYes         bool
	runRetryErrors bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Look up every pending company in the input sheet",
	Long:  "Resumes from the output store, looks up the companies not yet processed with a pool of workers, and writes previous plus new results back to the store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := runBatch(ctx, cfg, os.Stdin, cmd.OutOrStdout())
		if summary != nil {
			renderSummary(cmd.OutOrStdout(), summary)
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "input spreadsheet (overrides input.path)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "output store (overrides output.path)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "number of workers (overrides workers.count)")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "use offline stub sessions instead of the lookup site")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "confirm every prompt automatically")
	runCmd.Flags().BoolVar(&runRetryErrors, "retry-errors", false, "look up again rows whose previous result is an error")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags copies explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		c.Input.Path = runInput
	}
	if flags.Changed("output") {
		c.Output.Path = runOutput
	}
	if flags.Changed("workers") {
		c.Workers.Count = runWorkers
	}
	if runOffline {
		c.Lookup.Driver = config.LookupOffline
	}
}

// runBatch wires the stores, lookup adapter and prompter for one run.
func runBatch(ctx context.Context, c *config.Config, in *os.File, out io.Writer) (*enrich.Summary, error) {
	go func() {
		if err := metrics.Serve(ctx, c.Metrics.Addr); err != nil {
			zap.L().Error("metrics listener stopped", zap.Error(err))
		}
	}()

	sheet, err := loadInput(c.Input)
	if err != nil {
		return nil, err
	}

	gate := enrich.NewGate()
	prompter := operator.ForTerminal(in, out, runYes, time.Duration(c.Workers.SessionBackoffSecs)*time.Second)

	store, err := checkpoint.Open(ctx, storeOptions(c, sheet.Layout()))
	if err != nil {
		return nil, eris.Wrap(err, "open output store")
	}
	cp := checkpoint.NewCheckpointer(store, gate, prompter, checkpointRetry(c.Output.Retry))
	defer cp.Close() //nolint:errcheck

	opener, err := newOpener(c.Lookup)
	if err != nil {
		return nil, err
	}

	runner, err := enrich.NewRunner(runnerConfig(c), enrich.Deps{
		Opener:     opener,
		Loader:     cp,
		Saver:      cp,
		Prompter:   prompter,
		Classifier: newClassifier(c.Lookup),
		Gate:       gate,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("run: starting",
		zap.String("input", c.Input.Path),
		zap.String("output", cp.Location()),
		zap.String("lookup", c.Lookup.Driver),
		zap.Int("workers", c.Workers.Count),
	)
	return runner.Run(ctx, sheet.Records)
}

func loadInput(c config.InputConfig) (*input.Sheet, error) {
	return input.Load(c.Path, input.Options{
		Options: tabular.Options{
			SheetName: c.Sheet,
			Encoding:  c.Encoding,
		},
		KeyColumn:  c.KeyColumn,
		AuxColumns: c.AuxColumns,
	})
}

func storeOptions(c *config.Config, layout model.Layout) checkpoint.Options {
	return checkpoint.Options{
		Driver:      c.Output.Driver,
		Path:        c.Output.Path,
		DatabaseURL: c.Output.DatabaseURL,
		Layout:      layout,
		SheetName:   c.Output.Sheet,
		BusyTimeout: time.Duration(c.Output.BusyTimeoutMs) * time.Millisecond,
	}
}

func checkpointRetry(r config.RetryConfig) resilience.RetryConfig {
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

func runnerConfig(c *config.Config) enrich.Config {
	return enrich.Config{
		Workers: c.Workers.Count,
		Stagger: time.Duration(c.Workers.StaggerMs) * time.Millisecond,
		Worker: enrich.WorkerConfig{
			ItemDelay:    time.Duration(c.Workers.ItemDelayMs) * time.Millisecond,
			SessionRetry: resilience.FixedRetry(c.Workers.SessionAttempts, time.Duration(c.Workers.SessionBackoffSecs)*time.Second),
		},
		Coordinator: enrich.CoordinatorConfig{
			PollInterval:       time.Duration(c.Coordinator.PollIntervalSecs) * time.Second,
			CheckpointInterval: time.Duration(c.Coordinator.CheckpointIntervalSecs) * time.Second,
		},
		RetryFailed:  runRetryErrors,
		ConfirmStart: !runYes,
	}
}

func newClassifier(c config.LookupConfig) *enrich.Classifier {
	kw := enrich.DefaultKeywords()
	if len(c.Keywords.Active) > 0 {
		kw.Active = c.Keywords.Active
	}
	if len(c.Keywords.Inactive) > 0 {
		kw.Inactive = c.Keywords.Inactive
	}
	if len(c.Keywords.Suspended) > 0 {
		kw.Suspended = c.Keywords.Suspended
	}
	return enrich.NewClassifier(kw, c.PreferredPrefix)
}

// newOpener builds the lookup adapter named by c.Driver.
func newOpener(c config.LookupConfig) (lookup.Opener, error) {
	if c.Driver == config.LookupOffline {
		return &stub.Opener{}, nil
	}
	ex, err := lookup.NewExtractor(c.IdentifierPattern)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(c.TimeoutSecs) * time.Second
	switch c.Driver {
	case config.LookupHTTP:
		return httpform.New(httpform.Config{
			URL:         c.URL,
			Method:      c.HTTP.Method,
			QueryParam:  c.HTTP.QueryParam,
			ExtraParams: c.HTTP.ExtraParams,
			Timeout:     timeout,
			RatePerSec:  c.RatePerSec,
			UserAgent:   c.HTTP.UserAgent,
		}, ex)
	case config.LookupBrowser:
		return browser.New(browser.Config{
			URL:            c.URL,
			Headless:       c.Browser.Headless,
			VisibleWorker:  c.Browser.VisibleWorker,
			ExecPath:       c.Browser.ExecPath,
			TabSelector:    c.Browser.TabSelector,
			InputSelector:  c.Browser.InputSelector,
			SubmitSelector: c.Browser.SubmitSelector,
			Timeout:        timeout,
			PageWait:       time.Duration(c.PageWaitMs) * time.Millisecond,
		}, ex)
	default:
		return nil, eris.Errorf("unknown lookup driver %q", c.Driver)
	}
}

func renderSummary(w io.Writer, s *enrich.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Run summary")
	t.AppendRows([]table.Row{
		{"Inputs", s.Inputs},
		{"Already processed", s.Previous},
		{"Pending", s.Pending},
		{"Looked up", s.LookedUp},
		{"Duplicates skipped", s.DuplicatesSaved},
		{"Workers (failed)", fmt.Sprintf("%d (%d)", s.Workers, s.WorkersFailed)},
		{"Incidents", s.Incidents},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Rows in output", s.Total},
		{"With RUC", s.Found},
		{"Not found", s.Count(model.StatusNotFound)},
		{"Errors", s.Count(model.StatusError)},
		{"Connection errors", s.Count(model.StatusConnectionError)},
	})
	t.AppendFooter(table.Row{"Duration", s.Duration.Round(time.Second).String()})
	if s.Interrupted {
		t.AppendFooter(table.Row{"Interrupted", "run again to resume"})
	}
	t.Render()
}
