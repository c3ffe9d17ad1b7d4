// Package enrich runs the lookup workers over a resumable batch: it plans
// the pending work, fans it out to workers sharing one pause gate,
// supervises incidents and checkpoints, and writes the final output.
package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/taxid-cli/internal/batch"
	"github.com/sells-group/taxid-cli/internal/lookup"
	"github.com/sells-group/taxid-cli/internal/metrics"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/normalize"
	"github.com/sells-group/taxid-cli/internal/operator"
	"github.com/sells-group/taxid-cli/internal/resilience"
)

// Loader reads the results persisted by earlier runs.
type Loader interface {
	Load(ctx context.Context) ([]model.ResultRecord, error)
}

// Config tunes a run.
type Config struct {
	Workers     int
	Stagger     time.Duration
	Worker      WorkerConfig
	Coordinator CoordinatorConfig
	// RetryFailed looks up again indices whose previous result is ERROR or
	// CONNECTION_ERROR.
	RetryFailed bool
	// ConfirmStart shows the start prompt before workers launch.
	ConfirmStart bool
	// FinalSaveTimeout bounds the last save after an interrupt.
	FinalSaveTimeout time.Duration
}

// Deps are the collaborators of a run.
type Deps struct {
	Opener     lookup.Opener
	Loader     Loader
	Saver      Saver
	Prompter   operator.Prompter
	Classifier *Classifier
	// Gate is shared with the checkpoint writer so a locked store pauses
	// workers too. NewGate is used when nil.
	Gate *resilience.Gate
}

// NewGate returns a running gate that reports incidents to metrics.
func NewGate() *resilience.Gate {
	return resilience.NewGate(resilience.GateConfig{
		OnStateChange: func(_, to resilience.CircuitState, in resilience.Incident) {
			if to == resilience.CircuitOpen {
				metrics.ObserveIncident(in.Cause.String())
			}
		},
	})
}

// Runner executes one invocation.
type Runner struct {
	cfg  Config
	deps Deps
}

// NewRunner validates deps and returns a Runner.
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if deps.Opener == nil || deps.Loader == nil || deps.Saver == nil || deps.Prompter == nil {
		return nil, eris.New("enrich: opener, loader, saver and prompter are required")
	}
	if deps.Classifier == nil {
		deps.Classifier = NewClassifier(DefaultKeywords(), "20")
	}
	if deps.Gate == nil {
		deps.Gate = NewGate()
	}
	cfg.Workers = max(cfg.Workers, 1)
	if cfg.FinalSaveTimeout <= 0 {
		cfg.FinalSaveTimeout = 30 * time.Second
	}
	return &Runner{cfg: cfg, deps: deps}, nil
}

// Run resumes from the persisted results, looks up every pending input and
// persists previous plus new results. On interrupt it still writes what
// was collected and returns a summary with Interrupted set.
func (r *Runner) Run(ctx context.Context, inputs []model.InputRecord) (*Summary, error) {
	start := time.Now()

	previous, err := r.deps.Loader.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: load previous results")
	}
	plan := batch.NewPlan(inputs, previous, batch.PlanOptions{RetryFailed: r.cfg.RetryFailed, Key: normalize.Key})
	zap.L().Info("enrich: plan",
		zap.Int("inputs", len(inputs)),
		zap.Int("previous", len(plan.Previous)),
		zap.Int("pending", len(plan.Pending)),
		zap.Int("representatives", len(plan.Representative)),
		zap.Int("duplicates_saved", plan.Duplicates.Saved()),
	)
	if plan.Done() {
		zap.L().Info("enrich: nothing pending")
		s := Summarize(plan.Previous)
		s.Inputs = len(inputs)
		s.Previous = len(plan.Previous)
		s.Duration = time.Since(start)
		return s, nil
	}

	queues := batch.Distribute(plan.Representative, r.cfg.Workers)
	if r.cfg.ConfirmStart {
		if err := r.deps.Prompter.Confirm(ctx, r.startPrompt(plan, queues)); err != nil {
			return nil, eris.Wrap(err, "enrich: start prompt")
		}
	}

	results := NewCollection(plan.Previous)
	var workers []*Worker
	for id, q := range queues {
		if len(q) == 0 {
			continue
		}
		workers = append(workers, NewWorker(id, q, r.deps.Opener, r.deps.Gate, results, r.deps.Classifier, r.cfg.Worker))
	}
	metrics.SetWorkersAlive(len(workers))

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	done := make(chan struct{})
	go func() {
		defer close(done)
		g, gctx := errgroup.WithContext(workerCtx)
		for i, w := range workers {
			if i > 0 && !sleepCtx(gctx, r.cfg.Stagger) {
				break
			}
			g.Go(func() error { return w.Run(gctx) })
		}
		_ = g.Wait()
	}()

	coord := NewCoordinator(r.cfg.Coordinator, r.deps.Gate, results, r.deps.Saver, r.deps.Prompter, workers)
	coordErr := coord.Run(workerCtx, done)
	if coordErr != nil {
		zap.L().Warn("enrich: stopping workers", zap.Error(coordErr))
		cancelWorkers()
	}
	<-done
	metrics.SetWorkersAlive(0)

	interrupted := ctx.Err() != nil
	added := results.Added()
	final := plan.Finalize(added)
	zap.L().Info("enrich: replicated results",
		zap.Int("looked_up", len(added)),
		zap.Int("replicated", len(final)-len(plan.Previous)),
	)

	saveCtx := ctx
	if interrupted {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), r.cfg.FinalSaveTimeout)
		defer cancel()
		zap.L().Warn("enrich: interrupted, writing collected results", zap.Int("records", len(final)))
	}
	if err := r.deps.Saver.Save(saveCtx, final, true); err != nil {
		return nil, eris.Wrap(err, "enrich: final save")
	}

	s := Summarize(final)
	s.Inputs = len(inputs)
	s.Previous = len(plan.Previous)
	s.Pending = len(plan.Pending)
	s.LookedUp = len(added)
	s.DuplicatesSaved = plan.Duplicates.Saved()
	s.Workers = len(workers)
	for _, w := range workers {
		if w.State() == StateFailed {
			s.WorkersFailed++
		}
	}
	s.Incidents = r.deps.Gate.Trips()
	s.Interrupted = interrupted
	s.Duration = time.Since(start)
	zap.L().Info("enrich: run finished",
		zap.Int("total", s.Total),
		zap.Int("found", s.Found),
		zap.Int("not_found", s.Count(model.StatusNotFound)),
		zap.Int("errors", s.Count(model.StatusError)),
		zap.Int("connection_errors", s.Count(model.StatusConnectionError)),
		zap.Bool("interrupted", interrupted),
		zap.Duration("duration", s.Duration),
	)

	if coordErr != nil && !interrupted {
		return s, coordErr
	}
	return s, nil
}

func (r *Runner) startPrompt(plan *batch.Plan, queues [][]model.InputRecord) operator.Prompt {
	lines := []string{
		"Pending records: " + itoa(len(plan.Pending)),
		"Unique lookups: " + itoa(len(plan.Representative)),
		"Workers: " + itoa(len(queues)),
	}
	return operator.Prompt{Kind: operator.KindStart, Title: "Ready to start lookups", Lines: lines}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
