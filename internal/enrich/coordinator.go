package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/metrics"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/operator"
	"github.com/sells-group/taxid-cli/internal/resilience"
)

// ErrNoWorkersAlive is returned when an incident leaves no worker able to
// continue. Progress is already persisted; a later run resumes from it.
var ErrNoWorkersAlive = eris.New("enrich: no workers alive")

// Saver persists the full result collection. force asks the implementation
// to keep retrying non-lock failures instead of returning them.
type Saver interface {
	Save(ctx context.Context, results []model.ResultRecord, force bool) error
}

// CoordinatorConfig holds the supervisory loop timing.
type CoordinatorConfig struct {
	PollInterval       time.Duration
	CheckpointInterval time.Duration
}

// Coordinator watches the gate for connection incidents and writes
// periodic checkpoints while workers run.
type Coordinator struct {
	cfg      CoordinatorConfig
	gate     *resilience.Gate
	results  *Collection
	saver    Saver
	prompter operator.Prompter
	workers  []*Worker

	handled   uint64
	lastSaved int
	lastTotal int
	lastSave  time.Time
	nowFunc   func() time.Time
}

// NewCoordinator wires a coordinator over the given workers.
func NewCoordinator(cfg CoordinatorConfig, gate *resilience.Gate, results *Collection, saver Saver,
	prompter operator.Prompter, workers []*Worker) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Coordinator{
		cfg:      cfg,
		gate:     gate,
		results:  results,
		saver:    saver,
		prompter: prompter,
		workers:  workers,
		nowFunc:  time.Now,
	}
}

// Run polls until done is closed or ctx ends. It returns ErrNoWorkersAlive
// or operator.ErrAborted when the run must stop early, nil otherwise.
func (c *Coordinator) Run(ctx context.Context, done <-chan struct{}) error {
	c.lastSave = c.nowFunc()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := c.tick(ctx); err != nil {
			return err
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) error {
	if in, ok := c.gate.Incident(); ok && in.Cause == resilience.CauseConnection && in.Seq != c.handled {
		c.handled = in.Seq
		return c.handleIncident(ctx, in)
	}

	alive, _ := c.liveness()
	metrics.SetWorkersAlive(alive)

	if !c.gate.Running() {
		return nil
	}
	n := c.results.Len()
	if n > c.lastSaved && c.nowFunc().Sub(c.lastSave) >= c.cfg.CheckpointInterval {
		c.checkpoint(ctx, false)
	}
	return nil
}

func (c *Coordinator) handleIncident(ctx context.Context, in resilience.Incident) error {
	zap.L().Warn("coordinator: connection incident, all workers paused",
		zap.Uint64("incident", in.Seq),
		zap.String("source", in.Source),
		zap.Error(in.Err),
	)
	c.checkpoint(ctx, true)

	alive, total := c.liveness()
	metrics.SetWorkersAlive(alive)
	zap.L().Info("coordinator: worker liveness", zap.Int("alive", alive), zap.Int("total", total))

	p := operator.Prompt{
		Kind:  operator.KindIncidentRecovery,
		Title: "Connection lost: all workers paused",
		Lines: []string{
			fmt.Sprintf("Triggered by %s: %v", in.Source, in.Err),
			fmt.Sprintf("Progress saved: %d records", c.lastTotal),
			fmt.Sprintf("Workers alive: %d/%d", alive, total),
			"Check the connection, then confirm to resume.",
			"If no worker is left the run ends and the next run resumes from the saved file.",
		},
	}
	if err := c.prompter.Confirm(ctx, p); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return eris.Wrap(err, "coordinator: incident prompt")
	}

	if alive, _ = c.liveness(); alive == 0 {
		zap.L().Error("coordinator: no workers left, ending run")
		return ErrNoWorkersAlive
	}
	if c.gate.Release(in.Seq) {
		zap.L().Info("coordinator: resuming workers", zap.Int("alive", alive))
	}
	return nil
}

func (c *Coordinator) checkpoint(ctx context.Context, force bool) {
	snap, n := c.results.Snapshot()
	if err := c.saver.Save(ctx, snap, force); err != nil {
		zap.L().Error("coordinator: checkpoint failed", zap.Error(err), zap.Int("records", len(snap)))
		return
	}
	c.lastSaved = n
	c.lastTotal = len(snap)
	c.lastSave = c.nowFunc()
	zap.L().Info("coordinator: checkpoint written", zap.Int("records", len(snap)), zap.Bool("forced", force))
}

func (c *Coordinator) liveness() (alive, total int) {
	for _, w := range c.workers {
		if w.State().Alive() {
			alive++
		}
	}
	return alive, len(c.workers)
}
