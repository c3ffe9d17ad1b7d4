package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/metrics"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/operator"
	"github.com/sells-group/taxid-cli/internal/resilience"
)

// Checkpointer serializes saves to a Store. When the store is locked it
// pauses every worker through the gate, asks the operator to release the
// lock, and tries again until the save succeeds.
type Checkpointer struct {
	store    Store
	gate     *resilience.Gate
	prompter operator.Prompter
	retry    resilience.RetryConfig

	mu sync.Mutex
}

// NewCheckpointer wraps store. retry governs forced saves that fail for
// reasons other than a lock.
func NewCheckpointer(store Store, gate *resilience.Gate, prompter operator.Prompter, retry resilience.RetryConfig) *Checkpointer {
	return &Checkpointer{store: store, gate: gate, prompter: prompter, retry: retry}
}

// Load reads the stored results.
func (c *Checkpointer) Load(ctx context.Context) ([]model.ResultRecord, error) {
	results, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	zap.L().Info("checkpoint: loaded previous results",
		zap.String("store", c.store.Location()),
		zap.Int("records", len(results)),
	)
	return results, nil
}

// Save persists results. A locked store is retried for as long as the
// operator keeps confirming. Other failures are retried with backoff only
// when force is set.
func (c *Checkpointer) Save(ctx context.Context, results []model.ResultRecord, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	retry := resilience.RetryConfig{MaxAttempts: 1}
	if force {
		retry = c.retry
		retry.OnRetry = resilience.RetryLogger("checkpoint", "save")
	}
	retry.ShouldRetry = resilience.RetryExcept(ErrLocked)

	var (
		held     uint64
		holding  bool
		attempts int
	)
	release := func() {
		if holding && c.gate != nil && c.gate.Release(held) {
			zap.L().Info("checkpoint: lock released, resuming workers")
		}
	}

	for {
		err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return c.store.Save(ctx, results)
		})
		if err == nil {
			metrics.ObserveCheckpoint("ok")
			if attempts > 0 {
				zap.L().Info("checkpoint: saved after lock conflict", zap.Int("lock_attempts", attempts))
			}
			zap.L().Debug("checkpoint: saved", zap.String("store", c.store.Location()), zap.Int("records", len(results)))
			release()
			return nil
		}

		if !errors.Is(err, ErrLocked) {
			metrics.ObserveCheckpoint("error")
			release()
			return eris.Wrap(err, "checkpoint: save")
		}

		metrics.ObserveCheckpoint("locked")
		attempts++
		if c.gate != nil {
			if in, tripped := c.gate.Trip(resilience.CauseStoreLocked, "checkpoint", err); tripped {
				held, holding = in.Seq, true
			}
		}
		zap.L().Warn("checkpoint: store locked, workers paused",
			zap.String("store", c.store.Location()),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		if c.prompter == nil {
			release()
			return err
		}
		p := operator.Prompt{
			Kind:  operator.KindLockReleased,
			Title: "Output is locked: all workers paused",
			Lines: []string{
				fmt.Sprintf("%s is held by another program.", c.store.Location()),
				"Close it there, then confirm to retry. No result is lost while waiting.",
			},
		}
		if perr := c.prompter.Confirm(ctx, p); perr != nil {
			release()
			return eris.Wrap(perr, "checkpoint: lock prompt")
		}
	}
}

// Close closes the store.
func (c *Checkpointer) Close() error {
	return c.store.Close()
}

// Location names the underlying store.
func (c *Checkpointer) Location() string {
	return c.store.Location()
}
