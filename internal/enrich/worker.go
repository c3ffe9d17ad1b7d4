package enrich

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/lookup"
	"github.com/sells-group/taxid-cli/internal/metrics"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/normalize"
	"github.com/sells-group/taxid-cli/internal/resilience"
)

// WorkerState is a worker's lifecycle position.
type WorkerState int32

const (
	StateStarting WorkerState = iota
	StateRunning
	StatePaused
	StateDrained
	StateFailed
	// StateStopped means the run was cancelled before the queue was empty.
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateDrained:
		return "drained"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Alive reports whether a worker in this state may still process items.
func (s WorkerState) Alive() bool {
	return s == StateStarting || s == StateRunning || s == StatePaused
}

// WorkerConfig holds per-worker pacing and recovery settings.
type WorkerConfig struct {
	// ItemDelay is slept between two items.
	ItemDelay time.Duration
	// SessionRetry bounds session re-acquisition after a connection error.
	SessionRetry resilience.RetryConfig
}

// Worker owns one lookup session and processes its queue in order.
type Worker struct {
	id         int
	items      []model.InputRecord
	opener     lookup.Opener
	gate       *resilience.Gate
	results    *Collection
	classifier *Classifier
	cfg        WorkerConfig

	state     atomic.Int32
	processed atomic.Int64
	session   lookup.Session
	log       *zap.Logger
}

// NewWorker creates a worker for the given queue.
func NewWorker(id int, items []model.InputRecord, opener lookup.Opener, gate *resilience.Gate,
	results *Collection, classifier *Classifier, cfg WorkerConfig) *Worker {
	return &Worker{
		id:         id,
		items:      items,
		opener:     opener,
		gate:       gate,
		results:    results,
		classifier: classifier,
		cfg:        cfg,
		log:        zap.L().With(zap.Int("worker_id", id)),
	}
}

// ID returns the worker number.
func (w *Worker) ID() int { return w.id }

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState { return WorkerState(w.state.Load()) }

// Processed returns how many items the worker has recorded.
func (w *Worker) Processed() int { return int(w.processed.Load()) }

// Queued returns the number of items assigned to the worker.
func (w *Worker) Queued() int { return len(w.items) }

func (w *Worker) setState(s WorkerState) {
	if prev := WorkerState(w.state.Swap(int32(s))); prev != s {
		w.log.Debug("worker: state", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Run processes the queue until it is empty, the session cannot be
// recovered, or ctx is cancelled. Item failures are recorded, never
// returned: Run always returns nil so one worker cannot stop the others.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateStarting)
	sess, err := w.opener.Open(ctx, w.id)
	if err != nil {
		w.setState(StateFailed)
		w.log.Error("worker: session start failed", zap.Error(err))
		return nil
	}
	w.session = sess
	defer w.closeSession()

	w.setState(StateRunning)
	w.log.Info("worker: started", zap.Int("queued", len(w.items)))

	for i, item := range w.items {
		if i > 0 && !w.sleep(ctx, w.cfg.ItemDelay) {
			w.stop()
			return nil
		}
		if !w.waitGate(ctx) {
			w.stop()
			return nil
		}

		rec, err := w.process(ctx, item)
		if err != nil {
			w.stop()
			return nil
		}
		w.results.Append(rec)
		w.processed.Add(1)
		metrics.ObserveItem(string(rec.Status))
		w.log.Info("worker: item done",
			zap.Int("index", rec.Index),
			zap.String("status", string(rec.Status)),
			zap.String("identifier", rec.Identifier),
			zap.Int("progress", i+1),
			zap.Int("queued", len(w.items)),
		)

		if rec.Status == model.StatusConnectionError {
			if !w.recover(ctx, rec) {
				return nil
			}
		}
	}

	w.setState(StateDrained)
	w.log.Info("worker: drained", zap.Int("processed", w.Processed()))
	return nil
}

// waitGate blocks while the gate is open. It returns false when ctx ends.
func (w *Worker) waitGate(ctx context.Context) bool {
	if w.gate.Running() {
		return ctx.Err() == nil
	}
	w.setState(StatePaused)
	if err := w.gate.Wait(ctx); err != nil {
		return false
	}
	w.setState(StateRunning)
	return true
}

// process looks item up, trying each search variant until one yields a
// candidate. The only error returned is ctx's.
func (w *Worker) process(ctx context.Context, item model.InputRecord) (model.ResultRecord, error) {
	rec := model.NewResult(item, w.id)
	variants := normalize.Variants(normalize.Key(item.Key))
	if len(variants) == 0 {
		return NotFound(rec), nil
	}

	for i, v := range variants {
		start := time.Now()
		out, err := w.session.Fetch(ctx, v)
		metrics.ObserveFetch(time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				return rec, ctx.Err()
			}
			sev := resilience.Classify(err)
			fields := []zap.Field{zap.Int("index", item.Index), zap.String("variant", v), zap.Stringer("severity", sev), zap.Error(err)}
			if sev == resilience.SeverityConnection {
				w.log.Error("worker: lookup failed", fields...)
			} else {
				w.log.Warn("worker: lookup failed", fields...)
			}
			return Failed(rec, err, sev == resilience.SeverityConnection), nil
		}
		if out.Found() {
			return w.classifier.Apply(rec, out, v, i), nil
		}
	}
	return NotFound(rec), nil
}

// recover pauses every worker, drops the dead session and, once the gate
// is released, opens a new one. It returns false when the worker must stop.
func (w *Worker) recover(ctx context.Context, rec model.ResultRecord) bool {
	w.setState(StatePaused)
	in, tripped := w.gate.Trip(resilience.CauseConnection, fmt.Sprintf("worker %d", w.id),
		resilience.NewConnectionError(eris.New(rec.Note), ""))
	if tripped {
		w.log.Warn("worker: paused all workers", zap.Uint64("incident", in.Seq), zap.Int("index", rec.Index))
	}
	w.closeSession()

	if err := w.gate.Wait(ctx); err != nil {
		w.stop()
		return false
	}

	retry := w.cfg.SessionRetry
	retry.OnRetry = resilience.RetryLogger("lookup", fmt.Sprintf("open_session worker %d", w.id))
	sess, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (lookup.Session, error) {
		return w.opener.Open(ctx, w.id)
	})
	if err != nil {
		if ctx.Err() != nil {
			w.stop()
			return false
		}
		w.setState(StateFailed)
		w.log.Error("worker: session not recovered, giving up", zap.Error(err))
		return false
	}
	w.session = sess
	w.setState(StateRunning)
	w.log.Info("worker: session recovered")
	return true
}

func (w *Worker) stop() {
	w.setState(StateStopped)
	w.log.Info("worker: stopped", zap.Int("processed", w.Processed()))
}

func (w *Worker) closeSession() {
	if w.session == nil {
		return
	}
	if err := w.session.Close(); err != nil {
		w.log.Debug("worker: close session", zap.Error(err))
	}
	w.session = nil
}

// sleep waits d or until ctx ends, reporting whether the full delay passed.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
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
