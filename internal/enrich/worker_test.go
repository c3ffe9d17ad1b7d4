package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxid-cli/internal/lookup"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/resilience"
)

func newTestWorker(items []model.InputRecord, op lookup.Opener, gate *resilience.Gate, results *Collection) *Worker {
	return NewWorker(0, items, op, gate, results, NewClassifier(DefaultKeywords(), "20"), WorkerConfig{
		SessionRetry: resilience.FixedRetry(2, time.Millisecond),
	})
}

func TestWorker_VariantFallback(t *testing.T) {
	var tried []string
	op := newFakeOpener(func(int, int) (fetchFunc, error) {
		return func(_ context.Context, v string) (lookup.Outcome, error) {
			tried = append(tried, v)
			if v == "ALFA BETA" {
				return lookup.Outcome{Candidates: []string{"20100000001"}, Text: "SUSPENSION"}, nil
			}
			return lookup.Outcome{Text: "No se encontraron resultados"}, nil
		}, nil
	})
	results := NewCollection(nil)
	w := newTestWorker(inputs("Alfa Beta Gamma Delta S.A.C."), op, resilience.NewGate(resilience.GateConfig{}), results)

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, StateDrained, w.State())
	assert.Equal(t, []string{"ALFA BETA GAMMA DELTA", "ALFA BETA GAMMA", "ALFA BETA"}, tried)

	got := results.Added()
	require.Len(t, got, 1)
	assert.Equal(t, model.StatusSuspended, got[0].Status)
	assert.Equal(t, "20100000001", got[0].Identifier)
	assert.Equal(t, "Exito (variante: ALFA BETA)", got[0].Note)
	assert.Equal(t, "Alfa Beta Gamma Delta S.A.C.", got[0].InputKey)
}

func TestWorker_ItemErrorDoesNotPause(t *testing.T) {
	op := newFakeOpener(func(int, int) (fetchFunc, error) {
		return func(_ context.Context, v string) (lookup.Outcome, error) {
			if v == "BROKEN" {
				return lookup.Outcome{}, eris.New("element not interactable")
			}
			return lookup.Outcome{}, nil
		}, nil
	})
	gate := resilience.NewGate(resilience.GateConfig{})
	results := NewCollection(nil)
	w := newTestWorker(inputs("BROKEN", "FINE", ""), op, gate, results)

	require.NoError(t, w.Run(context.Background()))
	assert.True(t, gate.Running())
	assert.Equal(t, 0, gate.Trips())

	got := byIndex(results.Added())
	require.Len(t, got, 3)
	assert.Equal(t, model.StatusError, got[0].Status)
	assert.Contains(t, got[0].Note, "element not interactable")
	assert.Equal(t, model.StatusNotFound, got[1].Status)
	assert.Equal(t, model.StatusNotFound, got[2].Status, "empty key has no variants")
	assert.Equal(t, 2, op.Calls(0), "empty key never reaches the session")
}

func TestWorker_SessionStartFailure(t *testing.T) {
	op := newFakeOpener(func(int, int) (fetchFunc, error) {
		return nil, eris.New("chrome not reachable")
	})
	results := NewCollection(nil)
	w := newTestWorker(inputs("ACME"), op, resilience.NewGate(resilience.GateConfig{}), results)

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, StateFailed, w.State())
	assert.False(t, w.State().Alive())
	assert.Zero(t, results.Len())
}

func TestWorker_ConnectionErrorTripsAndRecovers(t *testing.T) {
	op := newFakeOpener(func(_ int, n int) (fetchFunc, error) {
		if n == 0 {
			return func(context.Context, string) (lookup.Outcome, error) {
				return lookup.Outcome{}, resilience.NewConnectionError(eris.New("net::ERR_INTERNET_DISCONNECTED"), "ERR_INTERNET_DISCONNECTED")
			}, nil
		}
		return found("20100000009"), nil
	})
	gate := resilience.NewGate(resilience.GateConfig{})
	results := NewCollection(nil)
	w := newTestWorker(inputs("ACME", "BETA"), op, gate, results)

	errc := make(chan error, 1)
	go func() { errc <- w.Run(context.Background()) }()

	require.Eventually(t, func() bool { return !gate.Running() }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return w.State() == StatePaused }, time.Second, time.Millisecond)
	assert.Equal(t, 1, results.Len(), "error record is appended before pausing")
	assert.True(t, op.sessions[0][0].closed.Load(), "dead session is closed")

	in, ok := gate.Incident()
	require.True(t, ok)
	assert.Equal(t, resilience.CauseConnection, in.Cause)
	assert.True(t, gate.Release(in.Seq))

	require.NoError(t, <-errc)
	assert.Equal(t, StateDrained, w.State())
	assert.Equal(t, 2, op.Opens(0))

	got := byIndex(results.Added())
	assert.Equal(t, model.StatusConnectionError, got[0].Status)
	assert.Equal(t, "ERROR CONEXION: net::ERR_INTERNET_DISCONNECTED", got[0].Note)
	assert.Equal(t, model.StatusActive, got[1].Status)
	assert.Equal(t, 2, w.Processed())
}

func TestWorker_RecoveryExhausted(t *testing.T) {
	op := newFakeOpener(func(_ int, n int) (fetchFunc, error) {
		if n == 0 {
			return func(context.Context, string) (lookup.Outcome, error) {
				return lookup.Outcome{}, resilience.NewConnectionError(eris.New("invalid session id"), "invalid session id")
			}, nil
		}
		return nil, eris.New("cannot start browser")
	})
	gate := resilience.NewGate(resilience.GateConfig{})
	results := NewCollection(nil)
	w := newTestWorker(inputs("ACME", "BETA", "GAMMA"), op, gate, results)

	errc := make(chan error, 1)
	go func() { errc <- w.Run(context.Background()) }()
	require.Eventually(t, func() bool { return w.State() == StatePaused }, time.Second, time.Millisecond)
	in, ok := gate.Incident()
	require.True(t, ok)
	require.True(t, gate.Release(in.Seq))

	require.NoError(t, <-errc)
	assert.Equal(t, StateFailed, w.State())
	assert.Equal(t, 3, op.Opens(0), "first session plus two recovery attempts")
	assert.Equal(t, 1, results.Len(), "remaining items are left for a later run")
}

func TestWorker_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	op := newFakeOpener(func(int, int) (fetchFunc, error) {
		return func(ctx context.Context, _ string) (lookup.Outcome, error) {
			cancel()
			<-ctx.Done()
			return lookup.Outcome{}, ctx.Err()
		}, nil
	})
	results := NewCollection(nil)
	w := newTestWorker(inputs("ACME", "BETA"), op, resilience.NewGate(resilience.GateConfig{}), results)

	require.NoError(t, w.Run(ctx))
	assert.Equal(t, StateStopped, w.State())
	assert.Zero(t, results.Len(), "an item cut short by cancellation is not recorded")
}

func TestWorker_WaitsForGateBeforeEachItem(t *testing.T) {
	gate := resilience.NewGate(resilience.GateConfig{})
	lock, _ := gate.Trip(resilience.CauseStoreLocked, "checkpoint", nil)
	op := newFakeOpener(func(int, int) (fetchFunc, error) { return found("20100000001"), nil })
	results := NewCollection(nil)
	w := newTestWorker(inputs("ACME"), op, gate, results)

	errc := make(chan error, 1)
	go func() { errc <- w.Run(context.Background()) }()

	require.Eventually(t, func() bool { return w.State() == StatePaused }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, op.Calls(0))

	require.True(t, gate.Release(lock.Seq))
	require.NoError(t, <-errc)
	assert.Equal(t, 1, results.Len())
}

func TestWorkerState_String(t *testing.T) {
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "paused", StatePaused.String())
	assert.Equal(t, "drained", StateDrained.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", WorkerState(42).String())
}
