package enrich

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxid-cli/internal/lookup"
	"github.com/sells-group/taxid-cli/internal/lookup/stub"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/operator"
	"github.com/sells-group/taxid-cli/internal/resilience"
)

func testConfig(workers int) Config {
	return Config{
		Workers: workers,
		Worker: WorkerConfig{
			ItemDelay:    time.Millisecond,
			SessionRetry: resilience.FixedRetry(2, time.Millisecond),
		},
		Coordinator: CoordinatorConfig{
			PollInterval:       2 * time.Millisecond,
			CheckpointInterval: time.Hour,
		},
	}
}

func newTestRunner(t *testing.T, cfg Config, op lookup.Opener, store *memStore, p operator.Prompter) *Runner {
	t.Helper()
	r, err := NewRunner(cfg, Deps{Opener: op, Loader: store, Saver: store, Prompter: p})
	require.NoError(t, err)
	return r
}

func TestNewRunner_RequiresDeps(t *testing.T) {
	_, err := NewRunner(Config{}, Deps{})
	assert.Error(t, err)
}

func TestRunner_DedupesReplicatesAndPersists(t *testing.T) {
	store := &memStore{}
	op := &stub.Opener{}
	r := newTestRunner(t, testConfig(2), op, store, &funcPrompter{})

	in := inputs("ACME SAC", "Acme S.A.C.", "BETA SA", "ACME SAC")
	s, err := r.Run(context.Background(), in)
	require.NoError(t, err)

	final := store.Last()
	require.True(t, final.force)
	got := byIndex(final.results)
	require.Len(t, got, 4)
	assert.Equal(t, got[0].Status, got[1].Status)
	assert.Equal(t, got[0].Identifier, got[1].Identifier)
	assert.True(t, strings.HasSuffix(got[1].Note, " (duplicado)"))
	assert.Equal(t, "Acme S.A.C.", got[1].InputKey)
	assert.False(t, strings.HasSuffix(got[3].Note, " (duplicado)"), "non-consecutive repeat is looked up again")

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 3, s.LookedUp)
	assert.Equal(t, 1, s.DuplicatesSaved)
	assert.Equal(t, 2, s.Workers)
	assert.False(t, s.Interrupted)
}

func TestRunner_ResumeIsIdempotent(t *testing.T) {
	store := &memStore{}
	in := inputs("ACME SAC", "ACME SAC", "BETA SA", "GAMMA EIRL", "DELTA SRL")

	first := newTestRunner(t, testConfig(3), &stub.Opener{}, store, &funcPrompter{})
	_, err := first.Run(context.Background(), in)
	require.NoError(t, err)
	out := store.Last().results
	savesAfterFirst := len(store.Saves())

	op := &stub.Opener{}
	second := newTestRunner(t, testConfig(3), op, store, &funcPrompter{})
	s, err := second.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Zero(t, op.Opened(), "nothing pending, no session opened")
	assert.Len(t, store.Saves(), savesAfterFirst)
	assert.ElementsMatch(t, out, store.previous)
	assert.Equal(t, len(in), s.Total)
}

func TestRunner_ResumeSkipsProcessedIndices(t *testing.T) {
	store := &memStore{previous: []model.ResultRecord{
		{Index: 2, Status: model.StatusNotFound, Note: NoteNotFound},
		{Index: 0, Identifier: "20100000001", Status: model.StatusActive, Note: NoteFound},
		{Index: 1, Status: model.StatusError, Note: "boom"},
	}}
	var mu sync.Mutex
	var seen []string
	op := newFakeOpener(func(int, int) (fetchFunc, error) {
		return func(_ context.Context, v string) (lookup.Outcome, error) {
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
			return lookup.Outcome{}, nil
		}, nil
	})

	r := newTestRunner(t, testConfig(1), op, store, &funcPrompter{})
	_, err := r.Run(context.Background(), inputs("A", "B", "C", "D"))
	require.NoError(t, err)
	assert.Equal(t, []string{"D"}, seen)

	final := byIndex(store.Last().results)
	require.Len(t, final, 4)
	assert.Equal(t, "20100000001", final[0].Identifier)
	assert.Equal(t, model.StatusError, final[1].Status)
}

func TestRunner_RetryFailed(t *testing.T) {
	store := &memStore{previous: []model.ResultRecord{
		{Index: 0, Status: model.StatusActive, Identifier: "20100000001"},
		{Index: 1, Status: model.StatusConnectionError, Note: "ERROR CONEXION: x"},
	}}
	op := newFakeOpener(func(int, int) (fetchFunc, error) { return found("20100000002"), nil })
	cfg := testConfig(1)
	cfg.RetryFailed = true

	r := newTestRunner(t, cfg, op, store, &funcPrompter{})
	_, err := r.Run(context.Background(), inputs("A", "B"))
	require.NoError(t, err)

	final := byIndex(store.Last().results)
	require.Len(t, final, 2)
	assert.Equal(t, model.StatusActive, final[1].Status)
	assert.Equal(t, "20100000002", final[1].Identifier)
}

// A connection error on one worker pauses every worker, is part of the
// forced checkpoint, and no other worker starts an item until the operator
// confirms.
func TestRunner_CircuitBreaker(t *testing.T) {
	store := &memStore{}
	op := newFakeOpener(func(workerID, n int) (fetchFunc, error) {
		if workerID == 0 && n == 0 {
			return func(context.Context, string) (lookup.Outcome, error) {
				return lookup.Outcome{}, resilience.NewConnectionError(eris.New("net::ERR_CONNECTION_RESET"), "ERR_CONNECTION_RESET")
			}, nil
		}
		return func(ctx context.Context, v string) (lookup.Outcome, error) {
			select {
			case <-time.After(5 * time.Millisecond):
			case <-ctx.Done():
				return lookup.Outcome{}, ctx.Err()
			}
			return lookup.Outcome{Candidates: []string{"20100000001"}, Text: v + " ACTIVO"}, nil
		}, nil
	})

	gate := NewGate()
	var (
		mu             sync.Mutex
		gateWasRunning = true
		forced         save
		callsAtPrompt  int
		callsLater     int
	)
	p := &funcPrompter{fn: func(_ context.Context, pr operator.Prompt) error {
		if pr.Kind != operator.KindIncidentRecovery {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		gateWasRunning = gate.Running()
		forced = store.Last()
		callsAtPrompt = op.Calls(1)
		time.Sleep(50 * time.Millisecond)
		callsLater = op.Calls(1)
		return nil
	}}

	r, err := NewRunner(testConfig(2), Deps{Opener: op, Loader: store, Saver: store, Prompter: p, Gate: gate})
	require.NoError(t, err)
	s, err := r.Run(context.Background(), inputs("ALFA", "BETA", "GAMA", "DELTA", "EPSILON", "ZETA"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, gateWasRunning, "gate stays open until the operator confirms")
	assert.True(t, forced.force)
	forcedByIndex := byIndex(forced.results)
	require.Contains(t, forcedByIndex, 0)
	assert.Equal(t, model.StatusConnectionError, forcedByIndex[0].Status)
	assert.Equal(t, callsAtPrompt, callsLater, "no item started while paused")

	assert.Equal(t, 2, op.Opens(0), "worker 0 reopened its session")
	assert.Equal(t, 1, s.Incidents)
	final := byIndex(store.Last().results)
	require.Len(t, final, 6)
	assert.Equal(t, model.StatusConnectionError, final[0].Status)
	assert.True(t, strings.HasPrefix(final[0].Note, NoteConnectionError))
	for i := 1; i < 6; i++ {
		assert.Equal(t, model.StatusActive, final[i].Status, "index %d", i)
	}
	assert.Equal(t, 1, s.Count(model.StatusConnectionError))
}

func TestRunner_AllSessionsFailToStart(t *testing.T) {
	store := &memStore{previous: []model.ResultRecord{{Index: 0, Status: model.StatusActive}}}
	op := newFakeOpener(func(int, int) (fetchFunc, error) { return nil, eris.New("chrome not reachable") })

	r := newTestRunner(t, testConfig(2), op, store, &funcPrompter{})
	s, err := r.Run(context.Background(), inputs("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, 2, s.WorkersFailed)
	assert.Equal(t, []int{0}, indicesOf(store.Last().results), "previous results survive")
}

func TestRunner_InterruptStillPersists(t *testing.T) {
	store := &memStore{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	op := newFakeOpener(func(int, int) (fetchFunc, error) {
		return func(ctx context.Context, v string) (lookup.Outcome, error) {
			if v == "STOP" {
				cancel()
				<-ctx.Done()
				return lookup.Outcome{}, ctx.Err()
			}
			return lookup.Outcome{Candidates: []string{"20100000001"}, Text: "ACTIVO"}, nil
		}, nil
	})

	r := newTestRunner(t, testConfig(1), op, store, &funcPrompter{})
	s, err := r.Run(ctx, inputs("A", "B", "STOP", "C"))
	require.NoError(t, err)
	assert.True(t, s.Interrupted)

	last := store.Last()
	assert.NoError(t, last.ctxErr, "final save runs on a live context")
	assert.Equal(t, []int{0, 1}, indicesOf(last.results))
}

func TestRunner_StartPrompt(t *testing.T) {
	store := &memStore{}
	cfg := testConfig(1)
	cfg.ConfirmStart = true

	p := &funcPrompter{fn: func(_ context.Context, pr operator.Prompt) error {
		if pr.Kind == operator.KindStart {
			return operator.ErrAborted
		}
		return nil
	}}
	op := &stub.Opener{}
	r := newTestRunner(t, cfg, op, store, p)
	_, err := r.Run(context.Background(), inputs("A"))
	assert.ErrorIs(t, err, operator.ErrAborted)
	assert.Zero(t, op.Opened())
	assert.Empty(t, store.Saves())
}

func TestRunner_FinalSaveError(t *testing.T) {
	store := &memStore{err: eris.New("disk full")}
	r := newTestRunner(t, testConfig(1), &stub.Opener{}, store, &funcPrompter{})
	_, err := r.Run(context.Background(), inputs("A"))
	assert.ErrorContains(t, err, "disk full")
}

func TestSummarize(t *testing.T) {
	s := Summarize([]model.ResultRecord{
		{Status: model.StatusActive, Identifier: "20100000001"},
		{Status: model.StatusUnknown, Identifier: "10400000001"},
		{Status: model.StatusNotFound},
		{Status: model.StatusError},
	})
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Found)
	assert.Equal(t, 1, s.Count(model.StatusNotFound))
	assert.Equal(t, 0, s.Count(model.StatusConnectionError))
}

func indicesOf(results []model.ResultRecord) []int {
	out := make([]int, 0, len(results))
	for _, r := range results {
		out = append(out, r.Index)
	}
	slices.Sort(out)
	return out
}
