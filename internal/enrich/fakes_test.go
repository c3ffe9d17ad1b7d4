package enrich

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxid-cli/internal/lookup"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/operator"
)

type fetchFunc func(ctx context.Context, variant string) (lookup.Outcome, error)

type fakeSession struct {
	fetch  fetchFunc
	calls  atomic.Int32
	closed atomic.Bool
}

func (s *fakeSession) Fetch(ctx context.Context, variant string) (lookup.Outcome, error) {
	s.calls.Add(1)
	if s.closed.Load() {
		return lookup.Outcome{}, eris.New("fake: fetch on closed session")
	}
	return s.fetch(ctx, variant)
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeOpener hands out sessions built by newSession, which receives the
// worker id and how many sessions that worker opened before.
type fakeOpener struct {
	mu         sync.Mutex
	opens      map[int]int
	sessions   map[int][]*fakeSession
	newSession func(workerID, n int) (fetchFunc, error)
}

func newFakeOpener(fn func(workerID, n int) (fetchFunc, error)) *fakeOpener {
	return &fakeOpener{opens: map[int]int{}, sessions: map[int][]*fakeSession{}, newSession: fn}
}

func (o *fakeOpener) Open(_ context.Context, workerID int) (lookup.Session, error) {
	o.mu.Lock()
	n := o.opens[workerID]
	o.opens[workerID]++
	o.mu.Unlock()

	fetch, err := o.newSession(workerID, n)
	if err != nil {
		return nil, err
	}
	s := &fakeSession{fetch: fetch}
	o.mu.Lock()
	o.sessions[workerID] = append(o.sessions[workerID], s)
	o.mu.Unlock()
	return s, nil
}

func (o *fakeOpener) Opens(workerID int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[workerID]
}

// Calls counts fetches across every session of workerID.
func (o *fakeOpener) Calls(workerID int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.sessions[workerID] {
		n += int(s.calls.Load())
	}
	return n
}

func found(id string) fetchFunc {
	return func(context.Context, string) (lookup.Outcome, error) {
		return lookup.Outcome{Candidates: []string{id}, Text: id + " ESTADO: ACTIVO"}, nil
	}
}

type save struct {
	results []model.ResultRecord
	force   bool
	ctxErr  error
}

// memStore is an in-memory Loader and Saver.
type memStore struct {
	mu       sync.Mutex
	previous []model.ResultRecord
	saves    []save
	err      error
}

func (m *memStore) Load(context.Context) ([]model.ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.previous), nil
}

func (m *memStore) Save(ctx context.Context, results []model.ResultRecord, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, save{results: slices.Clone(results), force: force, ctxErr: ctx.Err()})
	if m.err != nil {
		return m.err
	}
	m.previous = slices.Clone(results)
	return nil
}

func (m *memStore) Saves() []save {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.saves)
}

func (m *memStore) Last() save {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saves) == 0 {
		return save{}
	}
	return m.saves[len(m.saves)-1]
}

// funcPrompter calls fn for every prompt and records the kinds seen.
type funcPrompter struct {
	mu    sync.Mutex
	kinds []operator.Kind
	fn    func(ctx context.Context, p operator.Prompt) error
}

func (f *funcPrompter) Confirm(ctx context.Context, p operator.Prompt) error {
	f.mu.Lock()
	f.kinds = append(f.kinds, p.Kind)
	f.mu.Unlock()
	if f.fn == nil {
		return nil
	}
	return f.fn(ctx, p)
}

func (f *funcPrompter) Kinds() []operator.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.kinds)
}

func inputs(keys ...string) []model.InputRecord {
	out := make([]model.InputRecord, len(keys))
	for i, k := range keys {
		out[i] = model.InputRecord{Index: i, Key: k}
	}
	return out
}

func byIndex(results []model.ResultRecord) map[int]model.ResultRecord {
	m := make(map[int]model.ResultRecord, len(results))
	for _, r := range results {
		m[r.Index] = r
	}
	return m
}
