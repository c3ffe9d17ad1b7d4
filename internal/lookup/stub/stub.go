// Package stub provides an offline lookup session with deterministic
// canned answers, used by `run --offline` and in tests.
package stub

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"github.com/sells-group/taxid-cli/internal/lookup"
)

// Compile-time interface checks.
var (
	_ lookup.Opener  = (*Opener)(nil)
	_ lookup.Session = (*Session)(nil)
)

var states = []string{"ACTIVO", "ACTIVO", "ACTIVO", "BAJA DE OFICIO", "SUSPENSION TEMPORAL"}

// Opener opens stub sessions and counts them.
type Opener struct {
	opened atomic.Int32
}

// Open implements lookup.Opener.
func (o *Opener) Open(_ context.Context, workerID int) (lookup.Session, error) {
	o.opened.Add(1)
	return &Session{workerID: workerID}, nil
}

// Opened returns how many sessions were opened.
func (o *Opener) Opened() int {
	return int(o.opened.Load())
}

// Session answers every variant from a hash of its text: roughly one in
// five variants is not found, the rest resolve to a stable entity RUC.
type Session struct {
	workerID int
	calls    int
	closed   bool
}

// Fetch implements lookup.Session.
func (s *Session) Fetch(ctx context.Context, variant string) (lookup.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return lookup.Outcome{}, err
	}
	if s.closed {
		return lookup.Outcome{}, fmt.Errorf("stub: session %d closed", s.workerID)
	}
	s.calls++

	h := fnv.New32a()
	_, _ = h.Write([]byte(variant))
	sum := h.Sum32()
	if sum%5 == 0 {
		return lookup.Outcome{Text: "No se encontraron resultados para " + variant}, nil
	}

	ruc := fmt.Sprintf("20%09d", sum%1_000_000_000)
	state := states[int(sum/5)%len(states)]
	return lookup.Outcome{
		Candidates: []string{ruc},
		Text:       fmt.Sprintf("%s - %s\nEstado: %s", ruc, variant, state),
	}, nil
}

// Calls returns how many fetches the session served.
func (s *Session) Calls() int {
	return s.calls
}

// Close implements lookup.Session.
func (s *Session) Close() error {
	s.closed = true
	return nil
}
