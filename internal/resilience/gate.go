// Package resilience provides the pause gate shared by lookup workers and the
// retry helpers used to recover sessions and persist checkpoints.
package resilience

import (
	"context"
	"sync"
	"time"
)

// CircuitState represents the state of the pause gate.
type CircuitState int

const (
	// CircuitClosed is the running state: workers may start new items.
	CircuitClosed CircuitState = iota
	// CircuitOpen holds every worker before its next item.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "running"
	case CircuitOpen:
		return "paused"
	default:
		return "unknown"
	}
}

// TripCause names why the gate was opened. Higher causes take precedence.
type TripCause int

const (
	// CauseNone is the cause of a running gate.
	CauseNone TripCause = iota
	// CauseStoreLocked is raised when the checkpoint destination is held by
	// another process.
	CauseStoreLocked
	// CauseConnection is raised when a worker loses its lookup session.
	CauseConnection
)

func (c TripCause) String() string {
	switch c {
	case CauseStoreLocked:
		return "store-locked"
	case CauseConnection:
		return "connection"
	default:
		return "none"
	}
}

// Incident describes one opening of the gate.
type Incident struct {
	Seq    uint64
	Cause  TripCause
	Source string
	Err    error
	At     time.Time
}

// GateConfig controls gate construction.
type GateConfig struct {
	// OnStateChange is called with the gate lock held whenever the state or
	// the holding incident changes. It must not call back into the gate.
	OnStateChange func(from, to CircuitState, in Incident)
}

// Gate is the global pause switch. While open, Wait blocks; releasing the
// holding incident wakes every waiter at once.
type Gate struct {
	cfg GateConfig
	mu  sync.Mutex

	state    CircuitState
	incident Incident
	seq      uint64
	trips    int

	// released is closed while the gate is closed.
	released chan struct{}

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewGate creates a running gate.
func NewGate(cfg GateConfig) *Gate {
	g := &Gate{
		cfg:      cfg,
		released: make(chan struct{}),
		nowFunc:  time.Now,
	}
	close(g.released)
	return g
}

// Trip opens the gate for cause. If the gate is already held by an incident
// of equal or higher precedence, Trip leaves it untouched and returns that
// incident with false. Otherwise it records a new incident and returns it
// with true.
func (g *Gate) Trip(cause TripCause, source string, err error) (Incident, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == CircuitOpen && g.incident.Cause >= cause {
		return g.incident, false
	}

	g.seq++
	g.trips++
	in := Incident{
		Seq:    g.seq,
		Cause:  cause,
		Source: source,
		Err:    err,
		At:     g.nowFunc(),
	}
	from := g.state
	if from == CircuitClosed {
		g.released = make(chan struct{})
	}
	g.state = CircuitOpen
	g.incident = in
	if g.cfg.OnStateChange != nil {
		g.cfg.OnStateChange(from, CircuitOpen, in)
	}
	return in, true
}

// Release closes the gate only if it is still held by the incident with the
// given sequence number. It reports whether the gate was released.
func (g *Gate) Release(seq uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != CircuitOpen || g.incident.Seq != seq {
		return false
	}
	prev := g.incident
	g.state = CircuitClosed
	g.incident = Incident{}
	close(g.released)
	if g.cfg.OnStateChange != nil {
		g.cfg.OnStateChange(CircuitOpen, CircuitClosed, prev)
	}
	return true
}

// Wait blocks until the gate is running or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.released
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current gate state.
func (g *Gate) State() CircuitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Running reports whether workers may start new items.
func (g *Gate) Running() bool {
	return g.State() == CircuitClosed
}

// Incident returns the incident holding the gate. ok is false when the gate
// is running.
func (g *Gate) Incident() (in Incident, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != CircuitOpen {
		return Incident{}, false
	}
	return g.incident, true
}

// Trips returns how many incidents have opened or escalated the gate.
func (g *Gate) Trips() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trips
}
