package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle stage of the engine owned by a Gate.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Settled reports whether loading has finished one way or another.
func (s State) Settled() bool {
	return s == StateReady || s == StateFailed || s == StateClosed
}

// NotReadyError is returned by Acquire outside the Ready state. Err holds the
// load failure when State is StateFailed.
type NotReadyError struct {
	State State
	Err   error
}

func (e *NotReadyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: not ready (%s): %v", e.State, e.Err)
	}
	return fmt.Sprintf("engine: not ready (%s)", e.State)
}

func (e *NotReadyError) Unwrap() error { return e.Err }

// Loader constructs the engine. It runs at most once per Gate.
type Loader func(ctx context.Context) (Engine, error)

// Gate owns an engine's lifecycle: Unloaded -> Loading -> Ready | Failed,
// and from any of those to Closed. No load is retried after Failed, and
// Closed is final.
type Gate struct {
	load Loader

	mu      sync.RWMutex
	state   State
	engine  Engine
	err     error
	changed chan struct{} // closed and replaced on every transition

	holders sync.WaitGroup // one per unreleased Acquire
}

// NewGate creates a gate in the Unloaded state.
func NewGate(load Loader) *Gate {
	return &Gate{
		load:    load,
		changed: make(chan struct{}),
	}
}

// Initialize loads the engine. Calls made while Loading or Ready return nil
// immediately; calls after a failed load return that load's error.
func (g *Gate) Initialize(ctx context.Context) error {
	g.mu.Lock()
	switch g.state {
	case StateLoading, StateReady:
		g.mu.Unlock()
		return nil
	case StateClosed:
		g.mu.Unlock()
		return &NotReadyError{State: StateClosed}
	case StateFailed:
		err := g.err
		g.mu.Unlock()
		return err
	}
	g.transition(StateLoading)
	g.mu.Unlock()

	slog.Info("loading engine")
	start := time.Now()
	eng, err := g.load(ctx)
	if err == nil && eng == nil {
		err = errors.New("loader returned no engine")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateClosed {
		if eng != nil {
			_ = eng.Close()
		}
		slog.Info("engine loaded after gate closed, released")
		return &NotReadyError{State: StateClosed}
	}
	if err != nil {
		g.err = fmt.Errorf("engine: load: %w", err)
		g.transition(StateFailed)
		slog.Error("engine failed to load", "error", err)
		return g.err
	}
	g.engine = eng
	g.transition(StateReady)
	slog.Info("engine ready", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// transition must be called with mu held.
func (g *Gate) transition(s State) {
	g.state = s
	close(g.changed)
	g.changed = make(chan struct{})
}

// State returns the current state without blocking on a load in progress.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// IsReady reports whether Acquire would succeed.
func (g *Gate) IsReady() bool {
	return g.State() == StateReady
}

// Err returns the load error once the gate has failed.
func (g *Gate) Err() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.err
}

// Acquire returns the engine if it is loaded. It never waits. The caller
// must call release once it stops using the engine; Close blocks until
// every holder has done so.
func (g *Gate) Acquire() (eng Engine, release func(), err error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state != StateReady || g.engine == nil {
		return nil, nil, &NotReadyError{State: g.state, Err: g.err}
	}
	g.holders.Add(1)
	var once sync.Once
	return g.engine, func() { once.Do(g.holders.Done) }, nil
}

// Changes returns the current state and a channel closed at the next
// transition.
func (g *Gate) Changes() (State, <-chan struct{}) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state, g.changed
}

// Wait blocks until the gate settles in Ready, Failed or Closed, or ctx is
// done.
func (g *Gate) Wait(ctx context.Context) (State, error) {
	for {
		state, changed := g.Changes()
		if state.Settled() {
			return state, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// Close moves the gate to Closed, so no new Acquire succeeds, then waits for
// outstanding holders to release before closing the engine. A load still in
// progress releases its engine when it finishes. Close is idempotent.
func (g *Gate) Close() error {
	g.mu.Lock()
	if g.state == StateClosed {
		g.mu.Unlock()
		return nil
	}
	eng := g.engine
	g.engine = nil
	g.transition(StateClosed)
	g.mu.Unlock()

	g.holders.Wait()
	if eng == nil {
		return nil
	}
	return eng.Close()
}
