package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubEngine struct {
	closed atomic.Bool
}

func (s *stubEngine) Recognize(samples []float32, p Params) (Output, error) {
	return Output{}, nil
}

func (s *stubEngine) Close() error {
	s.closed.Store(true)
	return nil
}

// blockingLoader returns a loader that signals when it starts and waits for
// a result on release.
func blockingLoader(started chan<- struct{}, release <-chan error, eng Engine) Loader {
	return func(ctx context.Context) (Engine, error) {
		close(started)
		if err := <-release; err != nil {
			return nil, err
		}
		return eng, nil
	}
}

func assertNotReady(t *testing.T, g *Gate, want State) {
	t.Helper()
	eng, release, err := g.Acquire()
	if eng != nil || release != nil {
		t.Fatalf("Acquire() in %s returned an engine", want)
	}
	var nr *NotReadyError
	if !errors.As(err, &nr) {
		t.Fatalf("Acquire() error = %v, want *NotReadyError", err)
	}
	if nr.State != want {
		t.Errorf("NotReadyError.State = %s, want %s", nr.State, want)
	}
	if g.IsReady() {
		t.Errorf("IsReady() = true in %s", want)
	}
}

func TestGateLoadSucceeds(t *testing.T) {
	started := make(chan struct{})
	release := make(chan error)
	eng := &stubEngine{}
	g := NewGate(blockingLoader(started, release, eng))

	if g.State() != StateUnloaded {
		t.Fatalf("initial State() = %s, want unloaded", g.State())
	}
	assertNotReady(t, g, StateUnloaded)

	done := make(chan error, 1)
	go func() { done <- g.Initialize(context.Background()) }()
	<-started

	if g.State() != StateLoading {
		t.Fatalf("State() = %s, want loading", g.State())
	}
	assertNotReady(t, g, StateLoading)

	// A second Initialize while loading is a no-op.
	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("concurrent Initialize() error = %v", err)
	}
	if g.State() != StateLoading {
		t.Fatalf("State() after no-op = %s, want loading", g.State())
	}

	release <- nil
	if err := <-done; err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if !g.IsReady() {
		t.Fatalf("State() = %s, want ready", g.State())
	}
	got, releaseEngine, err := g.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got != eng {
		t.Error("Acquire() returned a different engine")
	}
	releaseEngine()

	// Ready is terminal and Initialize does not reload.
	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() on ready gate error = %v", err)
	}
	if g.State() != StateReady {
		t.Errorf("State() = %s, want ready", g.State())
	}

	if err := g.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !eng.closed.Load() {
		t.Error("Close() did not close the engine")
	}
	assertNotReady(t, g, StateClosed)
}

func TestGateCloseWaitsForHolders(t *testing.T) {
	eng := &stubEngine{}
	g := NewGate(func(ctx context.Context) (Engine, error) { return eng, nil })
	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	// Simulates a recognition pass still running when shutdown begins.
	_, release, err := g.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- g.Close() }()

	deadline := time.After(2 * time.Second)
	for g.State() != StateClosed {
		select {
		case <-deadline:
			t.Fatalf("State() = %s after Close, want closed", g.State())
		case <-time.After(time.Millisecond):
		}
	}
	assertNotReady(t, g, StateClosed)

	select {
	case <-closed:
		t.Fatal("Close() returned while the engine was still held")
	case <-time.After(50 * time.Millisecond):
	}
	if eng.closed.Load() {
		t.Fatal("engine closed while still held")
	}

	release()
	release() // second call is a no-op
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return after release")
	}
	if !eng.closed.Load() {
		t.Error("Close() did not close the engine")
	}
	if err := g.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := g.Initialize(context.Background()); err == nil {
		t.Error("Initialize() on a closed gate should fail")
	}
}

func TestGateCloseDuringLoad(t *testing.T) {
	started := make(chan struct{})
	loadDone := make(chan error)
	eng := &stubEngine{}
	g := NewGate(blockingLoader(started, loadDone, eng))

	done := make(chan error, 1)
	go func() { done <- g.Initialize(context.Background()) }()
	<-started

	if err := g.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	loadDone <- nil
	var nr *NotReadyError
	if err := <-done; !errors.As(err, &nr) || nr.State != StateClosed {
		t.Fatalf("Initialize() error = %v, want not ready (closed)", err)
	}
	if !eng.closed.Load() {
		t.Error("engine loaded after Close was not released")
	}
	assertNotReady(t, g, StateClosed)
}

func TestGateLoadFails(t *testing.T) {
	loadErr := errors.New("model file corrupt")
	calls := 0
	g := NewGate(func(ctx context.Context) (Engine, error) {
		calls++
		return nil, loadErr
	})

	err := g.Initialize(context.Background())
	if !errors.Is(err, loadErr) {
		t.Fatalf("Initialize() error = %v, want %v", err, loadErr)
	}
	if g.State() != StateFailed {
		t.Fatalf("State() = %s, want failed", g.State())
	}
	assertNotReady(t, g, StateFailed)

	_, _, err = g.Acquire()
	if !errors.Is(err, loadErr) {
		t.Errorf("Acquire() error = %v, want wrapped load error", err)
	}

	// Failed is terminal: a retry reports the original error without
	// reloading and never reports ready.
	if err := g.Initialize(context.Background()); !errors.Is(err, loadErr) {
		t.Errorf("second Initialize() error = %v, want %v", err, loadErr)
	}
	if calls != 1 {
		t.Errorf("loader called %d times, want 1", calls)
	}
	if g.State() != StateFailed {
		t.Errorf("State() = %s, want failed", g.State())
	}
}

func TestGateNilEngineFails(t *testing.T) {
	g := NewGate(func(ctx context.Context) (Engine, error) { return nil, nil })
	if err := g.Initialize(context.Background()); err == nil {
		t.Fatal("Initialize() with nil engine should fail")
	}
	if g.State() != StateFailed {
		t.Errorf("State() = %s, want failed", g.State())
	}
}

func TestGateWait(t *testing.T) {
	started := make(chan struct{})
	release := make(chan error)
	g := NewGate(blockingLoader(started, release, &stubEngine{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if state, err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) || state != StateUnloaded {
		t.Fatalf("Wait() on idle gate = (%s, %v), want (unloaded, deadline exceeded)", state, err)
	}

	go func() { _ = g.Initialize(context.Background()) }()
	<-started

	waited := make(chan State, 1)
	go func() {
		state, _ := g.Wait(context.Background())
		waited <- state
	}()

	release <- nil
	select {
	case state := <-waited:
		if state != StateReady {
			t.Errorf("Wait() = %s, want ready", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after load completed")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnloaded, "unloaded"},
		{StateLoading, "loading"},
		{StateReady, "ready"},
		{StateFailed, "failed"},
		{StateClosed, "closed"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Params)
		wantErr bool
	}{
		{name: "defaults", modify: func(p *Params) {}},
		{name: "translate task", modify: func(p *Params) { p.Task = TaskTranslate }},
		{name: "unknown task", modify: func(p *Params) { p.Task = "summarize" }, wantErr: true},
		{name: "zero chunk", modify: func(p *Params) { p.ChunkLength = 0 }, wantErr: true},
		{name: "empty language", modify: func(p *Params) { p.Language = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
