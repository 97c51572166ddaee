// Package transcribe orchestrates recognition: it runs normalized audio
// through a readiness-gated engine with a fixed inference configuration and
// assembles the timed result.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/susurro/internal/audio"
	"github.com/chaz8081/susurro/internal/engine"
)

// Options configures a Transcriber.
type Options struct {
	Params        engine.Params
	Model         string // identifier reported in every Result
	MaxConcurrent int    // inference calls allowed in flight, default 1
}

// Result is the outcome of one successful transcription. It is not modified
// after Transcribe returns it.
type Result struct {
	Text           string
	Segments       []engine.Segment
	ProcessingTime time.Duration
	AudioDuration  time.Duration
	Model          string
	CompletedAt    time.Time
}

// ProcessingMillis returns ProcessingTime in whole milliseconds.
func (r *Result) ProcessingMillis() int64 {
	return r.ProcessingTime.Milliseconds()
}

// InferenceError reports a failed engine invocation.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("transcribe: inference: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Transcriber invokes an engine with fixed params. The engine is not assumed
// re-entrant: at most MaxConcurrent calls run at once, the rest wait.
type Transcriber struct {
	params engine.Params
	model  string
	slots  chan struct{}
	now    func() time.Time
}

// New creates a Transcriber.
func New(opts Options) (*Transcriber, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("transcribe: model identifier must not be empty")
	}
	n := opts.MaxConcurrent
	if n <= 0 {
		n = 1
	}
	return &Transcriber{
		params: opts.Params,
		model:  opts.Model,
		slots:  make(chan struct{}, n),
		now:    time.Now,
	}, nil
}

// Params returns the inference configuration.
func (t *Transcriber) Params() engine.Params { return t.params }

// Model returns the model identifier.
func (t *Transcriber) Model() string { return t.model }

// Transcribe runs one inference pass over a. ctx only bounds the wait for a
// free slot; once the engine is invoked the call runs to completion.
func (t *Transcriber) Transcribe(ctx context.Context, a *audio.Normalized, eng engine.Engine) (*Result, error) {
	if a == nil || len(a.Samples) == 0 {
		return nil, &audio.FormatError{Message: "no samples to transcribe"}
	}

	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("transcribe: waiting for engine: %w", ctx.Err())
	}
	defer func() { <-t.slots }()

	start := t.now()
	out, err := eng.Recognize(a.Samples, t.params)
	elapsed := t.now().Sub(start)
	if err != nil {
		slog.Error("inference failed", "error", err, "elapsed", elapsed)
		return nil, &InferenceError{Err: err}
	}

	slog.Debug("inference done", "audio", a.Duration(), "elapsed", elapsed, "segments", len(out.Segments))

	return &Result{
		Text:           out.Text,
		Segments:       out.Segments,
		ProcessingTime: elapsed,
		AudioDuration:  a.Duration(),
		Model:          t.model,
		CompletedAt:    t.now(),
	}, nil
}
