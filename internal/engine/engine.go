// Package engine defines the speech-recognition engine boundary and the
// readiness gate that owns the engine's one-time initialization.
package engine

import (
	"fmt"
	"time"
)

// Supported recognition tasks.
const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// Engine converts canonical audio (mono 16kHz float32) to text.
// Implementations are not required to be re-entrant; callers bound
// concurrent use.
type Engine interface {
	// Recognize runs one inference pass over samples.
	Recognize(samples []float32, p Params) (Output, error)
	// Close releases engine resources.
	Close() error
}

// Params is the fixed inference configuration passed on every call.
type Params struct {
	Language    string        // target language code, e.g. "en"
	ChunkLength time.Duration // upper bound on the audio processed per window
	Timestamps  bool          // report segment timestamps
	Task        string        // "transcribe" or "translate"
}

// DefaultParams returns English transcription in 30 second windows with
// segment timestamps.
func DefaultParams() Params {
	return Params{
		Language:    "en",
		ChunkLength: 30 * time.Second,
		Timestamps:  true,
		Task:        TaskTranscribe,
	}
}

// Validate checks the params for invalid values.
func (p Params) Validate() error {
	if p.Language == "" {
		return fmt.Errorf("engine: language must not be empty")
	}
	if p.ChunkLength <= 0 {
		return fmt.Errorf("engine: chunk length must be > 0, got %s", p.ChunkLength)
	}
	switch p.Task {
	case TaskTranscribe, TaskTranslate:
	default:
		return fmt.Errorf("engine: task must be %q or %q, got %q", TaskTranscribe, TaskTranslate, p.Task)
	}
	return nil
}

// Segment is a timed sub-span of a transcript.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Output is the raw result of one Recognize call.
type Output struct {
	Text     string
	Segments []Segment
}
