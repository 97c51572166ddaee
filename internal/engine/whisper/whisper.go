// Package whisper adapts whisper.cpp Go bindings to the engine.Engine
// interface.
package whisper

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/chaz8081/susurro/internal/engine"
)

const sampleRate = 16000

// Engine wraps a loaded whisper.cpp model. Every context created from the
// model runs on the model's single native state, so windows are processed
// one at a time regardless of how many callers Recognize concurrently.
type Engine struct {
	mu    sync.Mutex // guards native state from Process through NextSegment
	model whisper.Model
}

// Load reads a ggml whisper model from modelPath.
// The caller must call Close() when done.
func Load(modelPath string) (*Engine, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &Engine{model: model}, nil
}

// Close releases the whisper model resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Recognize transcribes mono 16kHz float32 samples. Audio longer than
// p.ChunkLength is processed window by window, each in a fresh context, and
// segment times are shifted to the window's position in the input.
func (e *Engine) Recognize(samples []float32, p engine.Params) (engine.Output, error) {
	window := int(p.ChunkLength.Seconds() * sampleRate)
	if window <= 0 {
		window = len(samples)
	}

	var out engine.Output
	var texts []string
	for start := 0; start < len(samples); start += window {
		end := min(start+window, len(samples))
		offset := time.Duration(start) * time.Second / sampleRate

		segments, err := e.processWindow(samples[start:end], p)
		if err != nil {
			return engine.Output{}, err
		}
		for _, seg := range segments {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			texts = append(texts, text)
			if p.Timestamps {
				out.Segments = append(out.Segments, engine.Segment{
					Start: offset + seg.Start,
					End:   offset + seg.End,
					Text:  text,
				})
			}
		}
	}

	out.Text = strings.Join(texts, " ")
	return out, nil
}

func (e *Engine) processWindow(samples []float32, p engine.Params) ([]whisper.Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	// English-only models reject SetLanguage.
	if e.model.IsMultilingual() && p.Language != "" {
		if err := ctx.SetLanguage(p.Language); err != nil {
			return nil, fmt.Errorf("whisper: set language %q: %w", p.Language, err)
		}
	}
	ctx.SetTranslate(p.Task == engine.TaskTranslate)

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process: %w", err)
	}

	var segments []whisper.Segment
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: next segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}
