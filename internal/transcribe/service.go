package transcribe

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/chaz8081/susurro/internal/audio"
	"github.com/chaz8081/susurro/internal/engine"
)

// Service runs the whole pipeline for one file: readiness check, decode and
// normalize, then transcription.
type Service struct {
	gate        *engine.Gate
	transcriber *Transcriber
}

// NewService creates a Service over gate and transcriber.
func NewService(gate *engine.Gate, transcriber *Transcriber) *Service {
	return &Service{gate: gate, transcriber: transcriber}
}

// Gate returns the readiness gate the service checks before each request.
func (s *Service) Gate() *engine.Gate { return s.gate }

// Model returns the model identifier reported in results.
func (s *Service) Model() string { return s.transcriber.Model() }

// TranscribeFile transcribes the WAV file at path. It fails fast with
// *engine.NotReadyError before reading the file when the engine is not
// loaded. The engine is held until the call returns, so a concurrent
// Gate.Close waits for it.
func (s *Service) TranscribeFile(ctx context.Context, path string) (*Result, error) {
	eng, release, err := s.gate.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	normalized, err := audio.NormalizeFile(path)
	if err != nil {
		return nil, err
	}

	slog.Info("transcribing", "file", filepath.Base(path), "duration", normalized.Duration())
	res, err := s.transcriber.Transcribe(ctx, normalized, eng)
	if err != nil {
		return nil, err
	}
	slog.Info("transcribed", "file", filepath.Base(path),
		"elapsed_ms", res.ProcessingMillis(), "chars", len(res.Text))
	return res, nil
}
