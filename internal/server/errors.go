package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chaz8081/susurro/internal/audio"
	"github.com/chaz8081/susurro/internal/engine"
	"github.com/chaz8081/susurro/internal/library"
	"github.com/chaz8081/susurro/internal/transcribe"
)

// Error kinds reported in the "kind" field of error bodies.
const (
	kindBadRequest  = "bad_request"
	kindUnsupported = "unsupported_media_type"
	kindTooLarge    = "too_large"
	kindNotReady    = "not_ready"
	kindNotFound    = "not_found"
	kindDecode      = "decode"
	kindFormat      = "format"
	kindInference   = "inference"
	kindInternal    = "internal"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

func errorBody(msg, details, kind string) map[string]any {
	return map[string]any{
		"error":   msg,
		"details": details,
		"kind":    kind,
	}
}

// writeError maps a pipeline error to a status code and error body. extra
// fields are merged into the body.
func writeError(w http.ResponseWriter, err error, extra map[string]any) {
	var (
		notReady  *engine.NotReadyError
		notFound  *library.NotFoundError
		decodeErr *audio.DecodeError
		formatErr *audio.FormatError
		inferErr  *transcribe.InferenceError
	)

	var (
		status int
		body   map[string]any
	)
	switch {
	case errors.As(err, &notReady):
		status = http.StatusServiceUnavailable
		body = notReadyBody(notReady.State, notReady.Err)
	case errors.As(err, &notFound):
		status = http.StatusNotFound
		body = errorBody("file not found", err.Error(), kindNotFound)
		body["path"] = notFound.Path
		body["available_files"] = nonNil(notFound.Available)
	case errors.As(err, &decodeErr):
		status = http.StatusUnprocessableEntity
		body = errorBody("could not decode audio", err.Error(), kindDecode)
	case errors.As(err, &formatErr):
		status = http.StatusUnprocessableEntity
		body = errorBody("unusable audio", err.Error(), kindFormat)
	case errors.As(err, &inferErr):
		status = http.StatusInternalServerError
		body = errorBody("transcription failed", err.Error(), kindInference)
	default:
		status = http.StatusInternalServerError
		body = errorBody("internal server error", err.Error(), kindInternal)
	}

	for k, v := range extra {
		body[k] = v
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	} else {
		slog.Info("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func notReadyBody(state engine.State, loadErr error) map[string]any {
	msg := "the model is still loading, try again in a few seconds"
	details := ""
	switch state {
	case engine.StateFailed:
		msg = "the model failed to load"
		if loadErr != nil {
			details = loadErr.Error()
		}
	case engine.StateUnloaded:
		msg = "the model has not been loaded"
	case engine.StateClosed:
		msg = "the server is shutting down"
	}
	body := errorBody(msg, details, kindNotReady)
	body["state"] = state.String()
	return body
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
