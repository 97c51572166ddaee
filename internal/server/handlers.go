package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/chaz8081/susurro/internal/engine"
	"github.com/chaz8081/susurro/internal/library"
	"github.com/chaz8081/susurro/internal/transcribe"
)

// uploadField is the multipart field carrying uploaded audio.
const uploadField = "audio"

type segmentJSON struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type serverFileResponse struct {
	Success          bool          `json:"success"`
	Filename         string        `json:"filename"`
	Transcript       string        `json:"transcript"`
	Segments         []segmentJSON `json:"segments"`
	ProcessingTimeMS int64         `json:"processing_time_ms"`
	AudioPath        string        `json:"audio_path"`
	ModelUsed        string        `json:"model_used"`
	Timestamp        string        `json:"timestamp"`
}

type uploadResponse struct {
	Success          bool          `json:"success"`
	OriginalFilename string        `json:"original_filename"`
	SavedFilename    string        `json:"saved_filename"`
	Transcript       string        `json:"transcript"`
	Segments         []segmentJSON `json:"segments"`
	ProcessingTimeMS int64         `json:"processing_time_ms"`
	FileSizeMB       string        `json:"file_size_mb"`
	ModelUsed        string        `json:"model_used"`
	Timestamp        string        `json:"timestamp"`
}

type fileJSON struct {
	Filename string `json:"filename"`
	SizeMB   string `json:"size_mb"`
	Modified string `json:"modified"`
}

type listResponse struct {
	Success   bool       `json:"success"`
	Directory string     `json:"directory"`
	Files     []fileJSON `json:"files"`
	Count     int        `json:"count"`
}

type healthResponse struct {
	Status      string   `json:"status"`
	Service     string   `json:"service"`
	Version     string   `json:"version"`
	Model       string   `json:"model"`
	ModelLoaded bool     `json:"model_loaded"`
	ModelState  string   `json:"model_state"`
	Endpoints   []string `json:"endpoints"`
	Timestamp   string   `json:"timestamp"`
}

func (s *Server) handleServerFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(w, "invalid JSON body", err.Error())
		return
	}
	if req.Filename == "" {
		s.badRequest(w, "a file name is required", `expected a body like {"filename": "sample.wav"}`)
		return
	}

	if !s.ready(w) {
		return
	}

	slog.Info("processing server file", "file", req.Filename)
	res, path, err := s.transcribeSource(r.Context(), library.Source{Name: req.Filename})
	if err != nil {
		writeError(w, err, map[string]any{"filename": req.Filename})
		return
	}

	writeJSON(w, http.StatusOK, serverFileResponse{
		Success:          true,
		Filename:         req.Filename,
		Transcript:       res.Text,
		Segments:         segmentsJSON(res.Segments),
		ProcessingTimeMS: res.ProcessingMillis(),
		AudioPath:        path,
		ModelUsed:        res.Model,
		Timestamp:        res.CompletedAt.UTC().Format(timeFormat),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Checked before the body is read.
	if !s.ready(w) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	up, err := s.receiveUpload(r)
	if err != nil {
		var reqErr *uploadError
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge,
				errorBody("upload too large", fmt.Sprintf("limit is %d bytes", tooLarge.Limit), kindTooLarge))
		case errors.As(err, &reqErr):
			writeJSON(w, reqErr.status, errorBody(reqErr.msg, reqErr.details, reqErr.kind))
		default:
			writeError(w, err, nil)
		}
		return
	}

	slog.Info("upload received", "original", up.OriginalName, "saved", up.SavedName, "bytes", up.Size)
	res, _, err := s.transcribeSource(r.Context(), library.Source{Upload: up})
	if err != nil {
		writeError(w, err, map[string]any{"original_filename": up.OriginalName})
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:          true,
		OriginalFilename: up.OriginalName,
		SavedFilename:    up.SavedName,
		Transcript:       res.Text,
		Segments:         segmentsJSON(res.Segments),
		ProcessingTimeMS: res.ProcessingMillis(),
		FileSizeMB:       sizeMB(up.Size),
		ModelUsed:        res.Model,
		Timestamp:        res.CompletedAt.UTC().Format(timeFormat),
	})
}

// transcribeSource runs the audio src refers to through the service and
// applies the retention policy when the request owns the file.
func (s *Server) transcribeSource(ctx context.Context, src library.Source) (*transcribe.Result, string, error) {
	if err := src.Validate(); err != nil {
		return nil, "", err
	}

	var path string
	if src.Owned() {
		path = src.Upload.Path
	} else {
		resolved, err := s.lib.Resolve(src.Name)
		if err != nil {
			return nil, "", err
		}
		path = resolved
	}

	res, err := s.svc.TranscribeFile(ctx, path)
	if src.Owned() {
		s.uploads.Finish(src.Upload, err != nil)
	}
	return res, path, err
}

// uploadError is a client mistake in an upload request.
type uploadError struct {
	status  int
	msg     string
	details string
	kind    string
}

func (e *uploadError) Error() string { return e.msg + ": " + e.details }

// receiveUpload streams the audio part of a multipart body to disk.
func (s *Server) receiveUpload(r *http.Request) (*library.Upload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, &uploadError{http.StatusBadRequest, "no audio file was uploaded", err.Error(), kindBadRequest}
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, &uploadError{http.StatusBadRequest, "no audio file was uploaded",
				fmt.Sprintf("expected a multipart file field named %q", uploadField), kindBadRequest}
		}
		if err != nil {
			return nil, fmt.Errorf("server: reading multipart body: %w", err)
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		ctype := part.Header.Get("Content-Type")
		if mt, _, err := mime.ParseMediaType(ctype); err != nil || !strings.HasPrefix(mt, "audio/") {
			part.Close()
			return nil, &uploadError{http.StatusUnsupportedMediaType, "only audio files are allowed",
				fmt.Sprintf("got content type %q", ctype), kindUnsupported}
		}

		up, err := s.uploads.Save(part.FileName(), part)
		part.Close()
		return up, err
	}
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := s.lib.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("could not list files", err.Error(), kindInternal))
		return
	}

	files := make([]fileJSON, 0, len(entries))
	for _, e := range entries {
		files = append(files, fileJSON{
			Filename: e.Name,
			SizeMB:   sizeMB(e.Size),
			Modified: e.Modified.UTC().Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, listResponse{
		Success:   true,
		Directory: s.lib.Dir(),
		Files:     files,
		Count:     len(files),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.svc.Gate().State()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Service:     serviceName,
		Version:     s.opts.Version,
		Model:       s.svc.Model(),
		ModelLoaded: state == engine.StateReady,
		ModelState:  state.String(),
		Endpoints:   endpoints,
		Timestamp:   s.now().UTC().Format(timeFormat),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      serviceName + " server is running",
		"docs":         "see /api/health for the available endpoints",
		"model_status": modelStatus(s.svc.Gate().State()),
	})
}

// ready writes a 503 and returns false unless the engine is loaded.
func (s *Server) ready(w http.ResponseWriter) bool {
	gate := s.svc.Gate()
	if gate.IsReady() {
		return true
	}
	state := gate.State()
	slog.Info("request rejected, model not ready", "state", state)
	writeJSON(w, http.StatusServiceUnavailable, notReadyBody(state, gate.Err()))
	return false
}

func (s *Server) badRequest(w http.ResponseWriter, msg, details string) {
	writeJSON(w, http.StatusBadRequest, errorBody(msg, details, kindBadRequest))
}

func modelStatus(state engine.State) string {
	switch state {
	case engine.StateReady:
		return "model loaded"
	case engine.StateLoading:
		return "model loading..."
	case engine.StateFailed:
		return "model failed to load"
	case engine.StateClosed:
		return "model unloaded"
	default:
		return "model not loaded"
	}
}

func segmentsJSON(segs []engine.Segment) []segmentJSON {
	out := make([]segmentJSON, 0, len(segs))
	for _, seg := range segs {
		out = append(out, segmentJSON{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  seg.Text,
		})
	}
	return out
}

func sizeMB(n int64) string {
	return fmt.Sprintf("%.2f", float64(n)/(1024*1024))
}
