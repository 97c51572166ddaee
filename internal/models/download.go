// Package models fetches speech-recognition model files.
package models

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// EnsureWhisper makes sure a ggml whisper model exists at dest, downloading
// it from url when missing. The file is written to dest+".tmp" and renamed
// into place once complete, so a partial download never looks like a model.
func EnsureWhisper(ctx context.Context, url, dest string) error {
	return ensure(ctx, http.DefaultClient, url, dest)
}

func ensure(ctx context.Context, client *http.Client, url, dest string) error {
	// Check if already downloaded
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		slog.Debug("model already present", "path", dest, "size_mb", toMB(info.Size()))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("models: creating models dir: %w", err)
	}

	slog.Info("downloading model", "url", url, "dest", dest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("models: building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("models: downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models: download failed: HTTP %d", resp.StatusCode)
	}

	tmpPath := dest + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("models: creating temp file: %w", err)
	}

	pw := &progressWriter{
		writer: f,
		total:  resp.ContentLength,
		label:  filepath.Base(dest),
	}

	written, err := io.Copy(pw, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: writing model file: %w", err)
	}
	if written == 0 {
		os.Remove(tmpPath)
		return fmt.Errorf("models: download of %s was empty", url)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: moving model file: %w", err)
	}

	slog.Info("model downloaded", "path", dest, "size_mb", toMB(written))
	return nil
}

// progressWriter wraps an io.Writer and logs progress every 10 percent.
// Without a known total it logs every 50 MB.
type progressWriter struct {
	writer   io.Writer
	total    int64
	written  int64
	reported int64
	label    string
}

const unknownSizeStep = 50 << 20

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)

	if pw.total > 0 {
		pct := pw.written * 100 / pw.total
		if step := pct / 10 * 10; step > pw.reported {
			pw.reported = step
			slog.Info("download progress",
				"file", pw.label,
				"percent", step,
				"mb", toMB(pw.written),
				"total_mb", toMB(pw.total))
		}
	} else if pw.written-pw.reported >= unknownSizeStep {
		pw.reported = pw.written
		slog.Info("download progress", "file", pw.label, "mb", toMB(pw.written))
	}
	return n, err
}

func toMB(n int64) string {
	return fmt.Sprintf("%.1f", float64(n)/(1024*1024))
}
