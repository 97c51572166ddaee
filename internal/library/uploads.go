package library

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Upload is a transient file written for one request.
type Upload struct {
	Path         string
	OriginalName string
	SavedName    string
	Size         int64
}

// Source identifies the audio for one request: either an upload or the name
// of a file in the audio directory, never both.
type Source struct {
	Upload *Upload
	Name   string
}

// Validate checks that exactly one of Upload and Name is set.
func (s Source) Validate() error {
	switch {
	case s.Upload != nil && s.Name != "":
		return errors.New("library: source has both an upload and a file name")
	case s.Upload == nil && s.Name == "":
		return errors.New("library: source has neither an upload nor a file name")
	}
	return nil
}

// Owned reports whether the request owns the file and may delete it.
func (s Source) Owned() bool { return s.Upload != nil }

// Uploads stores uploaded audio under a directory with generated names.
type Uploads struct {
	dir    string
	retain bool
	now    func() time.Time
}

// NewUploads creates the upload directory if needed. When retain is false,
// Finish deletes uploads after successful requests too.
func NewUploads(dir string, retain bool) (*Uploads, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("library: create upload dir: %w", err)
	}
	return &Uploads{dir: dir, retain: retain, now: time.Now}, nil
}

// Save copies r into a new file named <unix-millis>-<uuid>-<base name>.
func (u *Uploads) Save(originalName string, r io.Reader) (*Upload, error) {
	base := filepath.Base(strings.ReplaceAll(originalName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "audio"
	}
	saved := fmt.Sprintf("%d-%s-%s", u.now().UnixMilli(), uuid.NewString(), base)
	path := filepath.Join(u.dir, saved)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("library: create upload: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("library: write upload: %w", err)
	}

	return &Upload{Path: path, OriginalName: originalName, SavedName: saved, Size: n}, nil
}

// Finish applies the retention policy once a request is done. Failed
// requests always delete their upload; successful ones keep it only when
// retention is enabled.
func (u *Uploads) Finish(up *Upload, failed bool) {
	if up == nil || (!failed && u.retain) {
		return
	}
	if err := os.Remove(up.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove upload", "path", up.Path, "error", err)
		return
	}
	slog.Debug("upload removed", "path", up.Path, "failed", failed)
}
