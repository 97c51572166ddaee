// Package library resolves the audio a request refers to: files in the
// server's audio directory, or uploads saved for the duration of a request.
package library

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// listedExts are the extensions List reports.
var listedExts = []string{".wav", ".mp3"}

// NotFoundError reports a reference to a file absent from the audio
// directory. Available lists the directory's current file names.
type NotFoundError struct {
	Name      string
	Path      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("library: %q not found in %s", e.Name, filepath.Dir(e.Path))
}

// Entry describes one listed audio file.
type Entry struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Library is a read-only view of a server-controlled audio directory.
type Library struct {
	dir string
}

// New creates a Library rooted at dir, resolved to an absolute path.
func New(dir string) (*Library, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("library: resolve %q: %w", dir, err)
	}
	return &Library{dir: abs}, nil
}

// Dir returns the absolute audio directory.
func (l *Library) Dir() string { return l.dir }

// Resolve returns the path of name inside the directory. Names that are not
// plain file names never resolve.
func (l *Library) Resolve(name string) (string, error) {
	path := filepath.Join(l.dir, filepath.Base(name))
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", l.notFound(name, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", l.notFound(name, path)
		}
		return "", fmt.Errorf("library: stat %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", l.notFound(name, path)
	}
	return path, nil
}

func (l *Library) notFound(name, path string) *NotFoundError {
	available, err := l.Names()
	if err != nil {
		available = nil
	}
	return &NotFoundError{Name: name, Path: path, Available: available}
}

// Names returns every name in the directory that Resolve accepts, sorted.
func (l *Library) Names() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("library: read %s: %w", l.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := l.regular(e); ok {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// regular reports whether e is a regular file, following symlinks the way
// Resolve does, and returns the target's info.
func (l *Library) regular(e fs.DirEntry) (fs.FileInfo, bool) {
	var info fs.FileInfo
	var err error
	switch {
	case e.Type().IsRegular():
		info, err = e.Info()
	case e.Type()&fs.ModeSymlink != 0:
		info, err = os.Stat(filepath.Join(l.dir, e.Name()))
	default:
		return nil, false
	}
	// removed between ReadDir and stat, or a dangling link
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	return info, true
}

// List returns the .wav and .mp3 files in the directory, sorted by name.
func (l *Library) List() ([]Entry, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("library: read %s: %w", l.dir, err)
	}

	var out []Entry
	for _, e := range entries {
		if !listed(e.Name()) {
			continue
		}
		info, ok := l.regular(e)
		if !ok {
			continue
		}
		out = append(out, Entry{Name: e.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func listed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range listedExts {
		if ext == want {
			return true
		}
	}
	return false
}
