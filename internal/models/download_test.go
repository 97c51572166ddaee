package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func TestEnsureWhisperDownloads(t *testing.T) {
	payload := strings.Repeat("g", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "models", "ggml-tiny.en.bin")
	if err := EnsureWhisper(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("EnsureWhisper() error = %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading model: %v", err)
	}
	if string(got) != payload {
		t.Errorf("model content length = %d, want %d", len(got), len(payload))
	}
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestEnsureWhisperSkipsExisting(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(dest, []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := EnsureWhisper(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("EnsureWhisper() error = %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server hit %d times, want 0", hits.Load())
	}
}

func TestEnsureWhisperHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.bin")
	err := EnsureWhisper(context.Background(), srv.URL, dest)
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("EnsureWhisper() error = %v, want HTTP 404", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("model file should not exist after failed download")
	}
}

func TestEnsureWhisperCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "model.bin")
	if err := EnsureWhisper(ctx, srv.URL, dest); err == nil {
		t.Fatal("EnsureWhisper() with cancelled context should fail")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("model file should not exist after cancelled download")
	}
}

func TestProgressWriter(t *testing.T) {
	tmpDir := t.TempDir()
	f, err := os.Create(filepath.Join(tmpDir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	pw := &progressWriter{
		writer: f,
		total:  100,
		label:  "test",
	}

	data := make([]byte, 55)
	n, err := pw.Write(data)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 55 {
		t.Errorf("Write() n = %d, want 55", n)
	}
	if pw.written != 55 {
		t.Errorf("written = %d, want 55", pw.written)
	}
	if pw.reported != 50 {
		t.Errorf("reported = %d, want 50", pw.reported)
	}

	if _, err := pw.Write(make([]byte, 45)); err != nil {
		t.Fatal(err)
	}
	if pw.reported != 100 {
		t.Errorf("reported = %d, want 100", pw.reported)
	}
}
