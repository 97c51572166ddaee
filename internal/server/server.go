// Package server exposes transcription over HTTP.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/susurro/internal/library"
	"github.com/chaz8081/susurro/internal/transcribe"
)

const (
	serviceName = "susurro"

	// timeFormat is ISO 8601 with millisecond precision.
	timeFormat = "2006-01-02T15:04:05.000Z07:00"
)

var endpoints = []string{
	"POST /api/transcribe-server-file",
	"POST /api/transcribe-upload",
	"GET /api/list-files",
	"GET /api/health",
	"GET /api/status/ws",
}

// Options configures a Server.
type Options struct {
	StaticDir      string // served for GET paths without a route; empty disables
	MaxUploadBytes int64
	Version        string
}

// Server routes API requests to the transcription service.
type Server struct {
	svc     *transcribe.Service
	lib     *library.Library
	uploads *library.Uploads
	opts    Options

	mux      *http.ServeMux
	upgrader websocket.Upgrader
	now      func() time.Time

	quit     chan struct{}
	quitOnce sync.Once
}

// New creates a Server and registers its routes.
func New(svc *transcribe.Service, lib *library.Library, uploads *library.Uploads, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		svc:     svc,
		lib:     lib,
		uploads: uploads,
		opts:    opts,
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now:  time.Now,
		quit: make(chan struct{}),
	}

	s.mux.HandleFunc("POST /api/transcribe-server-file", s.handleServerFile)
	s.mux.HandleFunc("POST /api/transcribe-upload", s.handleUpload)
	s.mux.HandleFunc("GET /api/list-files", s.handleListFiles)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status/ws", s.handleStatusWS)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	if opts.StaticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(opts.StaticDir)))
	}
	return s
}

// Handler returns the root handler with CORS, panic recovery and request
// logging applied.
func (s *Server) Handler() http.Handler {
	return logRequests(recoverer(cors(s.mux)))
}

// Close ends open status streams. It does not stop the HTTP listener.
func (s *Server) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}
