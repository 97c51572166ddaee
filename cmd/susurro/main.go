package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/susurro/internal/config"
	"github.com/chaz8081/susurro/internal/engine"
	"github.com/chaz8081/susurro/internal/engine/whisper"
	"github.com/chaz8081/susurro/internal/library"
	"github.com/chaz8081/susurro/internal/models"
	"github.com/chaz8081/susurro/internal/server"
	"github.com/chaz8081/susurro/internal/transcribe"
)

const version = "1.0.0"

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/susurro/config.yaml)")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "init-config: %v\n", err)
			os.Exit(1)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s, leaving it alone\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	for _, dir := range []string{cfg.Storage.AudioDir, cfg.Storage.UploadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	lib, err := library.New(cfg.Storage.AudioDir)
	if err != nil {
		return err
	}
	uploads, err := library.NewUploads(cfg.Storage.UploadDir, cfg.Storage.RetainUploads)
	if err != nil {
		return err
	}

	tr, err := transcribe.New(transcribe.Options{
		Params:        cfg.Transcribe.Params(),
		Model:         cfg.Transcribe.ModelName,
		MaxConcurrent: cfg.Transcribe.MaxConcurrent,
	})
	if err != nil {
		return err
	}

	gate := engine.NewGate(loader(cfg.Transcribe))

	srv := server.New(transcribe.NewService(gate, tr), lib, uploads, server.Options{
		StaticDir:      cfg.Server.StaticDir,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		Version:        version,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The listener starts before the model is loaded; requests meanwhile
	// get 503 with state "loading".
	go func() {
		if err := gate.Initialize(ctx); err != nil {
			slog.Error("model unavailable, transcription requests will fail", "error", err, "model_path", cfg.Transcribe.ModelPath)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = gate.Close()
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		// Handlers may still be inside the engine. The model is left to the
		// process exit rather than freed under them.
		slog.Warn("shutdown timed out, engine left loaded", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := gate.Close(); err != nil {
		slog.Warn("closing engine", "error", err)
	}
	slog.Info("goodbye")
	return nil
}

// loader downloads the model first when auto_download is on, then loads it
// into whisper.
func loader(tc config.TranscribeConfig) engine.Loader {
	return func(ctx context.Context) (engine.Engine, error) {
		if tc.AutoDownload {
			if err := models.EnsureWhisper(ctx, tc.ModelURL, tc.ModelPath); err != nil {
				return nil, err
			}
		}
		if _, err := os.Stat(tc.ModelPath); err != nil {
			return nil, fmt.Errorf("model file %s: %w (set transcribe.auto_download to fetch it)", tc.ModelPath, err)
		}
		return whisper.Load(tc.ModelPath)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		fmt.Printf("Config loaded from %s\n", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	cfg := config.Default()
	cfg.ApplyEnv()
	return cfg, nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	host := cfg.Server.Host
	if host == "" {
		host = "localhost"
	}
	fmt.Println("=== susurro ===")
	fmt.Printf("  Listen:  http://%s:%d\n", host, cfg.Server.Port)
	fmt.Printf("  Model:   %s (%s)\n", cfg.Transcribe.ModelName, cfg.Transcribe.ModelPath)
	fmt.Printf("  Audio:   %s\n", cfg.Storage.AudioDir)
	fmt.Printf("  Uploads: %s (retain: %t)\n", cfg.Storage.UploadDir, cfg.Storage.RetainUploads)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/transcribe-server-file")
	fmt.Println("    POST /api/transcribe-upload")
	fmt.Println("    GET  /api/list-files")
	fmt.Println("    GET  /api/health")
	fmt.Println("    GET  /api/status/ws")
	fmt.Println("===============")
}
