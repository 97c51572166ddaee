package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/susurro/internal/engine"
)

// Config holds all service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	LogLevel   string           `yaml:"log_level"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	StaticDir   string `yaml:"static_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// StorageConfig holds the audio and upload directories.
type StorageConfig struct {
	AudioDir      string `yaml:"audio_dir"`      // files transcribable by name
	UploadDir     string `yaml:"upload_dir"`     // uploaded files land here
	RetainUploads bool   `yaml:"retain_uploads"` // keep uploads after a successful transcription
}

// TranscribeConfig holds model and inference settings.
type TranscribeConfig struct {
	ModelPath     string `yaml:"model_path"`
	ModelName     string `yaml:"model_name"` // reported as model_used
	ModelURL      string `yaml:"model_url"`
	AutoDownload  bool   `yaml:"auto_download"`
	Language      string `yaml:"language"`
	ChunkLengthS  int    `yaml:"chunk_length_s"`
	Timestamps    bool   `yaml:"timestamps"`
	Task          string `yaml:"task"` // "transcribe" or "translate"
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// Params converts the inference settings to engine params.
func (c TranscribeConfig) Params() engine.Params {
	return engine.Params{
		Language:    c.Language,
		ChunkLength: time.Duration(c.ChunkLengthS) * time.Second,
		Timestamps:  c.Timestamps,
		Task:        c.Task,
	}
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "susurro")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	params := engine.DefaultParams()
	return &Config{
		Server: ServerConfig{
			Host:        "",
			Port:        3001,
			StaticDir:   "public",
			MaxUploadMB: 100,
		},
		Storage: StorageConfig{
			AudioDir:      "test-audio",
			UploadDir:     "uploads",
			RetainUploads: true,
		},
		Transcribe: TranscribeConfig{
			ModelPath:     "models/ggml-tiny.en.bin",
			ModelName:     "whisper-tiny.en",
			ModelURL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.en.bin",
			AutoDownload:  false,
			Language:      params.Language,
			ChunkLengthS:  int(params.ChunkLength / time.Second),
			Timestamps:    params.Timestamps,
			Task:          params.Task,
			MaxConcurrent: 1,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults and environment overrides are applied last. Tilde (~) in
// paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyEnv()
	cfg.expandPaths()
	return cfg, nil
}

// ApplyEnv overrides fields from SUSURRO_* environment variables.
// Unparseable numbers are ignored.
func (c *Config) ApplyEnv() {
	c.Server.Port = envInt("SUSURRO_PORT", c.Server.Port)
	c.Storage.AudioDir = envStr("SUSURRO_AUDIO_DIR", c.Storage.AudioDir)
	c.Storage.UploadDir = envStr("SUSURRO_UPLOAD_DIR", c.Storage.UploadDir)
	c.Transcribe.ModelPath = envStr("SUSURRO_MODEL_PATH", c.Transcribe.ModelPath)
	c.LogLevel = envStr("SUSURRO_LOG_LEVEL", c.LogLevel)
	c.expandPaths()
}

func (c *Config) expandPaths() {
	c.Transcribe.ModelPath = expandTilde(c.Transcribe.ModelPath)
	c.Storage.AudioDir = expandTilde(c.Storage.AudioDir)
	c.Storage.UploadDir = expandTilde(c.Storage.UploadDir)
	c.Server.StaticDir = expandTilde(c.Server.StaticDir)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be > 0")
	}

	if c.Storage.AudioDir == "" {
		return fmt.Errorf("storage.audio_dir must not be empty")
	}
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage.upload_dir must not be empty")
	}

	t := c.Transcribe
	if t.ModelPath == "" {
		return fmt.Errorf("transcribe.model_path must not be empty")
	}
	if t.ModelName == "" {
		return fmt.Errorf("transcribe.model_name must not be empty")
	}
	if t.AutoDownload && t.ModelURL == "" {
		return fmt.Errorf("transcribe.model_url must be set when auto_download is on")
	}
	if t.ChunkLengthS <= 0 {
		return fmt.Errorf("transcribe.chunk_length_s must be > 0")
	}
	if t.MaxConcurrent <= 0 {
		return fmt.Errorf("transcribe.max_concurrent must be > 0")
	}
	if err := t.Params().Validate(); err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ParseLogLevel maps a log_level string to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WriteDefault writes the default config to DefaultConfigPath with a header
// comment. It returns ("", nil) without touching anything if the file
// already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	header := "# susurro configuration\n" +
		"# Relative paths resolve against the working directory.\n" +
		"# SUSURRO_PORT, SUSURRO_AUDIO_DIR, SUSURRO_UPLOAD_DIR, SUSURRO_MODEL_PATH\n" +
		"# and SUSURRO_LOG_LEVEL override the values below.\n\n"

	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
