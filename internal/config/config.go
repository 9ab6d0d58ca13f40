package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"composer/pkg/models"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Project  ProjectConfig  `toml:"project"`
	Media    MediaConfig    `toml:"media"`
	Database DatabaseConfig `toml:"database"`
	Audio    AudioConfig    `toml:"audio"`
	Editor   EditorConfig   `toml:"editor"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ProjectConfig contains timeline-wide settings
type ProjectConfig struct {
	FPS               float64 `toml:"fps"`
	ImageDuration     float64 `toml:"image_duration_seconds"`
	SettingsNamespace string  `toml:"settings_namespace"`
}

// MediaConfig contains media library configuration
type MediaConfig struct {
	LibraryPath     string   `toml:"library_path"`
	AudioFormats    []string `toml:"audio_formats"`
	VideoFormats    []string `toml:"video_formats"`
	ImageFormats    []string `toml:"image_formats"`
	WatchForChanges bool     `toml:"watch_for_changes"`
	ScanOnStartup   bool     `toml:"scan_on_startup"`
	ScanWorkers     int      `toml:"scan_workers"`
	FFmpegPath      string   `toml:"ffmpeg_path"`
	FFprobePath     string   `toml:"ffprobe_path"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path           string `toml:"path"`
	MaxConnections int    `toml:"max_connections"`
}

// AudioConfig contains audio scheduling and mixing configuration
type AudioConfig struct {
	SampleRate       int     `toml:"sample_rate"`
	Channels         int     `toml:"channels"`
	LookaheadMS      int     `toml:"lookahead_ms"`
	BufferIntervalMS int     `toml:"buffer_interval_ms"`
	UpdateIntervalMS int     `toml:"update_interval_ms"`
	LatencyPolicy    string  `toml:"latency_policy"`
	OutputLatencyMS  int     `toml:"output_latency_ms"`
	Volume           float64 `toml:"volume"`
}

// EditorConfig contains timeline editing defaults
type EditorConfig struct {
	Mode       string `toml:"mode"`
	Snap       bool   `toml:"snap"`
	SnapFrames int    `toml:"snap_frames"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        string `toml:"port"`
	Host        string `toml:"host"`
	EnableCORS  bool   `toml:"enable_cors"`
	ReadTimeout int    `toml:"read_timeout_seconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `toml:"level"`
	Format      string `toml:"format"`
	File        string `toml:"file"`
	LogRequests bool   `toml:"log_requests"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Project: ProjectConfig{
			FPS:               30,
			ImageDuration:     0,
			SettingsNamespace: "motion-composer",
		},
		Media: MediaConfig{
			LibraryPath:     "./media",
			AudioFormats:    []string{".wav", ".flac", ".mp3", ".m4a", ".ogg"},
			VideoFormats:    []string{".mp4", ".mov", ".webm"},
			ImageFormats:    []string{".png", ".jpg", ".jpeg", ".gif", ".webp"},
			WatchForChanges: true,
			ScanOnStartup:   true,
			ScanWorkers:     4,
			FFmpegPath:      "ffmpeg",
			FFprobePath:     "ffprobe",
		},
		Database: DatabaseConfig{
			Path:           "./composer.db",
			MaxConnections: 10,
		},
		Audio: AudioConfig{
			SampleRate:       48000,
			Channels:         2,
			LookaheadMS:      200,
			BufferIntervalMS: 100,
			UpdateIntervalMS: 16,
			LatencyPolicy:    "prep_audio",
			OutputLatencyMS:  0,
			Volume:           1,
		},
		Editor: EditorConfig{
			Mode:       "compose",
			Snap:       true,
			SnapFrames: 3,
		},
		Server: ServerConfig{
			Port:        "8080",
			Host:        "127.0.0.1",
			EnableCORS:  true,
			ReadTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "text",
			File:        "",
			LogRequests: true,
		},
	}
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# Composer Configuration
# Timeline, media library, audio and server settings.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Project.FPS <= 0 {
		return fmt.Errorf("project fps must be positive")
	}
	if c.Project.ImageDuration < 0 {
		return fmt.Errorf("image duration cannot be negative")
	}
	if c.Project.SettingsNamespace == "" {
		return fmt.Errorf("settings namespace cannot be empty")
	}

	if c.Media.LibraryPath == "" {
		return fmt.Errorf("media library path cannot be empty")
	}
	if len(c.Media.AudioFormats)+len(c.Media.VideoFormats)+len(c.Media.ImageFormats) == 0 {
		return fmt.Errorf("at least one media format must be specified")
	}
	if c.Media.ScanWorkers < 1 {
		return fmt.Errorf("scan workers must be at least 1")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample rate must be positive")
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio channels must be 1 or 2")
	}
	if c.Audio.UpdateIntervalMS <= 0 || c.Audio.BufferIntervalMS <= 0 {
		return fmt.Errorf("audio intervals must be positive")
	}
	// Each buffering pass must land inside the previous pass's window.
	if c.Audio.BufferIntervalMS+50 >= c.Audio.LookaheadMS {
		return fmt.Errorf("audio buffer interval (%dms) plus 50ms must be below the lookahead (%dms)",
			c.Audio.BufferIntervalMS, c.Audio.LookaheadMS)
	}
	validPolicies := map[string]bool{
		"desync": true, "prep_audio": true, "delay_video": true,
	}
	if !validPolicies[c.Audio.LatencyPolicy] {
		return fmt.Errorf("invalid latency policy: %s (must be desync, prep_audio, or delay_video)", c.Audio.LatencyPolicy)
	}
	if c.Audio.OutputLatencyMS < 0 {
		return fmt.Errorf("audio output latency cannot be negative")
	}
	if c.Audio.Volume < 0 {
		return fmt.Errorf("audio volume cannot be negative")
	}

	if c.Editor.Mode != "compose" && c.Editor.Mode != "clip" {
		return fmt.Errorf("invalid editor mode: %s (must be compose or clip)", c.Editor.Mode)
	}
	if c.Editor.SnapFrames < 0 {
		return fmt.Errorf("snap frames cannot be negative")
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Lookahead returns the audio scheduling window.
func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.Audio.LookaheadMS) * time.Millisecond
}

// BufferInterval returns how often the audio proxy buffers ahead.
func (c *Config) BufferInterval() time.Duration {
	return time.Duration(c.Audio.BufferIntervalMS) * time.Millisecond
}

// UpdateInterval returns how often the audio proxy advances its clock.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.Audio.UpdateIntervalMS) * time.Millisecond
}

// OutputLatency returns the configured output latency of the mixer.
func (c *Config) OutputLatency() time.Duration {
	return time.Duration(c.Audio.OutputLatencyMS) * time.Millisecond
}

// MediaType classifies a file by its lowercase extension. It reports false
// for files outside the configured formats.
func (c *Config) MediaType(ext string) (models.ClipType, bool) {
	for _, f := range c.Media.AudioFormats {
		if f == ext {
			return models.ClipAudio, true
		}
	}
	for _, f := range c.Media.VideoFormats {
		if f == ext {
			return models.ClipVideo, true
		}
	}
	for _, f := range c.Media.ImageFormats {
		if f == ext {
			return models.ClipImage, true
		}
	}
	return "", false
}
