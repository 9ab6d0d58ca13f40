package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"composer/pkg/models"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "composer.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected default config file to be created: %v", err)
	}
	if cfg.Audio.LookaheadMS != 200 || cfg.Audio.LatencyPolicy != "prep_audio" {
		t.Errorf("Unexpected audio defaults %+v", cfg.Audio)
	}

	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Reloading default config failed: %v", err)
	}
	if reloaded.Project.FPS != cfg.Project.FPS || reloaded.Editor != cfg.Editor {
		t.Errorf("Reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "composer.toml")
	content := `
[project]
fps = 60.0

[audio]
lookahead_ms = 300
buffer_interval_ms = 200
latency_policy = "delay_video"

[editor]
mode = "clip"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Project.FPS != 60 {
		t.Errorf("Expected fps 60, got %v", cfg.Project.FPS)
	}
	if cfg.Lookahead() != 300*time.Millisecond || cfg.BufferInterval() != 200*time.Millisecond {
		t.Errorf("Unexpected intervals %v / %v", cfg.Lookahead(), cfg.BufferInterval())
	}
	if cfg.UpdateInterval() != 16*time.Millisecond {
		t.Errorf("Expected default update interval, got %v", cfg.UpdateInterval())
	}
	if cfg.Editor.Mode != "clip" || cfg.Editor.SnapFrames != 3 {
		t.Errorf("Unexpected editor config %+v", cfg.Editor)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "composer.toml")
	if err := os.WriteFile(path, []byte("[audio]\nlookahead_ms = 120\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Expected invalid configuration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero fps", func(c *Config) { c.Project.FPS = 0 }, "fps"},
		{"buffer interval too close to lookahead", func(c *Config) { c.Audio.BufferIntervalMS = 150 }, "lookahead"},
		{"buffer interval just fits", func(c *Config) { c.Audio.BufferIntervalMS = 149 }, ""},
		{"unknown latency policy", func(c *Config) { c.Audio.LatencyPolicy = "ignore" }, "latency policy"},
		{"three output channels", func(c *Config) { c.Audio.Channels = 3 }, "channels"},
		{"unknown editor mode", func(c *Config) { c.Editor.Mode = "ripple" }, "editor mode"},
		{"no formats", func(c *Config) {
			c.Media.AudioFormats, c.Media.VideoFormats, c.Media.ImageFormats = nil, nil, nil
		}, "format"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMediaType(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		ext  string
		want models.ClipType
		ok   bool
	}{
		{".wav", models.ClipAudio, true},
		{".mp4", models.ClipVideo, true},
		{".webp", models.ClipImage, true},
		{".txt", "", false},
	}
	for _, tt := range tests {
		got, ok := cfg.MediaType(tt.ext)
		if got != tt.want || ok != tt.ok {
			t.Errorf("MediaType(%q) = %q, %v; want %q, %v", tt.ext, got, ok, tt.want, tt.ok)
		}
	}
	if cfg.GetAddress() != "127.0.0.1:8080" {
		t.Errorf("Unexpected address %s", cfg.GetAddress())
	}
}
