package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Renderer.Backend != "vulkan" {
		t.Errorf("expected vulkan backend, got %s", cfg.Renderer.Backend)
	}
	if cfg.Renderer.FramesInFlight != 2 {
		t.Errorf("expected 2 frames in flight, got %d", cfg.Renderer.FramesInFlight)
	}
	if cfg.Window.Width != 1280 || cfg.Window.Height != 720 {
		t.Errorf("expected 1280x720, got %dx%d", cfg.Window.Width, cfg.Window.Height)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "anima.toml",
			content: `
[renderer]
backend = "headless"
frames_in_flight = 3
record_workers = 8

[window]
width = 800
height = 600
`,
		},
		{
			name: "yaml",
			file: "anima.yaml",
			content: `
renderer:
  backend: headless
  frames_in_flight: 3
  record_workers: 8
window:
  width: 800
  height: 600
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg := Default()
			if err := loadFromFile(cfg, path); err != nil {
				t.Fatalf("loadFromFile failed: %v", err)
			}
			if cfg.Renderer.Backend != "headless" {
				t.Errorf("expected headless backend, got %s", cfg.Renderer.Backend)
			}
			if cfg.Renderer.FramesInFlight != 3 {
				t.Errorf("expected 3 frames in flight, got %d", cfg.Renderer.FramesInFlight)
			}
			if cfg.Renderer.RecordWorkers != 8 {
				t.Errorf("expected 8 workers, got %d", cfg.Renderer.RecordWorkers)
			}
			if cfg.Window.Width != 800 || cfg.Window.Height != 600 {
				t.Errorf("expected 800x600, got %dx%d", cfg.Window.Width, cfg.Window.Height)
			}
			// Values missing from the file keep their defaults.
			if cfg.Renderer.DrawChunkSize != 64 {
				t.Errorf("expected default chunk size 64, got %d", cfg.Renderer.DrawChunkSize)
			}
		})
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anima.ini")
	if err := os.WriteFile(path, []byte("x=1"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := loadFromFile(Default(), path); err == nil {
		t.Error("expected an error for an unsupported extension")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, ext := range []string{".toml", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "anima"+ext)

			cfg := Default()
			cfg.Renderer.FramesInFlight = 4
			cfg.Log.File = "anima.log"
			if err := cfg.SaveTo(path); err != nil {
				t.Fatalf("SaveTo failed: %v", err)
			}

			loaded := Default()
			if err := loadFromFile(loaded, path); err != nil {
				t.Fatalf("loadFromFile failed: %v", err)
			}
			if loaded.Renderer.FramesInFlight != 4 {
				t.Errorf("expected 4 frames in flight, got %d", loaded.Renderer.FramesInFlight)
			}
			if loaded.Log.File != "anima.log" {
				t.Errorf("expected log file anima.log, got %q", loaded.Log.File)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Renderer.Backend = "metal" }},
		{"zero frames in flight", func(c *Config) { c.Renderer.FramesInFlight = 0 }},
		{"too many frames in flight", func(c *Config) { c.Renderer.FramesInFlight = 5 }},
		{"no workers", func(c *Config) { c.Renderer.RecordWorkers = 0 }},
		{"zero chunk size", func(c *Config) { c.Renderer.DrawChunkSize = 0 }},
		{"zero deferred queue", func(c *Config) { c.Renderer.DeferredQueueSize = 0 }},
		{"zero block size", func(c *Config) { c.Memory.BlockSizeMB = 0 }},
		{"no upload concurrency", func(c *Config) { c.Upload.Concurrency = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
