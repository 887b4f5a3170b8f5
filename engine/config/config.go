// Package config holds the engine and renderer settings.
package config

import (
	"github.com/cockroachdb/errors"
)

// Config holds all engine settings.
type Config struct {
	Window   WindowConfig   `toml:"window" yaml:"window"`
	Renderer RendererConfig `toml:"renderer" yaml:"renderer"`
	Memory   MemoryConfig   `toml:"memory" yaml:"memory"`
	Upload   UploadConfig   `toml:"upload" yaml:"upload"`
	Assets   AssetsConfig   `toml:"assets" yaml:"assets"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

// WindowConfig holds the presentation window settings.
type WindowConfig struct {
	Title  string `toml:"title" yaml:"title"`
	PosX   uint32 `toml:"pos_x" yaml:"pos_x"`
	PosY   uint32 `toml:"pos_y" yaml:"pos_y"`
	Width  uint32 `toml:"width" yaml:"width"`
	Height uint32 `toml:"height" yaml:"height"`
	VSync  bool   `toml:"vsync" yaml:"vsync"`
}

// RendererConfig holds the rendering core settings.
type RendererConfig struct {
	// Backend is "vulkan" or "headless".
	Backend          string     `toml:"backend" yaml:"backend"`
	FramesInFlight   int        `toml:"frames_in_flight" yaml:"frames_in_flight"`
	RecordWorkers    int        `toml:"record_workers" yaml:"record_workers"`
	DrawChunkSize    int        `toml:"draw_chunk_size" yaml:"draw_chunk_size"`
	ValidationLayers bool       `toml:"validation_layers" yaml:"validation_layers"`
	ClearColor       [4]float32 `toml:"clear_color" yaml:"clear_color"`
	ShaderDir        string     `toml:"shader_dir" yaml:"shader_dir"`
	// DeferredQueueSize bounds how many retired objects can wait for their frame fence.
	DeferredQueueSize int `toml:"deferred_queue_size" yaml:"deferred_queue_size"`
}

// MemoryConfig holds the device memory allocator settings.
type MemoryConfig struct {
	BlockSizeMB        uint64 `toml:"block_size_mb" yaml:"block_size_mb"`
	DedicatedThreshold uint64 `toml:"dedicated_threshold_mb" yaml:"dedicated_threshold_mb"`
}

// UploadConfig holds the resource uploader settings.
type UploadConfig struct {
	Concurrency  int  `toml:"concurrency" yaml:"concurrency"`
	GenerateMips bool `toml:"generate_mips" yaml:"generate_mips"`
}

// AssetsConfig holds asset directory settings.
type AssetsConfig struct {
	Dir   string `toml:"dir" yaml:"dir"`
	Watch bool   `toml:"watch" yaml:"watch"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level        string `toml:"level" yaml:"level"`
	File         string `toml:"file" yaml:"file"`
	ReportCaller bool   `toml:"report_caller" yaml:"report_caller"`
	MaxSizeMB    int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups   int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays   int    `toml:"max_age_days" yaml:"max_age_days"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Title:  "Anima",
			PosX:   100,
			PosY:   100,
			Width:  1280,
			Height: 720,
			VSync:  true,
		},
		Renderer: RendererConfig{
			Backend:           "vulkan",
			FramesInFlight:    2,
			RecordWorkers:     4,
			DrawChunkSize:     64,
			ValidationLayers:  false,
			ClearColor:        [4]float32{0.0, 0.0, 0.2, 1.0},
			ShaderDir:         "assets/shaders",
			DeferredQueueSize: 256,
		},
		Memory: MemoryConfig{
			BlockSizeMB:        64,
			DedicatedThreshold: 32,
		},
		Upload: UploadConfig{
			Concurrency:  4,
			GenerateMips: true,
		},
		Assets: AssetsConfig{
			Dir:   "assets",
			Watch: false,
		},
		Log: LogConfig{
			Level:        "info",
			ReportCaller: true,
			MaxSizeMB:    10,
			MaxBackups:   3,
			MaxAgeDays:   7,
		},
	}
}

// Validate rejects settings the renderer cannot run with.
func (c *Config) Validate() error {
	switch c.Renderer.Backend {
	case "vulkan", "headless":
	default:
		return errors.Newf("renderer.backend must be 'vulkan' or 'headless', got %q", c.Renderer.Backend)
	}
	if c.Renderer.FramesInFlight < 1 || c.Renderer.FramesInFlight > 4 {
		return errors.Newf("renderer.frames_in_flight must be within [1, 4], got %d", c.Renderer.FramesInFlight)
	}
	if c.Renderer.RecordWorkers < 1 {
		return errors.Newf("renderer.record_workers must be >= 1, got %d", c.Renderer.RecordWorkers)
	}
	if c.Renderer.DrawChunkSize < 1 {
		return errors.Newf("renderer.draw_chunk_size must be >= 1, got %d", c.Renderer.DrawChunkSize)
	}
	if c.Renderer.DeferredQueueSize < 1 {
		return errors.Newf("renderer.deferred_queue_size must be >= 1, got %d", c.Renderer.DeferredQueueSize)
	}
	if c.Memory.BlockSizeMB < 1 {
		return errors.New("memory.block_size_mb must be >= 1")
	}
	if c.Upload.Concurrency < 1 {
		return errors.Newf("upload.concurrency must be >= 1, got %d", c.Upload.Concurrency)
	}
	return nil
}
