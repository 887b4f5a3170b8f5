package config

import "flag"

var (
	flagConfig   = flag.String("config", "", "Path to a .toml or .yaml config file")
	flagDebug    = flag.Bool("debug", false, "Enable debug logging and validation layers")
	flagBackend  = flag.String("backend", "", "Renderer backend: vulkan or headless")
	flagFrames   = flag.Int("frames-in-flight", 0, "Number of frames in flight")
	flagWorkers  = flag.Int("workers", 0, "Number of command recording workers")
	flagAssets   = flag.String("assets", "", "Assets directory")
	flagMaxFrame = flag.Int("max-frames", 0, "Stop after this many frames (0 runs until quit)")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// MaxFrames returns the --max-frames limit.
func MaxFrames() int {
	return *flagMaxFrame
}

func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Log.Level = "debug"
		cfg.Renderer.ValidationLayers = true
	}
	if *flagBackend != "" {
		cfg.Renderer.Backend = *flagBackend
	}
	if *flagFrames > 0 {
		cfg.Renderer.FramesInFlight = *flagFrames
	}
	if *flagWorkers > 0 {
		cfg.Renderer.RecordWorkers = *flagWorkers
	}
	if *flagAssets != "" {
		cfg.Assets.Dir = *flagAssets
	}
}
