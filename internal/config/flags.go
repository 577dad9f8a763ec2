package config

import "flag"

var (
	flagConfig        = flag.String("config", "", "Path to config file")
	flagDebug         = flag.Bool("debug", false, "Enable debug logging")
	flagPrivate       = flag.Bool("private", false, "Give every model its own resource cache")
	flagComputeBounds = flag.Bool("compute_bounds", false, "Recompute bounds from vertex positions")
	flagWatch         = flag.Bool("watch", false, "Reload models when their files change")
	flagBoundBox      = flag.String("bbox", "", "Bounding box overlay: none, local or global")
	flagWidth         = flag.Int("width", 0, "Window width")
	flagHeight        = flag.Int("height", 0, "Window height")
)

// ParseFlags parses command-line flags. Call this early in main(). Remaining
// arguments are model files.
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config, args []string) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagPrivate {
		cfg.Viewer.UseSharedCache = false
	}
	if *flagComputeBounds {
		cfg.Viewer.ComputeBounds = true
	}
	if *flagWatch {
		cfg.Viewer.Watch = true
	}
	if *flagBoundBox != "" {
		cfg.Viewer.BoundBox = *flagBoundBox
	}
	if *flagWidth > 0 {
		cfg.Window.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Window.Height = *flagHeight
	}
	if len(args) > 0 {
		cfg.Viewer.Models = append([]string(nil), args...)
	}
}
