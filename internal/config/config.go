// Package config handles viewer configuration loading and management.
package config

import (
	"github.com/Faultbox/gltfcache/internal/engine/lighting"
	"github.com/Faultbox/gltfcache/internal/resource"
)

// Config holds all viewer settings.
type Config struct {
	Window  WindowConfig    `yaml:"window"`
	Viewer  ViewerConfig    `yaml:"viewer"`
	Cache   resource.Config `yaml:"cache"`
	Logging LoggingConfig   `yaml:"logging"`
}

// WindowConfig holds display settings.
type WindowConfig struct {
	Title      string `yaml:"title"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Fullscreen bool   `yaml:"fullscreen"`
	VSync      bool   `yaml:"vsync"`
}

// ViewerConfig holds how models are loaded and shown.
type ViewerConfig struct {
	Models         []string     `yaml:"models"`
	UseSharedCache bool         `yaml:"use_shared_cache"`
	ComputeBounds  bool         `yaml:"compute_bounds"`
	TextureMips    int          `yaml:"texture_mips"`
	BoundBox       string       `yaml:"bound_box"` // none, local or global
	Watch          bool         `yaml:"watch"`
	Background     [4]float32   `yaml:"background"`
	Sun            lighting.Sun `yaml:"sun"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Title:  "glTF Viewer",
			Width:  1280,
			Height: 720,
			VSync:  true,
		},
		Viewer: ViewerConfig{
			UseSharedCache: true,
			TextureMips:    6,
			BoundBox:       "none",
			Background:     [4]float32{0.2, 0.2, 0.25, 1},
			Sun:            lighting.Sun{Longitude: 42, Latitude: 53},
		},
		Cache: resource.DefaultConfig(),
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
