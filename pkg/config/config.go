// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"image/color"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"github.com/user/subscale/pkg/adapters/imagingdecoder"
	"github.com/user/subscale/pkg/adapters/oshost"
	"github.com/user/subscale/pkg/adapters/smartdecoder"
	"github.com/user/subscale/pkg/ports"
)

// Config represents the full configuration for subscale.
type Config struct {
	// Decoder
	Backend    string `yaml:"backend"`
	Fallback   bool   `yaml:"fallback"`
	TileWidth  int    `yaml:"tile_width"`
	TileHeight int    `yaml:"tile_height"`

	// Host
	PackageName   string `yaml:"package_name"`
	ResourceRoot  string `yaml:"resource_root"`
	AssetRoot     string `yaml:"asset_root"`
	HTTPTimeoutMs int    `yaml:"http_timeout_ms"`

	// Shared caches (imaging backend)
	CacheDir            string `yaml:"cache_dir"`
	MemoryCacheEntries  int    `yaml:"memory_cache_entries"`
	ReleaseSharedCaches bool   `yaml:"release_shared_caches"`

	// Render
	BackgroundColor string `yaml:"background_color"`
	GridColor       string `yaml:"grid_color"`
	Quality         int    `yaml:"quality"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Debug
	Debug    bool   `yaml:"debug"`
	DebugDir string `yaml:"debug_dir"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	size := ports.DefaultTileSize()
	return Config{
		// Decoder
		Backend:    string(smartdecoder.BackendNative),
		Fallback:   true,
		TileWidth:  size.Width,
		TileHeight: size.Height,

		// Host
		PackageName:   "local",
		ResourceRoot:  "./res",
		AssetRoot:     "./assets",
		HTTPTimeoutMs: 30000,

		// Shared caches
		MemoryCacheEntries: imagingdecoder.DefaultMemoryEntries,

		// Render
		BackgroundColor: "#1a1a2e",
		GridColor:       "#4ade80",
		Quality:         85,

		// Logging
		LogLevel: "info",

		// Debug
		DebugDir: "./debug",
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a decoder.
func (c Config) Validate() error {
	if _, err := smartdecoder.ParseBackend(c.Backend); err != nil {
		return err
	}
	if c.TileWidth <= 0 || c.TileHeight <= 0 {
		return fmt.Errorf("tile size must be positive, got %dx%d", c.TileWidth, c.TileHeight)
	}
	if c.MemoryCacheEntries < 0 {
		return fmt.Errorf("memory_cache_entries must not be negative, got %d", c.MemoryCacheEntries)
	}
	if _, err := ports.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 0 and 100, got %d", c.Quality)
	}
	return nil
}

// TileSizeFunc returns the configured tile size supplier.
func (c Config) TileSizeFunc() ports.TileSizeFunc {
	return ports.FixedTileSize(c.TileWidth, c.TileHeight)
}

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() ports.LogLevel {
	level, err := ports.ParseLogLevel(c.LogLevel)
	if err != nil {
		return ports.LevelInfo
	}
	return level
}

// CacheOptions converts the cache settings for imagingdecoder.
func (c Config) CacheOptions(fs ports.FileSystem) imagingdecoder.CacheOptions {
	return imagingdecoder.CacheOptions{
		MemoryEntries: c.MemoryCacheEntries,
		DiskDir:       c.CacheDir,
		FileSystem:    fs,
	}
}

// HostConfig converts the host settings for oshost.
func (c Config) HostConfig() oshost.Config {
	return oshost.Config{
		PackageName:  c.PackageName,
		ResourceRoot: c.ResourceRoot,
		AssetRoot:    c.AssetRoot,
		HTTPClient:   &http.Client{Timeout: time.Duration(c.HTTPTimeoutMs) * time.Millisecond},
	}
}

// SmartOptions converts the decoder settings. Runtime collaborators (runner,
// filesystem, sink, logger, cache) are left for the caller to fill in.
func (c Config) SmartOptions() (smartdecoder.Options, error) {
	backend, err := smartdecoder.ParseBackend(c.Backend)
	if err != nil {
		return smartdecoder.Options{}, err
	}
	return smartdecoder.Options{
		Backend:             backend,
		Fallback:            c.Fallback,
		TileSize:            c.TileSizeFunc(),
		ReleaseSharedCaches: c.ReleaseSharedCaches,
	}, nil
}

// ParseColor parses "#rrggbb" or "#rgb" (the leading # is optional).
// Invalid input yields black.
func ParseColor(hex string) color.Color {
	if hex == "" {
		return color.Black
	}
	if !strings.HasPrefix(hex, "#") {
		hex = "#" + hex
	}

	c, err := colorful.Hex(hex)
	if err != nil {
		return color.Black
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
