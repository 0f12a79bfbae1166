// Package config provides configuration loading and management for segviewer.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so that it reads and writes as "50ms" in both formats
type Duration struct {
	time.Duration
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// MarshalText implements encoding.TextMarshaler, used by the TOML codec
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML codec
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// Config represents the application configuration
type Config struct {
	// Render parameters
	Render struct {
		// Resolution is the side of the square rendered image in pixels
		Resolution int `yaml:"resolution" toml:"resolution"`

		// Interpolation selects the resize kernel: "nearest" or "bilinear"
		Interpolation string `yaml:"interpolation" toml:"interpolation"`

		// CacheEntries is how many rendered images are kept. 0 disables the cache.
		CacheEntries int `yaml:"cacheEntries" toml:"cache_entries"`

		// NumCores is how many goroutines a single render may use
		NumCores int `yaml:"numCores" toml:"num_cores"`

		// Placeholder is "noise" or "blank"
		Placeholder string `yaml:"placeholder" toml:"placeholder"`
	} `yaml:"render" toml:"render"`

	// Brush parameters
	Brush struct {
		// Radius of the paint brush in voxels
		Radius int `yaml:"radius" toml:"radius"`

		// Action is encoded as from_label*10 + to_label
		Action int `yaml:"action" toml:"action"`
	} `yaml:"brush" toml:"brush"`

	// Pipeline timing
	Pipeline struct {
		// IdleInterval is the poll delay when no output was delivered
		IdleInterval Duration `yaml:"idleInterval" toml:"idle_interval"`

		// FastInterval is the poll delay right after an image was delivered
		FastInterval Duration `yaml:"fastInterval" toml:"fast_interval"`

		// RenderTimeout bounds a single render worker
		RenderTimeout Duration `yaml:"renderTimeout" toml:"render_timeout"`

		// EditTimeout bounds a single edit batch
		EditTimeout Duration `yaml:"editTimeout" toml:"edit_timeout"`

		// ShutdownTimeout is how long Close waits for workers to exit
		ShutdownTimeout Duration `yaml:"shutdownTimeout" toml:"shutdown_timeout"`
	} `yaml:"pipeline" toml:"pipeline"`

	// Save parameters
	Save struct {
		// Compression is one of "none", "gzip", "snappy", "zstd"
		Compression string `yaml:"compression" toml:"compression"`
	} `yaml:"save" toml:"save"`

	// Logging parameters
	Logging struct {
		// Level is a logrus level name
		Level string `yaml:"level" toml:"level"`

		// File enables a rotating log file when set
		File string `yaml:"file" toml:"file"`

		// MaxSize is the size in megabytes before the log file is rotated
		MaxSize int `yaml:"maxSize" toml:"max_log_size"`

		// MaxAge is the number of days to keep rotated files
		MaxAge int `yaml:"maxAge" toml:"max_log_age"`

		// JSON switches the formatter to JSON
		JSON bool `yaml:"json" toml:"json"`
	} `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Render.Resolution = 800
	cfg.Render.Interpolation = "nearest"
	cfg.Render.CacheEntries = 64
	cfg.Render.NumCores = runtime.NumCPU()
	cfg.Render.Placeholder = "noise"

	cfg.Brush.Radius = 5
	cfg.Brush.Action = 1 // paint label 1 over background

	cfg.Pipeline.IdleInterval = Duration{50 * time.Millisecond}
	cfg.Pipeline.FastInterval = Duration{5 * time.Millisecond}
	cfg.Pipeline.RenderTimeout = Duration{4 * time.Second}
	cfg.Pipeline.EditTimeout = Duration{10 * time.Second}
	cfg.Pipeline.ShutdownTimeout = Duration{500 * time.Millisecond}

	cfg.Save.Compression = "gzip"

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 7

	return cfg
}

// Validate checks values the pipeline cannot work with
func (c *Config) Validate() error {
	var errs []error
	if c.Render.Resolution <= 0 {
		errs = append(errs, fmt.Errorf("render.resolution must be positive, got %d", c.Render.Resolution))
	}
	switch c.Render.Interpolation {
	case "nearest", "bilinear":
	default:
		errs = append(errs, fmt.Errorf("render.interpolation must be nearest or bilinear, got %q", c.Render.Interpolation))
	}
	switch c.Render.Placeholder {
	case "noise", "blank":
	default:
		errs = append(errs, fmt.Errorf("render.placeholder must be noise or blank, got %q", c.Render.Placeholder))
	}
	if c.Render.CacheEntries < 0 {
		errs = append(errs, fmt.Errorf("render.cacheEntries must be non-negative, got %d", c.Render.CacheEntries))
	}
	if c.Brush.Radius < 0 {
		errs = append(errs, fmt.Errorf("brush.radius must be non-negative, got %d", c.Brush.Radius))
	}
	if c.Brush.Action < 0 || c.Brush.Action > 99 {
		errs = append(errs, fmt.Errorf("brush.action must be two single-digit labels, got %d", c.Brush.Action))
	}
	switch c.Save.Compression {
	case "none", "gzip", "snappy", "zstd":
	default:
		errs = append(errs, fmt.Errorf("save.compression must be one of none, gzip, snappy, zstd, got %q", c.Save.Compression))
	}
	for name, d := range map[string]Duration{
		"pipeline.idleInterval":    c.Pipeline.IdleInterval,
		"pipeline.fastInterval":    c.Pipeline.FastInterval,
		"pipeline.renderTimeout":   c.Pipeline.RenderTimeout,
		"pipeline.editTimeout":     c.Pipeline.EditTimeout,
		"pipeline.shutdownTimeout": c.Pipeline.ShutdownTimeout,
	} {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	return errors.Join(errs...)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isTOML(configPath) {
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(cfg)
		data = []byte(sb.String())
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
