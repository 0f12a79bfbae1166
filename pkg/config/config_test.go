package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies the values the viewer starts with
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Render.Resolution != 800 {
		t.Errorf("Expected resolution 800, got %d", cfg.Render.Resolution)
	}
	if cfg.Brush.Radius != 5 {
		t.Errorf("Expected brush radius 5, got %d", cfg.Brush.Radius)
	}
	if cfg.Brush.Action != 1 {
		t.Errorf("Expected brush action 1, got %d", cfg.Brush.Action)
	}
	if cfg.Pipeline.IdleInterval.Duration != 50*time.Millisecond {
		t.Errorf("Expected idle interval 50ms, got %s", cfg.Pipeline.IdleInterval)
	}
	if cfg.Pipeline.FastInterval.Duration != 5*time.Millisecond {
		t.Errorf("Expected fast interval 5ms, got %s", cfg.Pipeline.FastInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

// TestLoadMissingFile verifies that a missing file falls back to defaults
func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Render.Resolution != 800 {
		t.Errorf("Expected default resolution, got %d", cfg.Render.Resolution)
	}
}

// TestLoadYAML verifies partial YAML files override only the keys they name
func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segviewer.yaml")
	content := `
render:
  resolution: 512
  interpolation: bilinear
brush:
  radius: 3
  action: 12
pipeline:
  idleInterval: 20ms
save:
  compression: snappy
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Render.Resolution != 512 {
		t.Errorf("Expected resolution 512, got %d", cfg.Render.Resolution)
	}
	if cfg.Render.Interpolation != "bilinear" {
		t.Errorf("Expected bilinear, got %s", cfg.Render.Interpolation)
	}
	if cfg.Brush.Radius != 3 || cfg.Brush.Action != 12 {
		t.Errorf("Unexpected brush %+v", cfg.Brush)
	}
	if cfg.Pipeline.IdleInterval.Duration != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %s", cfg.Pipeline.IdleInterval)
	}
	if cfg.Pipeline.FastInterval.Duration != 5*time.Millisecond {
		t.Errorf("Expected untouched fast interval, got %s", cfg.Pipeline.FastInterval)
	}
	if cfg.Save.Compression != "snappy" {
		t.Errorf("Expected snappy, got %s", cfg.Save.Compression)
	}
}

// TestLoadTOML verifies the TOML code path
func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segviewer.toml")
	content := `
[render]
resolution = 256

[pipeline]
render_timeout = "2s"

[logging]
level = "debug"
max_log_size = 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Render.Resolution != 256 {
		t.Errorf("Expected resolution 256, got %d", cfg.Render.Resolution)
	}
	if cfg.Pipeline.RenderTimeout.Duration != 2*time.Second {
		t.Errorf("Expected 2s, got %s", cfg.Pipeline.RenderTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.MaxSize != 5 {
		t.Errorf("Unexpected logging %+v", cfg.Logging)
	}
}

// TestLoadInvalid verifies that bad values are rejected with a useful message
func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := "render:\n  resolution: 0\nbrush:\n  radius: -1\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("Expected error for invalid config, got nil")
	}
	for _, want := range []string{"render.resolution", "brush.radius"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %s, got %v", want, err)
		}
	}

	path = filepath.Join(t.TempDir(), "bad-duration.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  idleInterval: soon\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for unparsable duration, got nil")
	}
}

// TestSaveRoundTrip verifies that saved files load back identically
func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"cfg/segviewer.yaml", "cfg/segviewer.toml"} {
		path := filepath.Join(t.TempDir(), name)

		cfg := DefaultConfig()
		cfg.Render.Resolution = 640
		cfg.Pipeline.EditTimeout = Duration{3 * time.Second}
		if err := SaveConfig(cfg, path); err != nil {
			t.Fatalf("%s: failed to save: %v", name, err)
		}

		loaded, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("%s: failed to load: %v", name, err)
		}
		if loaded.Render.Resolution != 640 {
			t.Errorf("%s: expected resolution 640, got %d", name, loaded.Render.Resolution)
		}
		if loaded.Pipeline.EditTimeout.Duration != 3*time.Second {
			t.Errorf("%s: expected 3s edit timeout, got %s", name, loaded.Pipeline.EditTimeout)
		}
	}
}
