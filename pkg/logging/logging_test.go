package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"segviewer/pkg/config"
)

func TestSetupStderr(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "debug"

	logger, closer, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer closer.Close()

	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", logger.GetLevel())
	}
}

func TestSetupFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.File = filepath.Join(t.TempDir(), "segviewer.log")
	cfg.Logging.JSON = true

	logger, closer, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	logger.WithField("slot", "overlay").Warn("render timed out")
	if err := closer.Close(); err != nil {
		t.Fatalf("Failed to close log file: %v", err)
	}

	data, err := os.ReadFile(cfg.Logging.File)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"slot":"overlay"`) {
		t.Errorf("Expected JSON field in log file, got %s", data)
	}
}

func TestSetupBadLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "loud"
	if _, _, err := Setup(cfg); err == nil {
		t.Error("Expected error for unknown level, got nil")
	}
}
