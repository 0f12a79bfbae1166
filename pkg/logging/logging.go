// Package logging builds the logrus logger shared by the pipeline components.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"

	"segviewer/pkg/config"
)

// Setup creates a logger from the logging section of cfg.
// Messages go to stderr unless a log file is configured, in which case they
// go to a rotating file. The returned closer must be called on exit.
func Setup(cfg *config.Config) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	logger.SetLevel(level)

	if cfg.Logging.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Logging.File == "" {
		logger.SetOutput(os.Stderr)
		return logger, io.NopCloser(nil), nil
	}

	l := &lumberjack.Logger{
		Filename: cfg.Logging.File,
		MaxSize:  cfg.Logging.MaxSize, // megabytes
		MaxAge:   cfg.Logging.MaxAge,  // days
	}
	logger.SetOutput(l)
	logger.WithField("file", cfg.Logging.File).Info("Sending log messages to rotating file")
	return logger, l, nil
}

// Discard returns a logger that drops everything, for tests and library callers
// that do not care about log output.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Or returns logger when non-nil, else a discarding logger
func Or(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger == nil {
		return Discard()
	}
	return logger
}
