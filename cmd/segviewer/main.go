package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"segviewer/internal/models"
	"segviewer/pkg/config"
	"segviewer/pkg/ingest"
	"segviewer/pkg/logging"
	"segviewer/pkg/metrics"
	"segviewer/pkg/persist"
	"segviewer/pkg/pipeline"
	"segviewer/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "segviewer.yaml", "Configuration file (.yaml or .toml)")
	createConfig := flag.Bool("create-config", false, "Write a default configuration file and exit")
	scanPath := flag.String("scan", "", "Scan to load (saved 4D volume); a synthetic phantom when empty")
	scanDir := flag.String("scan-dir", "", "Directory of numbered PNG or JPEG slices to load as a single phase scan")
	labelsPath := flag.String("labels", "", "Segmentation to load (saved 3D volume); empty starts from background")
	scriptPath := flag.String("script", "", "YAML script of view and edit steps to run headless")
	framesDir := flag.String("frames", "frames", "Directory to write rendered frames to")
	savePath := flag.String("save", "segmentation.segv", "Where Save writes the segmentation")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	numCores := flag.Int("cores", 0, "Number of CPU cores for slice extraction (default: from config)")
	flag.Parse()

	if *createConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to create config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *numCores > 0 {
		cfg.Render.NumCores = *numCores
	}

	logger, closer, err := logging.Setup(cfg)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	if err := run(cfg, logger, options{
		scan:        *scanPath,
		scanDir:     *scanDir,
		labels:      *labelsPath,
		script:      *scriptPath,
		frames:      *framesDir,
		save:        *savePath,
		metricsAddr: *metricsAddr,
	}); err != nil {
		logger.WithError(err).Error("Session failed")
		closer.Close()
		os.Exit(1)
	}
}

type options struct {
	scan, scanDir  string
	labels, script string
	frames, save   string
	metricsAddr    string
}

func run(cfg *config.Config, logger *logrus.Logger, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register(prometheus.DefaultRegisterer)
	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.WithField("addr", opts.metricsAddr).Info("Serving metrics")
	}

	scan, labels, err := loadCase(opts, cfg.Render.NumCores, logger)
	if err != nil {
		return err
	}

	display, err := visualization.NewFrameWriter(opts.frames, logger)
	if err != nil {
		return err
	}
	defer display.Close()
	compression, err := persist.ParseCompression(cfg.Save.Compression)
	if err != nil {
		return err
	}
	sink := persist.NewFileSink(opts.save, compression, logger)

	c, err := pipeline.New(cfg, display, sink, logger)
	if err != nil {
		return err
	}
	if err := c.LoadCase(scan, labels); err != nil {
		c.Close()
		return err
	}
	c.Move(scan.Shape[3] / 2)

	var sessionErr error
	if opts.script != "" {
		script, err := LoadScript(opts.script)
		if err != nil {
			c.Close()
			return err
		}
		logger.WithFields(logrus.Fields{
			"script": filepath.Base(opts.script),
			"steps":  len(script.Steps),
		}).Info("Running script")
		sessionErr = script.Run(ctx, c)
	} else {
		logger.Info("No script given, rendering until interrupted")
		sessionErr = c.Run(ctx)
	}

	closeErr := c.Close()
	displayErr := display.Close()
	logger.WithFields(logrus.Fields{
		"frames": display.Frames(),
		"dir":    opts.frames,
	}).Info("Session finished")
	return errors.Join(sessionErr, closeErr, displayErr)
}

func loadCase(opts options, numCores int, logger logrus.FieldLogger) (*models.Volume, *models.Volume, error) {
	var (
		scan, labels *models.Volume
		err          error
	)
	switch {
	case opts.scanDir != "":
		scan, err = ingest.LoadSliceStack(opts.scanDir, numCores, logger)
	case opts.scan != "":
		scan, err = persist.Load(opts.scan)
	default:
		logger.Info("No scan given, using a synthetic phantom")
		scan, err = phantom(2, 64, 32)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load scan: %w", err)
	}
	if opts.labels != "" {
		if labels, err = persist.Load(opts.labels); err != nil {
			return nil, nil, fmt.Errorf("failed to load segmentation: %w", err)
		}
	}
	return scan, labels, nil
}
