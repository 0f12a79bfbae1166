// Package visualization writes what the viewer would show to image files.
package visualization

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"segviewer/internal/models"
	"segviewer/pkg/logging"
)

// frameQueue bounds the frames waiting to be encoded. Updates arriving while
// it is full are dropped.
const frameQueue = 16

// FrameWriter composites the latest overlay over the latest base image and
// saves every update as a numbered PNG. It stands in for an on-screen canvas
// in headless sessions. Encoding runs on a background goroutine so the Show
// methods return promptly; Close flushes it.
type FrameWriter struct {
	outputDir string
	logger    logrus.FieldLogger
	queue     chan frame
	g         errgroup.Group
	closeOnce sync.Once

	mu      sync.Mutex
	base    *image.RGBA
	overlay *image.NRGBA
	params  models.ViewParams
	closed  bool
	frames  int
	dropped int
	err     error
}

type frame struct {
	base    *image.RGBA
	overlay *image.NRGBA
	params  models.ViewParams
}

// NewFrameWriter creates the output directory and starts the encoder
func NewFrameWriter(outputDir string, logger logrus.FieldLogger) (*FrameWriter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}
	w := &FrameWriter{
		outputDir: outputDir,
		logger:    logging.Or(logger).WithField("dir", outputDir),
		queue:     make(chan frame, frameQueue),
	}
	w.g.Go(w.encodeLoop)
	return w, nil
}

// ShowBase replaces the base layer and queues a frame
func (w *FrameWriter) ShowBase(img *image.RGBA, p models.ViewParams) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.base, w.params = img, p
	w.enqueueLocked()
}

// ShowOverlay replaces the overlay layer and queues a frame
func (w *FrameWriter) ShowOverlay(img *image.NRGBA, p models.ViewParams) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.overlay = img
	if w.base == nil {
		w.params = p
	}
	w.enqueueLocked()
}

// Close waits for queued frames to be written. Later updates are ignored.
func (w *FrameWriter) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
	})
	_ = w.g.Wait()
	return w.Err()
}

// Compose draws the overlay over the base. Either layer may be nil.
func Compose(base *image.RGBA, overlay *image.NRGBA) *image.RGBA {
	var bounds image.Rectangle
	switch {
	case base != nil:
		bounds = base.Bounds()
	case overlay != nil:
		bounds = overlay.Bounds()
	default:
		return nil
	}
	out := image.NewRGBA(bounds)
	if base != nil {
		draw.Draw(out, bounds, base, bounds.Min, draw.Src)
	}
	if overlay != nil {
		// The overlay can lag behind a resolution change; scale it to fit
		if overlay.Bounds().Eq(bounds) {
			draw.Draw(out, bounds, overlay, bounds.Min, draw.Over)
		} else {
			draw.NearestNeighbor.Scale(out, bounds, overlay, overlay.Bounds(), draw.Over, nil)
		}
	}
	return out
}

func (w *FrameWriter) enqueueLocked() {
	if w.closed || (w.base == nil && w.overlay == nil) {
		return
	}
	select {
	case w.queue <- frame{base: w.base, overlay: w.overlay, params: w.params}:
	default:
		w.dropped++
		w.logger.WithField("dropped", w.dropped).Debug("Frame queue full, update dropped")
	}
}

func (w *FrameWriter) encodeLoop() error {
	for f := range w.queue {
		img := Compose(f.base, f.overlay)

		w.mu.Lock()
		n := w.frames
		w.mu.Unlock()
		filename := filepath.Join(w.outputDir, fmt.Sprintf("frame_%04d_p%d_z%03d.png", n, f.params.Phase, f.params.Z))

		err := SaveFrame(img, filename)
		w.mu.Lock()
		if err != nil {
			// The display path cannot fail the pipeline; remember the first error
			if w.err == nil {
				w.err = err
			}
			w.mu.Unlock()
			w.logger.WithError(err).Warn("Failed to write frame")
			continue
		}
		w.frames++
		w.mu.Unlock()
		w.logger.WithField("file", filepath.Base(filename)).Trace("Frame written")
	}
	return nil
}

// Frames returns how many frames were written so far
func (w *FrameWriter) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Err returns the first write error, if any
func (w *FrameWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// SaveFrame saves an image as a PNG file
func SaveFrame(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
