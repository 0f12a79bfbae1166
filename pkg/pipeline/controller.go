// Package pipeline coordinates rendering and editing of one case.
//
// The Controller owns the scan and segmentation volumes, two render slots
// (base and overlay) and one edit sequencer. A single loop polls the slots and
// forwards finished images to a Display; triggers from the UI only enqueue
// work and never block on it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"segviewer/internal/models"
	"segviewer/pkg/config"
	"segviewer/pkg/edit"
	"segviewer/pkg/logging"
	"segviewer/pkg/metrics"
	"segviewer/pkg/persist"
	"segviewer/pkg/render"
	"segviewer/pkg/scheduler"
	"segviewer/pkg/shared"
)

// Display receives finished images. Calls come from the goroutine running
// Controller.Run and must return promptly.
type Display interface {
	ShowBase(img *image.RGBA, p models.ViewParams)
	ShowOverlay(img *image.NRGBA, p models.ViewParams)
}

type baseFrame struct {
	img    *image.RGBA
	params models.ViewParams
}

type overlayFrame struct {
	img    *image.NRGBA
	params models.ViewParams
}

// Controller is the coordinating loop of the viewer
type Controller struct {
	cfg     *config.Config
	logger  logrus.FieldLogger
	display Display
	sink    persist.Sink

	scan  *shared.Volume
	segm  *shared.Volume
	cache *render.Cache

	base    *scheduler.Replacement[models.ViewParams, baseFrame]
	overlay *scheduler.Replacement[models.ViewParams, overlayFrame]
	edits   *edit.Sequencer

	mu    sync.Mutex
	view  models.ViewParams
	brush edit.Brush

	saves     errgroup.Group
	saveMu    sync.Mutex
	saveSeq   uint64
	lastSaved uint64
}

// New builds a controller with no case loaded. sink may be nil, in which
// case saves are logged and dropped.
func New(cfg *config.Config, display Display, sink persist.Sink, logger logrus.FieldLogger) (*Controller, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if display == nil {
		return nil, errors.New("pipeline needs a display")
	}
	action, err := edit.ParseAction(cfg.Brush.Action)
	if err != nil {
		return nil, err
	}

	logger = logging.Or(logger)
	c := &Controller{
		cfg:     cfg,
		logger:  logger,
		display: display,
		sink:    sink,
		scan:    shared.New("scan", logger),
		segm:    shared.New("segmentation", logger),
		cache: render.NewCache(render.NewRenderer(render.Options{
			Bilinear:         cfg.Render.Interpolation == "bilinear",
			NumCores:         cfg.Render.NumCores,
			BlankPlaceholder: cfg.Render.Placeholder == "blank",
		}), cfg.Render.CacheEntries),
		brush: edit.NewBrush(cfg.Brush.Radius),
	}

	c.view = models.DefaultViewParams()
	c.view.Resolution = cfg.Render.Resolution

	renderTimeout := cfg.Pipeline.RenderTimeout.Duration
	c.base = scheduler.NewReplacement(c.renderBase, scheduler.Options{
		Name: metrics.SlotBase, Timeout: renderTimeout, Logger: logger,
	})
	c.overlay = scheduler.NewReplacement(c.renderOverlay, scheduler.Options{
		Name: metrics.SlotOverlay, Timeout: renderTimeout, Logger: logger,
	})
	c.edits = edit.NewSequencer(c.segm, edit.Options{
		Timeout: cfg.Pipeline.EditTimeout.Duration,
		Logger:  logger,
	})
	c.edits.Schedule(edit.SetBrushAction{From: action.From, To: action.To})

	return c, nil
}

func (c *Controller) renderBase(ctx context.Context, p models.ViewParams) (baseFrame, error) {
	vol, gen := c.scan.CurrentWithGeneration()
	return baseFrame{img: c.cache.Base(vol, gen, p), params: p}, nil
}

func (c *Controller) renderOverlay(ctx context.Context, p models.ViewParams) (overlayFrame, error) {
	vol, gen := c.segm.CurrentWithGeneration()
	return overlayFrame{img: c.cache.Overlay(vol, gen, p), params: p}, nil
}

// Run polls the slots until ctx is done. After a delivery it re-polls after
// the fast interval, otherwise after the idle interval.
func (c *Controller) Run(ctx context.Context) error {
	fast := c.cfg.Pipeline.FastInterval.Duration
	idle := c.cfg.Pipeline.IdleInterval.Duration

	c.logger.WithFields(logrus.Fields{
		"fast": fast,
		"idle": idle,
	}).Info("Pipeline loop started")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Pipeline loop stopped")
			return nil
		case <-timer.C:
		}
		if c.Step() {
			timer.Reset(fast)
		} else {
			timer.Reset(idle)
		}
	}
}

// Step runs one iteration of the loop: it ticks every slot and forwards
// finished results without blocking. It reports whether anything was
// delivered to the display.
func (c *Controller) Step() bool {
	c.edits.Tick()
	select {
	case <-c.edits.Changed():
		c.overlay.Schedule(c.View())
	default:
	}
	c.drainSaves()

	c.base.Tick()
	c.overlay.Tick()

	delivered := false
	if f, ok := c.base.TryReceive(); ok {
		c.display.ShowBase(f.img, f.params)
		delivered = true
	}
	if f, ok := c.overlay.TryReceive(); ok {
		c.display.ShowOverlay(f.img, f.params)
		delivered = true
	}
	return delivered
}

// Idle reports whether no slot has work running or pending
func (c *Controller) Idle() bool {
	return c.edits.State() == edit.Idle && c.edits.Pending() == 0 &&
		c.base.State() == scheduler.Idle && !c.base.Pending() &&
		c.overlay.State() == scheduler.Idle && !c.overlay.Pending()
}

// Settle steps the loop until every slot is idle, for headless sessions that
// need each command fully applied before the next.
func (c *Controller) Settle(ctx context.Context) error {
	interval := c.cfg.Pipeline.FastInterval.Duration
	for {
		c.Step()
		if c.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Controller) drainSaves() {
	for {
		select {
		case vol := <-c.edits.Saves():
			c.persist(vol)
		default:
			return
		}
	}
}

// persist writes vol in the background. Saves may finish out of order; an
// older snapshot never overwrites a newer one.
func (c *Controller) persist(vol *models.Volume) {
	if c.sink == nil {
		c.logger.Warn("No save destination configured, snapshot dropped")
		return
	}
	c.saveMu.Lock()
	c.saveSeq++
	seq := c.saveSeq
	c.saveMu.Unlock()

	c.saves.Go(func() error {
		c.saveMu.Lock()
		defer c.saveMu.Unlock()
		if seq < c.lastSaved {
			return nil
		}
		if err := c.sink.Save(context.Background(), vol); err != nil {
			c.logger.WithError(err).Error("Failed to save segmentation")
			return err
		}
		c.lastSaved = seq

		s := vol.Summary()
		c.logger.WithFields(logrus.Fields{
			"labels":  s.LabelCounts,
			"nonzero": s.NonZero,
		}).Debug("Saved segmentation summary")
		return nil
	})
}

// View returns the current view parameters
func (c *Controller) View() models.ViewParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Scan returns the published scan, read-only
func (c *Controller) Scan() *models.Volume {
	return c.scan.Current()
}

// Segmentation returns an owned copy of the current segmentation
func (c *Controller) Segmentation() *models.Volume {
	return c.segm.Snapshot()
}

func (c *Controller) triggerRenders() {
	p := c.View()
	c.base.Schedule(p)
	c.overlay.Schedule(p)
}

// SetView applies fn to the view parameters and re-renders
func (c *Controller) SetView(fn func(p *models.ViewParams)) {
	c.mu.Lock()
	fn(&c.view)
	c.view = c.view.Clamp(c.scan.Current())
	c.mu.Unlock()
	c.triggerRenders()
}

// Move scrolls by delta slices, staying inside the scan
func (c *Controller) Move(delta int) {
	c.SetView(func(p *models.ViewParams) { p.Z += delta })
}

// LoadCase replaces the scan and segmentation. A nil labels volume starts an
// empty segmentation of the scan's spatial shape.
func (c *Controller) LoadCase(scan, labels *models.Volume) error {
	if scan == nil || scan.Dims() != 4 {
		return fmt.Errorf("scan must be a (phase, x, y, z) volume")
	}
	spatial := scan.SpatialShape()
	if labels == nil {
		labels = models.NewVolume(spatial...)
	} else if !models.ShapesEqual(labels.Shape, spatial) {
		return fmt.Errorf("segmentation shape %v does not match scan %v: %w", labels.Shape, spatial, shared.ErrShapeMismatch)
	}

	c.base.Reset()
	c.overlay.Reset()
	c.scan.Replace(scan)
	c.segm.Replace(labels)

	c.mu.Lock()
	c.view = c.view.Clamp(scan)
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"scan":         scan.Shape,
		"segmentation": labels.Shape,
	}).Info("Case loaded")
	c.triggerRenders()
	return nil
}

// ClearSegmentation replaces the segmentation with background
func (c *Controller) ClearSegmentation() error {
	shape := c.segm.Shape()
	if shape == nil {
		return fmt.Errorf("no case loaded")
	}
	c.base.Reset()
	c.overlay.Reset()
	if err := c.segm.Install(models.NewVolume(shape...)); err != nil {
		return err
	}
	c.triggerRenders()
	return nil
}

// Paint stamps the brush at a canvas point using the current view
func (c *Controller) Paint(cx, cy, canvasSize int) {
	c.mu.Lock()
	p, brush := c.view, c.brush
	c.mu.Unlock()

	c.edits.Schedule(edit.PaintStroke{
		CanvasX:    cx,
		CanvasY:    cy,
		CanvasSize: canvasSize,
		Brush:      brush,
		Z:          p.Z,
		SwapXY:     p.SwapXY,
		FlipX:      p.FlipX,
		FlipY:      p.FlipY,
	})
}

// FlipSegmentation reverses the segmentation along axis
func (c *Controller) FlipSegmentation(axis int) {
	c.edits.Schedule(edit.FlipAxis{Axis: axis})
}

// Translate shifts the segmentation along z
func (c *Controller) Translate(delta int) {
	c.edits.Schedule(edit.Translate{Delta: delta})
}

// MergeMask merges an external mask into the segmentation as label
func (c *Controller) MergeMask(mask *models.Volume, label uint8) {
	c.edits.Schedule(edit.MergeMask{Mask: mask, TargetShape: c.segm.Shape(), Label: label})
}

// SetBrushAction sets the action of later strokes from a from*10+to code
func (c *Controller) SetBrushAction(code int) error {
	a, err := edit.ParseAction(code)
	if err != nil {
		return err
	}
	c.edits.Schedule(edit.SetBrushAction{From: a.From, To: a.To})
	return nil
}

// SetBrushRadius rebuilds the brush used by later strokes
func (c *Controller) SetBrushRadius(r int) error {
	if r < 0 {
		return fmt.Errorf("brush radius must be non-negative, got %d", r)
	}
	c.mu.Lock()
	c.brush = edit.NewBrush(r)
	c.mu.Unlock()
	return nil
}

// Save writes the segmentation as it stands after every edit scheduled so far
func (c *Controller) Save() {
	c.edits.Schedule(edit.Save{})
}

// Close stops all slots within the shutdown timeout and waits for pending
// saves. Workers that fail to stop are reported, not hidden.
func (c *Controller) Close() error {
	timeout := c.cfg.Pipeline.ShutdownTimeout.Duration

	// A running edit batch blocks on a full save channel, so keep draining
	// while it finishes
	stop := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case vol := <-c.edits.Saves():
				c.persist(vol)
			case <-stop:
				return
			}
		}
	}()

	var g errgroup.Group
	g.Go(func() error { return c.base.Close(timeout) })
	g.Go(func() error { return c.overlay.Close(timeout) })
	g.Go(func() error { return c.edits.Close(timeout) })
	stopErr := g.Wait()
	close(stop)
	<-drained

	c.drainSaves()
	saveErr := c.saves.Wait()

	hits, misses := c.cache.Stats()
	c.logger.WithFields(logrus.Fields{
		"cacheHits":   hits,
		"cacheMisses": misses,
	}).Info("Pipeline closed")
	return errors.Join(stopErr, saveErr)
}
