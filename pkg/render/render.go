// Package render turns volume slices into display images.
//
// Two variants exist: Base renders a grayscale scan slice and Overlay renders
// a colour-coded, semi-transparent segmentation slice. Both are pure functions
// of their inputs and may run concurrently.
package render

import (
	"image"
	"image/color"
	"math/rand/v2"

	"golang.org/x/image/draw"

	"segviewer/internal/models"
)

// OverlayAlpha is the opacity of labelled voxels (0.6 of full opacity)
const OverlayAlpha uint8 = 153

// placeholderSize is the side of the noise image that is scaled up when no
// data is available
const placeholderSize = 512

// Options control how slices are rendered
type Options struct {
	// Bilinear selects bilinear resizing of the base image instead of
	// nearest neighbour
	Bilinear bool

	// NumCores is how many goroutines extract a plane
	NumCores int

	// BlankPlaceholder renders black instead of noise when data is missing
	BlankPlaceholder bool
}

// Renderer renders base and overlay images with fixed options
type Renderer struct {
	opts Options
}

// NewRenderer creates a renderer
func NewRenderer(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

func (r *Renderer) scaler() draw.Scaler {
	if r.opts.Bilinear {
		return draw.ApproxBiLinear
	}
	return draw.NearestNeighbor
}

func resolution(p models.ViewParams) int {
	if p.Resolution <= 0 {
		return models.DefaultResolution
	}
	return p.Resolution
}

// Base renders the scan slice (phase, :, :, z) as an opaque grayscale image of
// Resolution x Resolution pixels. A missing volume or out of range slice
// yields a placeholder of the same size.
func (r *Renderer) Base(scan *models.Volume, p models.ViewParams) *image.RGBA {
	res := resolution(p)
	dst := image.NewRGBA(image.Rect(0, 0, res, res))

	plane, err := ExtractPlane(scan, p, r.opts.NumCores)
	if err != nil || scan.Dims() != 4 {
		plane = r.placeholderPlane(256)
	}

	// Scaling a Gray source into an RGBA destination widens it to three
	// identical colour channels with full opacity.
	r.scaler().Scale(dst, dst.Bounds(), plane, plane.Bounds(), draw.Src, nil)
	return dst
}

// Overlay renders the segmentation slice (:, :, z): label 1 red, label 2 green,
// background blue and fully transparent, labelled voxels at OverlayAlpha.
// Labels are categorical, so the plane is always resized by nearest neighbour
// before colouring.
func (r *Renderer) Overlay(segm *models.Volume, p models.ViewParams) *image.NRGBA {
	res := resolution(p)

	plane, err := ExtractPlane(segm, p, r.opts.NumCores)
	if err != nil || segm.Dims() != 3 {
		plane = r.placeholderPlane(3)
	}

	// The Gray to RGBA fast path copies each label into the R channel.
	labels := image.NewRGBA(image.Rect(0, 0, res, res))
	draw.NearestNeighbor.Scale(labels, labels.Bounds(), plane, plane.Bounds(), draw.Src, nil)

	dst := image.NewNRGBA(labels.Bounds())
	for i := 0; i < len(dst.Pix); i += 4 {
		c := LabelColor(labels.Pix[i])
		dst.Pix[i+0] = c.R
		dst.Pix[i+1] = c.G
		dst.Pix[i+2] = c.B
		dst.Pix[i+3] = c.A
	}
	return dst
}

// LabelColor returns the overlay colour of a label
func LabelColor(label uint8) color.NRGBA {
	var c color.NRGBA
	switch label {
	case 0:
		c.B = 255
	case 1:
		c.R = 255
	case 2:
		c.G = 255
	}
	if label > 0 {
		c.A = OverlayAlpha
	}
	return c
}

// placeholderPlane returns noise with values in [0, levels) or a blank plane.
// The noise is seeded so that placeholders are reproducible.
func (r *Renderer) placeholderPlane(levels int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, placeholderSize, placeholderSize))
	if r.opts.BlankPlaceholder {
		return img
	}
	rng := rand.New(rand.NewPCG(0x5e9, uint64(levels)))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.IntN(levels))
	}
	return img
}
