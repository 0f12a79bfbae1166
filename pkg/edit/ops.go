// Package edit applies segmentation edits in submission order.
//
// Edits are expressed as Op values. A Sequencer collects them and applies
// everything queued since its last run as one batch, against one snapshot of
// the shared segmentation, publishing the result as a whole new buffer.
package edit

import (
	"fmt"

	"segviewer/internal/models"
)

// Op is one edit operation
type Op interface {
	// Kind names the operation in logs and metrics
	Kind() string
}

// PaintStroke stamps the brush at a canvas point, mapped back to volume
// coordinates with the view flags that were active when the user clicked.
type PaintStroke struct {
	CanvasX, CanvasY int

	// CanvasSize is the side of the square canvas in pixels
	CanvasSize int

	Brush Brush

	// Action relabels voxels under the brush. Nil means the sequencer's
	// current brush action.
	Action *Action

	Z int

	SwapXY, FlipX, FlipY bool
}

// FlipAxis reverses the segmentation along one axis (0=x, 1=y, 2=z)
type FlipAxis struct {
	Axis int
}

// Translate shifts the segmentation along z by Delta, zero filling
type Translate struct {
	Delta int
}

// MergeMask sets Label wherever the external mask is non-zero
type MergeMask struct {
	Mask *models.Volume

	// TargetShape is the case shape the mask was loaded for. Nil means the
	// shape of the segmentation being edited.
	TargetShape []int

	Label uint8
}

// SetBrushAction changes the action used by later paint strokes. It does not
// touch the volume.
type SetBrushAction struct {
	From, To uint8
}

// Save asks the sequencer to emit the segmentation as it stands at this point
// of the batch.
type Save struct{}

func (PaintStroke) Kind() string    { return "paint" }
func (FlipAxis) Kind() string       { return "flip" }
func (Translate) Kind() string      { return "translate" }
func (MergeMask) Kind() string      { return "merge_mask" }
func (SetBrushAction) Kind() string { return "set_action" }
func (Save) Kind() string           { return "save" }

func (p PaintStroke) String() string {
	return fmt.Sprintf("paint(%d,%d)@%d z=%d", p.CanvasX, p.CanvasY, p.CanvasSize, p.Z)
}
