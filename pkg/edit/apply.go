package edit

import (
	"errors"
	"fmt"

	"segviewer/internal/models"
)

// ErrMalformed is returned for edits that cannot be applied to the volume at
// hand. The volume is left untouched.
var ErrMalformed = errors.New("malformed edit")

// Apply performs op on vol in place and reports whether any voxel changed.
// vol must be a (x, y, z) label volume owned by the caller. Ops that do not
// act on voxels (SetBrushAction, Save) are no-ops here.
func Apply(vol *models.Volume, op Op) (bool, error) {
	if vol == nil || vol.Dims() != 3 {
		return false, fmt.Errorf("%w: %s needs a 3-D segmentation", ErrMalformed, op.Kind())
	}
	switch o := op.(type) {
	case PaintStroke:
		return paint(vol, o)
	case FlipAxis:
		return flip(vol, o.Axis)
	case Translate:
		return translate(vol, o.Delta), nil
	case MergeMask:
		return mergeMask(vol, o)
	case SetBrushAction, Save:
		return false, nil
	default:
		return false, fmt.Errorf("%w: unknown op %T", ErrMalformed, op)
	}
}

func paint(vol *models.Volume, p PaintStroke) (bool, error) {
	nx, ny, nz := vol.Shape[0], vol.Shape[1], vol.Shape[2]
	if p.CanvasSize <= 0 {
		return false, fmt.Errorf("%w: canvas size %d", ErrMalformed, p.CanvasSize)
	}
	if !p.Brush.Valid() {
		return false, fmt.Errorf("%w: brush mask of %d values for radius %d", ErrMalformed, len(p.Brush.Mask), p.Brush.Radius)
	}
	if p.Z < 0 || p.Z >= nz {
		return false, fmt.Errorf("%w: slice %d outside [0,%d)", ErrMalformed, p.Z, nz)
	}
	action := DefaultAction
	if p.Action != nil {
		action = *p.Action
	}

	vx, vy := CanvasToVolume(p.CanvasX, p.CanvasY, p.CanvasSize, ny, p.SwapXY, p.FlipX, p.FlipY)
	r := p.Brush.Radius
	side := p.Brush.Side()

	changed := false
	for i := 0; i < side; i++ {
		x := vx - r + i
		if x < 0 || x >= nx {
			continue
		}
		for j := 0; j < side; j++ {
			y := vy - r + j
			if y < 0 || y >= ny || !p.Brush.At(i, j) {
				continue
			}
			idx := (x*ny+y)*nz + p.Z
			if nv := action.Apply(vol.Data[idx]); nv != vol.Data[idx] {
				vol.Data[idx] = nv
				changed = true
			}
		}
	}
	return changed, nil
}

// flip reverses one axis by swapping contiguous blocks
func flip(vol *models.Volume, axis int) (bool, error) {
	if axis < 0 || axis >= vol.Dims() {
		return false, fmt.Errorf("%w: axis %d", ErrMalformed, axis)
	}
	n := vol.Shape[axis]
	if n < 2 {
		return false, nil
	}
	outer, inner := 1, 1
	for _, d := range vol.Shape[:axis] {
		outer *= d
	}
	for _, d := range vol.Shape[axis+1:] {
		inner *= d
	}

	changed := false
	for o := 0; o < outer; o++ {
		base := o * n * inner
		for i := 0; i < n/2; i++ {
			a := vol.Data[base+i*inner : base+(i+1)*inner]
			b := vol.Data[base+(n-1-i)*inner : base+(n-i)*inner]
			for k := range a {
				if a[k] != b[k] {
					a[k], b[k] = b[k], a[k]
					changed = true
				}
			}
		}
	}
	return changed, nil
}

// translate shifts every z column by delta. Positive delta moves content to
// higher z; vacated slices become background.
func translate(vol *models.Volume, delta int) bool {
	if delta == 0 {
		return false
	}
	nz := vol.Shape[2]
	col := make([]uint8, nz)
	changed := false
	for off := 0; off < len(vol.Data); off += nz {
		src := vol.Data[off : off+nz]
		for z := range col {
			col[z] = 0
			if from := z - delta; from >= 0 && from < nz {
				col[z] = src[from]
			}
		}
		for z, v := range col {
			if src[z] != v {
				src[z] = v
				changed = true
			}
		}
	}
	return changed
}

// mergeMask writes label wherever the clipped mask is set. The mask covers at
// most the first min(mask z, volume z) slices; voxels past that, or outside
// the mask's in-plane extent, keep their label.
func mergeMask(vol *models.Volume, m MergeMask) (bool, error) {
	if m.Mask == nil || m.Mask.Dims() != 3 {
		return false, fmt.Errorf("%w: mask must be a 3-D volume", ErrMalformed)
	}
	if m.TargetShape != nil && !models.ShapesEqual(m.TargetShape, vol.Shape) {
		return false, fmt.Errorf("%w: mask loaded for shape %v, segmentation is %v", ErrMalformed, m.TargetShape, vol.Shape)
	}
	nx, ny, nz := vol.Shape[0], vol.Shape[1], vol.Shape[2]
	mx, my, mz := m.Mask.Shape[0], m.Mask.Shape[1], m.Mask.Shape[2]
	top := min(mz, nz)

	changed := false
	for x := 0; x < min(mx, nx); x++ {
		for y := 0; y < min(my, ny); y++ {
			src := m.Mask.Data[(x*my+y)*mz:]
			dst := vol.Data[(x*ny+y)*nz:]
			for z := 0; z < top; z++ {
				if src[z] != 0 && dst[z] != m.Label {
					dst[z] = m.Label
					changed = true
				}
			}
		}
	}
	return changed, nil
}
