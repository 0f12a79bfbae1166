package models

// DefaultResolution is the side of the rendered square image in pixels
const DefaultResolution = 800

// ViewParams is the snapshot of display parameters taken when a render is
// requested. It is a value type; the coordinating loop owns the live copy.
type ViewParams struct {
	// FlipX and FlipY toggle the orientation of the volume x and y axes
	FlipX bool `yaml:"flipX"`
	FlipY bool `yaml:"flipY"`

	// SwapXY transposes the in-plane axes
	SwapXY bool `yaml:"swapXY"`

	// Phase selects the scan phase (first axis of a 4D scan)
	Phase int `yaml:"phase"`

	// Z is the axial slice index
	Z int `yaml:"z"`

	// Resolution is the side of the output image
	Resolution int `yaml:"resolution"`
}

// DefaultViewParams matches the orientation the viewer opens with
func DefaultViewParams() ViewParams {
	return ViewParams{
		SwapXY:     true,
		FlipX:      true,
		FlipY:      false,
		Resolution: DefaultResolution,
	}
}

// Clamp keeps Phase and Z inside the extent of scan, a (phase, x, y, z) volume.
// A nil scan leaves the parameters untouched.
func (p ViewParams) Clamp(scan *Volume) ViewParams {
	if scan == nil || scan.Dims() != 4 {
		return p
	}
	p.Phase = clampInt(p.Phase, 0, scan.Shape[0]-1)
	p.Z = clampInt(p.Z, 0, scan.Shape[3]-1)
	return p
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
