package edit

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidAction is returned for action codes that are not two single-digit labels
var ErrInvalidAction = errors.New("invalid brush action")

// Action relabels voxels: where the label equals From it becomes To
type Action struct {
	From, To uint8
}

// DefaultAction paints label 1 over background
var DefaultAction = Action{From: 0, To: 1}

// ParseAction decodes from_label*10 + to_label
func ParseAction(code int) (Action, error) {
	if code < 0 || code > 99 {
		return Action{}, fmt.Errorf("%w: code %d", ErrInvalidAction, code)
	}
	return Action{From: uint8(code / 10), To: uint8(code % 10)}, nil
}

// Code encodes the action as from_label*10 + to_label
func (a Action) Code() int {
	return int(a.From)*10 + int(a.To)
}

// Apply returns the relabelled value of one voxel
func (a Action) Apply(label uint8) uint8 {
	if label == a.From {
		return a.To
	}
	return label
}

func (a Action) String() string {
	return fmt.Sprintf("%d→%d", a.From, a.To)
}

// Brush is a square 0/1 stamp of odd side 2*Radius+1
type Brush struct {
	Radius int

	// Mask holds Side()*Side() values in row-major order
	Mask []uint8
}

// NewBrush rasterizes the disc (i-r)² + (j-r)² < (r+1)² into a square mask
func NewBrush(r int) Brush {
	if r < 0 {
		r = 0
	}
	side := 2*r + 1
	b := Brush{Radius: r, Mask: make([]uint8, side*side)}
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			if (i-r)*(i-r)+(j-r)*(j-r) < (r+1)*(r+1) {
				b.Mask[i*side+j] = 1
			}
		}
	}
	return b
}

// Side returns the side of the mask
func (b Brush) Side() int {
	return 2*b.Radius + 1
}

// Valid reports whether the mask has the expected size
func (b Brush) Valid() bool {
	return b.Radius >= 0 && len(b.Mask) == b.Side()*b.Side()
}

// At reports whether the stamp covers offset (i, j) from its corner
func (b Brush) At(i, j int) bool {
	side := b.Side()
	return b.Mask[i*side+j] != 0
}

// CanvasToVolume maps a click at (cx, cy) on a square canvas of side
// canvasSize to in-plane volume coordinates for a scan of side scanSize. It
// is the inverse of the render orientation, applied in reverse order.
func CanvasToVolume(cx, cy, canvasSize, scanSize int, swapXY, flipX, flipY bool) (vx, vy int) {
	n := float64(canvasSize) / float64(scanSize)
	vx = int(math.Floor(float64(cx) / n))
	vy = int(math.Floor(float64(cy) / n))
	if !swapXY {
		vx, vy = vy, vx
	}
	if !flipX {
		vx = scanSize - 1 - vx
	}
	if !flipY {
		vy = scanSize - 1 - vy
	}
	return vx, vy
}
