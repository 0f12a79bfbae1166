package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Volume represents an N-dimensional voxel array.
// Scans are laid out as (phase, x, y, z) and segmentations as (x, y, z).
type Volume struct {
	// Shape is the extent of each axis. It never changes after construction.
	Shape []int

	// Data holds the voxels in row-major order (last axis fastest)
	Data []uint8
}

// NewVolume creates a zero-filled volume of the given shape
func NewVolume(shape ...int) *Volume {
	n := 1
	for _, s := range shape {
		if s < 0 {
			s = 0
		}
		n *= s
	}
	return &Volume{
		Shape: append([]int(nil), shape...),
		Data:  make([]uint8, n),
	}
}

// Dims returns the number of axes
func (v *Volume) Dims() int {
	return len(v.Shape)
}

// Len returns the number of voxels
func (v *Volume) Len() int {
	return len(v.Data)
}

// Clone returns a deep copy that shares no memory with v
func (v *Volume) Clone() *Volume {
	if v == nil {
		return nil
	}
	return &Volume{
		Shape: append([]int(nil), v.Shape...),
		Data:  append([]uint8(nil), v.Data...),
	}
}

// SameShape reports whether both volumes have identical shapes
func (v *Volume) SameShape(other *Volume) bool {
	if v == nil || other == nil {
		return v == other
	}
	return ShapesEqual(v.Shape, other.Shape)
}

// ShapesEqual compares two shapes axis by axis
func ShapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Index converts coordinates into an offset into Data.
// It returns -1 if the coordinates are out of bounds.
func (v *Volume) Index(coords ...int) int {
	if len(coords) != len(v.Shape) {
		return -1
	}
	idx := 0
	for i, c := range coords {
		if c < 0 || c >= v.Shape[i] {
			return -1
		}
		idx = idx*v.Shape[i] + c
	}
	return idx
}

// At returns the voxel at coords, or 0 when out of bounds
func (v *Volume) At(coords ...int) uint8 {
	idx := v.Index(coords...)
	if idx < 0 {
		return 0
	}
	return v.Data[idx]
}

// Set writes a voxel; out of bounds writes are dropped
func (v *Volume) Set(value uint8, coords ...int) {
	idx := v.Index(coords...)
	if idx < 0 {
		return
	}
	v.Data[idx] = value
}

// Strides returns the element stride of each axis
func (v *Volume) Strides() []int {
	strides := make([]int, len(v.Shape))
	step := 1
	for i := len(v.Shape) - 1; i >= 0; i-- {
		strides[i] = step
		step *= v.Shape[i]
	}
	return strides
}

// SpatialShape returns the trailing (x, y, z) extent of a scan or segmentation
func (v *Volume) SpatialShape() []int {
	if len(v.Shape) <= 3 {
		return append([]int(nil), v.Shape...)
	}
	return append([]int(nil), v.Shape[len(v.Shape)-3:]...)
}

func (v *Volume) String() string {
	if v == nil {
		return "Volume(nil)"
	}
	return fmt.Sprintf("Volume%v", v.Shape)
}

// FromFloat64 builds a uint8 volume from arbitrary intensities.
// Values are clipped into [lo, hi] and rescaled onto 0..255. When lo == hi the
// data range is used instead.
func FromFloat64(shape []int, data []float64, lo, hi float64) (*Volume, error) {
	vol := NewVolume(shape...)
	if len(data) != vol.Len() {
		return nil, fmt.Errorf("data has %d values, shape %v needs %d", len(data), shape, vol.Len())
	}
	if len(data) == 0 {
		return vol, nil
	}
	if lo == hi {
		lo, hi = floats.Min(data), floats.Max(data)
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	span := hi - lo
	for i, x := range data {
		x = math.Max(lo, math.Min(hi, x))
		if span == 0 {
			vol.Data[i] = 0
			continue
		}
		vol.Data[i] = uint8(math.Round((x - lo) / span * 255))
	}
	return vol, nil
}

// Summary describes the contents of a volume for logging
type Summary struct {
	// LabelCounts maps each voxel value present to its number of voxels
	LabelCounts map[uint8]int

	// Mean is the average voxel value
	Mean float64

	// NonZero is the number of voxels with a non-zero value
	NonZero int
}

// Summary computes label counts and the mean value of the volume
func (v *Volume) Summary() Summary {
	s := Summary{LabelCounts: make(map[uint8]int)}
	if v == nil || len(v.Data) == 0 {
		return s
	}
	var hist [256]float64
	for _, x := range v.Data {
		hist[x]++
	}
	values := make([]float64, 0, 256)
	weights := make([]float64, 0, 256)
	for value, count := range hist {
		if count == 0 {
			continue
		}
		s.LabelCounts[uint8(value)] = int(count)
		if value != 0 {
			s.NonZero += int(count)
		}
		values = append(values, float64(value))
		weights = append(weights, count)
	}
	s.Mean = stat.Mean(values, weights)
	return s
}
