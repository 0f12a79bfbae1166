package edit

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segviewer/internal/models"
	"segviewer/pkg/render"
)

func randomVolume(rng *rand.Rand, shape ...int) *models.Volume {
	vol := models.NewVolume(shape...)
	for i := range vol.Data {
		vol.Data[i] = uint8(rng.IntN(3))
	}
	return vol
}

func countLabel(vol *models.Volume, label uint8) int {
	n := 0
	for _, v := range vol.Data {
		if v == label {
			n++
		}
	}
	return n
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(12)
	require.NoError(t, err)
	assert.Equal(t, Action{From: 1, To: 2}, a)
	assert.Equal(t, 12, a.Code())

	a, err = ParseAction(1)
	require.NoError(t, err)
	assert.Equal(t, DefaultAction, a)

	for _, code := range []int{-1, 100, 250} {
		_, err := ParseAction(code)
		assert.ErrorIs(t, err, ErrInvalidAction, "code %d", code)
	}

	assert.Equal(t, uint8(2), Action{From: 1, To: 2}.Apply(1))
	assert.Equal(t, uint8(0), Action{From: 1, To: 2}.Apply(0))
}

func TestNewBrush(t *testing.T) {
	assert.Equal(t, []uint8{1}, NewBrush(0).Mask)
	assert.Equal(t, 25, countOnes(NewBrush(2).Mask))
	assert.Equal(t, 109, countOnes(NewBrush(5).Mask))

	b := NewBrush(3)
	require.True(t, b.Valid())
	assert.Equal(t, 7, b.Side())
	assert.False(t, b.At(0, 0), "corners are outside the disc")
	assert.True(t, b.At(0, 1))
	assert.True(t, b.At(3, 3))

	assert.False(t, Brush{Radius: 2, Mask: []uint8{1}}.Valid())
}

func countOnes(mask []uint8) int {
	n := 0
	for _, v := range mask {
		n += int(v)
	}
	return n
}

// TestPaintDefaultView paints at the canvas centre in the default orientation
func TestPaintDefaultView(t *testing.T) {
	segm := models.NewVolume(64, 64, 32)
	p := models.DefaultViewParams()

	changed, err := Apply(segm, PaintStroke{
		CanvasX: 400, CanvasY: 400, CanvasSize: 800,
		Brush: NewBrush(5), Z: 10,
		SwapXY: p.SwapXY, FlipX: p.FlipX, FlipY: p.FlipY,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, 109, countLabel(segm, 1))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			for z := 0; z < 32; z++ {
				d2 := (x-32)*(x-32) + (y-31)*(y-31)
				want := uint8(0)
				if z == 10 && d2 < 36 {
					want = 1
				}
				if got := segm.At(x, y, z); got != want {
					t.Fatalf("voxel (%d,%d,%d): expected %d, got %d", x, y, z, want, got)
				}
			}
		}
	}
}

func TestPaintClipsAtBorder(t *testing.T) {
	segm := models.NewVolume(8, 8, 1)
	changed, err := Apply(segm, PaintStroke{
		CanvasX: 0, CanvasY: 0, CanvasSize: 80,
		Brush: NewBrush(2), SwapXY: true, FlipX: true, FlipY: true,
	})
	require.NoError(t, err)
	assert.True(t, changed)
	// Only the quadrant inside the volume is painted
	assert.Equal(t, 9, countLabel(segm, 1))

	// Fully outside the canvas
	changed, err = Apply(segm, PaintStroke{
		CanvasX: -500, CanvasY: 900, CanvasSize: 80,
		Brush: NewBrush(2), SwapXY: true, FlipX: true, FlipY: true,
	})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestPaintActionOnlyTouchesFromLabel(t *testing.T) {
	segm := models.NewVolume(3, 3, 1)
	segm.Set(1, 1, 1, 0)
	segm.Set(2, 0, 1, 0)

	_, err := Apply(segm, PaintStroke{
		CanvasX: 15, CanvasY: 15, CanvasSize: 30,
		Brush: NewBrush(1), Action: &Action{From: 1, To: 0},
		SwapXY: true, FlipX: true, FlipY: true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), segm.At(1, 1, 0))
	assert.Equal(t, uint8(2), segm.At(0, 1, 0), "other labels are untouched")
}

func TestPaintMalformed(t *testing.T) {
	segm := models.NewVolume(4, 4, 2)
	for _, op := range []PaintStroke{
		{CanvasSize: 0, Brush: NewBrush(1)},
		{CanvasSize: 40, Brush: Brush{Radius: 1}},
		{CanvasSize: 40, Brush: NewBrush(1), Z: 2},
	} {
		_, err := Apply(segm, op)
		assert.ErrorIs(t, err, ErrMalformed)
	}
	assert.Zero(t, countLabel(segm, 1))

	_, err := Apply(models.NewVolume(4, 4), FlipAxis{})
	assert.ErrorIs(t, err, ErrMalformed)
}

// TestPaintRoundTrip paints one voxel under every orientation and checks the
// rendered plane shows it at the clicked pixel.
func TestPaintRoundTrip(t *testing.T) {
	const size, canvas = 8, 80
	for _, swap := range []bool{false, true} {
		for _, fx := range []bool{false, true} {
			for _, fy := range []bool{false, true} {
				p := models.ViewParams{SwapXY: swap, FlipX: fx, FlipY: fy, Z: 1}
				for _, px := range [][2]int{{0, 0}, {3, 6}, {7, 2}, {5, 5}} {
					row, col := px[0], px[1]
					segm := models.NewVolume(size, size, 3)
					_, err := Apply(segm, PaintStroke{
						CanvasX: col*10 + 5, CanvasY: row*10 + 5, CanvasSize: canvas,
						Brush: NewBrush(0), Z: 1,
						SwapXY: swap, FlipX: fx, FlipY: fy,
					})
					require.NoError(t, err)

					img, err := render.ExtractPlane(segm, p, 1)
					require.NoError(t, err)
					assert.Equal(t, uint8(1), img.GrayAt(col, row).Y, "swap=%v fx=%v fy=%v pixel %v", swap, fx, fy, px)
					assert.Equal(t, 1, countLabel(segm, 1))
				}
			}
		}
	}
}

func TestFlipIsInvolution(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	orig := randomVolume(rng, 5, 4, 3)
	for axis := 0; axis < 3; axis++ {
		vol := orig.Clone()
		_, err := Apply(vol, FlipAxis{Axis: axis})
		require.NoError(t, err)
		_, err = Apply(vol, FlipAxis{Axis: axis})
		require.NoError(t, err)
		if diff := cmp.Diff(orig.Data, vol.Data); diff != "" {
			t.Errorf("flip axis %d twice (-want +got):\n%s", axis, diff)
		}
	}

	_, err := Apply(orig.Clone(), FlipAxis{Axis: 3})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFlipAxis(t *testing.T) {
	vol := models.NewVolume(2, 1, 2)
	copy(vol.Data, []uint8{1, 2, 3, 4})

	x := vol.Clone()
	_, err := Apply(x, FlipAxis{Axis: 0})
	require.NoError(t, err)
	assert.Equal(t, []uint8{3, 4, 1, 2}, x.Data)

	z := vol.Clone()
	_, err = Apply(z, FlipAxis{Axis: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint8{2, 1, 4, 3}, z.Data)

	changed, err := Apply(vol.Clone(), FlipAxis{Axis: 1})
	require.NoError(t, err)
	assert.False(t, changed, "a singleton axis flips to itself")
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		delta int
		want  []uint8
	}{
		{0, []uint8{1, 2, 3, 4, 5}},
		{2, []uint8{0, 0, 1, 2, 3}},
		{-2, []uint8{3, 4, 5, 0, 0}},
		{4, []uint8{0, 0, 0, 0, 1}},
		{5, []uint8{0, 0, 0, 0, 0}},
		{-7, []uint8{0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		vol := models.NewVolume(1, 1, 5)
		copy(vol.Data, []uint8{1, 2, 3, 4, 5})
		changed, err := Apply(vol, Translate{Delta: tt.delta})
		require.NoError(t, err)
		assert.Equal(t, tt.want, vol.Data, "delta %d", tt.delta)
		assert.Equal(t, tt.delta != 0, changed, "delta %d", tt.delta)
	}
}

func TestTranslateEveryColumn(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	orig := randomVolume(rng, 3, 2, 4)
	vol := orig.Clone()
	_, err := Apply(vol, Translate{Delta: 1})
	require.NoError(t, err)
	for x := 0; x < 3; x++ {
		for y := 0; y < 2; y++ {
			assert.Equal(t, uint8(0), vol.At(x, y, 0))
			for z := 1; z < 4; z++ {
				assert.Equal(t, orig.At(x, y, z-1), vol.At(x, y, z))
			}
		}
	}
}

func TestMergeMask(t *testing.T) {
	segm := models.NewVolume(2, 2, 4)
	for i := range segm.Data {
		segm.Data[i] = 2
	}
	mask := models.NewVolume(2, 2, 6)
	for i := range mask.Data {
		mask.Data[i] = 7
	}
	mask.Set(0, 1, 1, 0)

	changed, err := Apply(segm, MergeMask{Mask: mask, TargetShape: []int{2, 2, 4}, Label: 1})
	require.NoError(t, err)
	assert.True(t, changed)

	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			for z := 0; z < 4; z++ {
				want := uint8(1)
				if x == 1 && y == 1 && z == 0 {
					want = 2
				}
				assert.Equal(t, want, segm.At(x, y, z), "voxel (%d,%d,%d)", x, y, z)
			}
		}
	}
}

func TestMergeMaskShallowMask(t *testing.T) {
	segm := models.NewVolume(2, 2, 4)
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			segm.Set(1, x, y, 2)
			segm.Set(uint8(x*2+y+1), x, y, 3)
		}
	}
	mask := models.NewVolume(2, 2, 2)
	for i := range mask.Data {
		mask.Data[i] = 1
	}
	_, err := Apply(segm, MergeMask{Mask: mask, Label: 3})
	require.NoError(t, err)
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			want := []uint8{3, 3, 1, uint8(x*2 + y + 1)}
			assert.Equal(t, want, segm.Data[(x*2+y)*4:(x*2+y+1)*4], "slices past the mask keep their labels")
		}
	}
}

func TestMergeMaskShapeMismatch(t *testing.T) {
	segm := models.NewVolume(2, 2, 4)
	mask := models.NewVolume(2, 2, 4)
	mask.Data[0] = 1

	changed, err := Apply(segm, MergeMask{Mask: mask, TargetShape: []int{3, 3, 4}, Label: 1})
	assert.ErrorIs(t, err, ErrMalformed)
	assert.False(t, changed)
	assert.Zero(t, countLabel(segm, 1))

	_, err = Apply(segm, MergeMask{Label: 1})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCanvasToVolume(t *testing.T) {
	vx, vy := CanvasToVolume(400, 400, 800, 64, true, true, false)
	assert.Equal(t, 32, vx)
	assert.Equal(t, 31, vy)

	vx, vy = CanvasToVolume(0, 799, 800, 64, false, false, false)
	assert.Equal(t, 0, vx)
	assert.Equal(t, 63, vy)
}
