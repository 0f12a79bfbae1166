package render

import (
	"fmt"
	"image"
	"sync"

	"segviewer/internal/models"
)

// ExtractPlane extracts the oriented axial plane at z from a segmentation
// (x, y, z) or, with phase, from a scan (phase, x, y, z).
//
// The plane is transposed when SwapXY is set; image rows then follow volume y
// and columns volume x, otherwise rows follow x and columns y. The axis that
// carries volume x is reversed unless FlipX is set, likewise for y, so the
// unflipped display is in radiological orientation.
func ExtractPlane(vol *models.Volume, p models.ViewParams, numCores int) (*image.Gray, error) {
	if vol == nil {
		return nil, fmt.Errorf("no volume loaded")
	}

	var offset, nx, ny, nz int
	switch vol.Dims() {
	case 3:
		nx, ny, nz = vol.Shape[0], vol.Shape[1], vol.Shape[2]
	case 4:
		if p.Phase < 0 || p.Phase >= vol.Shape[0] {
			return nil, fmt.Errorf("phase %d exceeds %d phases", p.Phase, vol.Shape[0])
		}
		nx, ny, nz = vol.Shape[1], vol.Shape[2], vol.Shape[3]
		offset = p.Phase * nx * ny * nz
	default:
		return nil, fmt.Errorf("cannot slice a %d-dimensional volume", vol.Dims())
	}
	if p.Z < 0 || p.Z >= nz {
		return nil, fmt.Errorf("position %d exceeds depth %d", p.Z, nz)
	}
	if nx == 0 || ny == 0 {
		return nil, fmt.Errorf("empty plane %dx%d", nx, ny)
	}

	rows, cols := nx, ny
	if p.SwapXY {
		rows, cols = ny, nx
	}
	img := image.NewGray(image.Rect(0, 0, cols, rows))

	fill := func(r0, r1 int) {
		for r := r0; r < r1; r++ {
			line := img.Pix[r*img.Stride : r*img.Stride+cols]
			for c := range line {
				vx, vy := r, c
				if p.SwapXY {
					vx, vy = c, r
				}
				if !p.FlipX {
					vx = nx - 1 - vx
				}
				if !p.FlipY {
					vy = ny - 1 - vy
				}
				line[c] = vol.Data[offset+(vx*ny+vy)*nz+p.Z]
			}
		}
	}

	if numCores <= 1 || rows < 2*numCores {
		fill(0, rows)
		return img, nil
	}

	// Divide the rows among available cores
	var wg sync.WaitGroup
	rowsPerCore := (rows + numCores - 1) / numCores
	for c := 0; c < numCores; c++ {
		start := c * rowsPerCore
		end := min(start+rowsPerCore, rows)
		if start >= end {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fill(start, end)
		}()
	}
	wg.Wait()

	return img, nil
}
