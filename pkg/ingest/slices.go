// Package ingest builds scan volumes from directories of 2D slice images.
package ingest

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"segviewer/internal/models"
	"segviewer/pkg/logging"
)

// SliceFiles lists the PNG and JPEG files in dir ordered by the number in
// their names, so slice_2 comes before slice_10.
func SliceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no PNG or JPEG slices found in %s", dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := sliceNumber(files[i]), sliceNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})
	for i := range files {
		files[i] = filepath.Join(dir, files[i])
	}
	return files, nil
}

// sliceNumber extracts the digits of a file name, or 0 when there are none
func sliceNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

// LoadSliceStack reads every slice in dir as one axial plane and returns a
// single phase (1, x, y, z) scan. Image columns run along x and rows along y.
// Intensities are rescaled from their observed range to 0..255.
func LoadSliceStack(dir string, numCores int, logger logrus.FieldLogger) (*models.Volume, error) {
	logger = logging.Or(logger).WithField("dir", dir)
	files, err := SliceFiles(dir)
	if err != nil {
		return nil, err
	}

	planes := make([]*image.Gray16, len(files))
	var g errgroup.Group
	if numCores > 0 {
		g.SetLimit(numCores)
	}
	for i, file := range files {
		g.Go(func() error {
			plane, err := loadGray(file)
			if err != nil {
				return fmt.Errorf("failed to load slice %s: %w", filepath.Base(file), err)
			}
			planes[i] = plane
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// All slices must share the first slice's dimensions
	nx, ny, nz := planes[0].Bounds().Dx(), planes[0].Bounds().Dy(), len(planes)
	for i, p := range planes {
		if p.Bounds().Dx() != nx || p.Bounds().Dy() != ny {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d",
				filepath.Base(files[i]), p.Bounds().Dx(), p.Bounds().Dy(), nx, ny)
		}
	}

	data := make([]float64, nx*ny*nz)
	for z, p := range planes {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				data[(x*ny+y)*nz+z] = float64(p.Gray16At(x, y).Y)
			}
		}
	}
	vol, err := models.FromFloat64([]int{1, nx, ny, nz}, data, 0, 0)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"slices": nz,
		"shape":  vol.Shape,
	}).Info("Loaded slice stack")
	return vol, nil
}

// loadGray decodes an image file into a zero-origin 16-bit gray plane
func loadGray(path string) (*image.Gray16, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	gray := image.NewGray16(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			gray.SetGray16(x, y, color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16))
		}
	}
	return gray, nil
}
