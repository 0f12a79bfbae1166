package ingest

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// writeSlice writes a width x height PNG filled with value, with one marker
// pixel of 255 at (1, 0)
func writeSlice(t *testing.T, path string, width, height int, value uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	img.SetGray(1, 0, color.Gray{Y: 255})

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create slice: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("Failed to encode slice: %v", err)
	}
}

// TestSliceFiles verifies numeric ordering and filtering
func TestSliceFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"slice_10.png", "slice_2.png", "slice_1.png"} {
		writeSlice(t, filepath.Join(dir, name), 2, 2, 0)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	files, err := SliceFiles(dir)
	if err != nil {
		t.Fatalf("SliceFiles failed: %v", err)
	}
	want := []string{"slice_1.png", "slice_2.png", "slice_10.png"}
	if len(files) != len(want) {
		t.Fatalf("Expected %d files, got %d", len(want), len(files))
	}
	for i, f := range files {
		if filepath.Base(f) != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, filepath.Base(f))
		}
	}

	if _, err := SliceFiles(t.TempDir()); err == nil {
		t.Errorf("Expected error for empty directory")
	}
}

// TestLoadSliceStack verifies layout and intensity rescaling
func TestLoadSliceStack(t *testing.T) {
	dir := t.TempDir()
	writeSlice(t, filepath.Join(dir, "s1.png"), 4, 3, 0)
	writeSlice(t, filepath.Join(dir, "s2.png"), 4, 3, 51)
	writeSlice(t, filepath.Join(dir, "s3.png"), 4, 3, 102)

	vol, err := LoadSliceStack(dir, 2, nil)
	if err != nil {
		t.Fatalf("LoadSliceStack failed: %v", err)
	}

	wantShape := []int{1, 4, 3, 3}
	for i, d := range wantShape {
		if vol.Shape[i] != d {
			t.Fatalf("Expected shape %v, got %v", wantShape, vol.Shape)
		}
	}

	// Range is 0..255 already, so values survive unchanged
	if got := vol.At(0, 0, 0, 0); got != 0 {
		t.Errorf("Expected 0 at z=0, got %d", got)
	}
	if got := vol.At(0, 2, 1, 1); got != 51 {
		t.Errorf("Expected 51 at z=1, got %d", got)
	}
	if got := vol.At(0, 3, 2, 2); got != 102 {
		t.Errorf("Expected 102 at z=2, got %d", got)
	}
	// Image column 1, row 0 is volume x=1, y=0
	if got := vol.At(0, 1, 0, 2); got != 255 {
		t.Errorf("Expected marker 255, got %d", got)
	}
}

// TestLoadSliceStackMismatch verifies that slices of different sizes are rejected
func TestLoadSliceStackMismatch(t *testing.T) {
	dir := t.TempDir()
	writeSlice(t, filepath.Join(dir, "s1.png"), 4, 3, 0)
	writeSlice(t, filepath.Join(dir, "s2.png"), 3, 3, 0)

	if _, err := LoadSliceStack(dir, 1, nil); err == nil {
		t.Errorf("Expected error for mismatched slice sizes")
	}
}
