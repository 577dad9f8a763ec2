package debug

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFlipRGBA(t *testing.T) {
	// Two rows, bottom row first: red then blue.
	pixels := []byte{
		255, 0, 0, 255,
		0, 0, 255, 255,
	}
	img, err := FlipRGBA(pixels, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if r, _, b, _ := img.At(0, 0).RGBA(); r != 0 || b == 0 {
		t.Errorf("top row should be blue")
	}
	if r, _, _, _ := img.At(0, 1).RGBA(); r == 0 {
		t.Errorf("bottom row should be red")
	}
	if _, err := FlipRGBA(pixels, 2, 2); err == nil {
		t.Error("size mismatch should fail")
	}
}

func TestSaveScreenshot(t *testing.T) {
	img, _ := FlipRGBA(make([]byte, 4*3*2), 3, 2)
	dir := filepath.Join(t.TempDir(), "shots")
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	path, err := SaveScreenshot(dir, "view", at, img)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "view_2024-05-06_07-08-09.png"); path != want {
		t.Errorf("path: got %s, want %s", path, want)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := decoded.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Errorf("bounds: got %v", b)
	}
}
