package detection

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"
)

// renderChessboard draws a synthetic 10x7-square checkerboard (9x6 inner
// corners) with a white border on a canvas of the given size.
func renderChessboard(t *testing.T, width, height int) gocv.Mat {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0),
		height, width, gocv.MatTypeCV8UC3)

	const cols, rows, square = 10, 7, 60
	x0 := (width - cols*square) / 2
	y0 := (height - rows*square) / 2
	black := color.RGBA{0, 0, 0, 0}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if (r+c)%2 != 0 {
				continue
			}
			gocv.Rectangle(&img, image.Rect(
				x0+c*square, y0+r*square,
				x0+(c+1)*square, y0+(r+1)*square,
			), black, -1)
		}
	}
	return img
}

func TestDetectFindsRenderedPattern(t *testing.T) {
	d := NewChessboardDetector()
	img := renderChessboard(t, 800, 600)
	defer img.Close()

	if !d.QuickCheck(img) {
		t.Error("quick check missed the rendered pattern")
	}
	if !d.Confirm(img) {
		t.Error("confirmation missed the rendered pattern")
	}
	if !d.Detect(img) {
		t.Error("detect missed the rendered pattern")
	}
}

func TestDetectRejectsBlankFrame(t *testing.T) {
	d := NewChessboardDetector()
	blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0),
		600, 800, gocv.MatTypeCV8UC3)
	defer blank.Close()

	if d.Detect(blank) {
		t.Error("detect claimed a pattern in a uniform frame")
	}
	if _, ok := d.FindCorners(blank); ok {
		t.Error("corners extracted from a uniform frame")
	}
}

func TestFindCornersReturnsFullGrid(t *testing.T) {
	d := NewChessboardDetector()
	img := renderChessboard(t, 800, 600)
	defer img.Close()

	pts, ok := d.FindCorners(img)
	if !ok {
		t.Fatal("pattern not found in the rendered board")
	}
	want := DefaultPatternSize.X * DefaultPatternSize.Y
	if len(pts) != want {
		t.Fatalf("corner count = %d, want %d", len(pts), want)
	}

	// All inner corners lie strictly inside the board area.
	for i, p := range pts {
		if p.X < 60 || p.X > 740 || p.Y < 60 || p.Y > 540 {
			t.Errorf("corner %d at (%v, %v) outside the board region", i, p.X, p.Y)
		}
	}
}
