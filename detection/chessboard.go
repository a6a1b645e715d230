// Package detection finds the calibration pattern in camera frames. The
// interactive loop needs a cheap "is the board there" answer; the batch
// solver needs sub-pixel corner locations from the same pattern.
package detection

import (
	"image"

	"gocv.io/x/gocv"
)

// Board geometry: inner corners of the printed 9x6 checkerboard target.
var DefaultPatternSize = image.Pt(9, 6)

// quickCheckScale is the downscale factor for the fast pre-check.
const quickCheckScale = 0.3

var findFlags = gocv.CalibCBAdaptiveThresh | gocv.CalibCBFastCheck | gocv.CalibCBNormalizeImage

// ChessboardDetector answers whether the checkerboard pattern is reliably
// findable in a frame, using a fast low-resolution pre-check followed by a
// full-resolution confirmation. The two-stage policy trades a small
// false-negative rate for bounded worst-case latency in the capture loop.
type ChessboardDetector struct {
	PatternSize image.Point
}

// NewChessboardDetector creates a detector for the default 9x6 target.
func NewChessboardDetector() *ChessboardDetector {
	return &ChessboardDetector{PatternSize: DefaultPatternSize}
}

// QuickCheck looks for the pattern on a downscaled copy of the frame. Fast,
// and allowed to miss; it exists to reject pattern-free frames cheaply.
func (d *ChessboardDetector) QuickCheck(img gocv.Mat) bool {
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(img, &small, image.Pt(0, 0), quickCheckScale, quickCheckScale, gocv.InterpolationLinear)

	corners := gocv.NewMat()
	defer corners.Close()
	return gocv.FindChessboardCorners(small, d.PatternSize, &corners, findFlags)
}

// Confirm looks for the pattern at full resolution.
func (d *ChessboardDetector) Confirm(img gocv.Mat) bool {
	corners := gocv.NewMat()
	defer corners.Close()
	return gocv.FindChessboardCorners(img, d.PatternSize, &corners, findFlags)
}

// Detect reports whether the pattern is present. True only when both the
// pre-check and the full-resolution confirmation agree. A false result is a
// legitimate "retry this capture" outcome, never an error.
func (d *ChessboardDetector) Detect(img gocv.Mat) bool {
	return d.QuickCheck(img) && d.Confirm(img)
}

// FindCorners extracts the pattern's inner corners at sub-pixel accuracy for
// the calibration solver. Returns false when the pattern is not found; the
// returned points are in row-major board order.
func (d *ChessboardDetector) FindCorners(img gocv.Mat) ([]gocv.Point2f, bool) {
	corners := gocv.NewMat()
	defer corners.Close()
	if !gocv.FindChessboardCorners(img, d.PatternSize, &corners, findFlags) {
		return nil, false
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if img.Channels() == 3 {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	} else {
		img.CopyTo(&gray)
	}

	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, 30, 0.001)
	gocv.CornerSubPix(gray, &corners, image.Pt(11, 11), image.Pt(-1, -1), criteria)

	pts := make([]gocv.Point2f, 0, corners.Rows())
	for i := 0; i < corners.Rows(); i++ {
		v := corners.GetVecfAt(i, 0)
		pts = append(pts, gocv.Point2f{X: v[0], Y: v[1]})
	}
	return pts, true
}
