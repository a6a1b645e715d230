// Package calibration is the batch phase: it consumes a captured dataset,
// extracts pattern corners, solves per-camera and stereo geometry, scores
// the result, and accepts or rejects it by numeric thresholds.
package calibration

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"depthcal/dataset"
	"depthcal/detection"
)

const (
	// RMSThreshold is the hard acceptance gate on the combined reprojection
	// error. At or above it the result is rejected and no artifact written.
	RMSThreshold = 1.0

	// EpipolarAdvisory is the advisory bound on the mean epipolar error.
	// Exceeding it is reported, never a rejection.
	EpipolarAdvisory = 1.5

	// minPairs is the fewest usable image pairs the solve will accept.
	minPairs = 10
)

// Solve loads the dataset under datasetPath and computes the stereo
// calibration. squareSizeCm is the printed checkerboard square edge.
// Deterministic for identical inputs; it never touches live hardware.
func Solve(datasetPath string, squareSizeCm float64) (*Result, error) {
	if squareSizeCm <= 0 {
		return nil, errors.Errorf("square size must be positive, got %.3f cm", squareSizeCm)
	}

	store := &dataset.Store{Root: datasetPath}
	pairs, err := store.Pairs()
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "no stored pairs under %s", datasetPath)
	}

	det := detection.NewChessboardDetector()
	var leftViews, rightViews [][]gocv.Point2f
	width, height := 0, 0

	for _, p := range pairs {
		lc, rc, w, h, ok := extractPairCorners(det, p)
		if !ok {
			logrus.Debugf("pose %d repeat %d: pattern corners not found, pair skipped", p.Pose, p.Repeat)
			continue
		}
		leftViews = append(leftViews, lc)
		rightViews = append(rightViews, rc)
		width, height = w, h
	}

	if len(leftViews) < minPairs {
		return nil, errors.Wrapf(ErrInsufficientSamples,
			"only %d of %d stored pairs had extractable pattern corners, need at least %d",
			len(leftViews), len(pairs), minPairs)
	}
	logrus.Infof("extracted corners from %d of %d pairs", len(leftViews), len(pairs))

	board3, board2 := boardPoints(det.PatternSize, squareSizeCm)

	k1, d1, rms1, err := calibrateSingle(board3, leftViews, width, height)
	if err != nil {
		return nil, errors.Wrap(err, "left camera")
	}
	k2, d2, rms2, err := calibrateSingle(board3, rightViews, width, height)
	if err != nil {
		return nil, errors.Wrap(err, "right camera")
	}
	rms := math.Sqrt((rms1*rms1 + rms2*rms2) / 2)
	logrus.Infof("per-camera rms: left %.4f, right %.4f, combined %.4f", rms1, rms2, rms)

	r, t, err := stereoTransform(board2, leftViews, rightViews, k1, d1, k2, d2)
	if err != nil {
		return nil, err
	}

	rect := rectifyStereo(r, t, k1, k2)
	epi := meanEpipolarError(leftViews, rightViews, k1, d1, k2, d2, rect)

	if err := checkThresholds(rms, epi); err != nil {
		return nil, err
	}

	res := &Result{
		Left:          CameraModel{CameraMatrix: k1, DistCoeffs: d1},
		Right:         CameraModel{CameraMatrix: k2, DistCoeffs: d2},
		Rotation:      denseTo3x3(r),
		Translation:   t,
		RectifyLeft:   denseTo3x3(rect.r1),
		RectifyRight:  denseTo3x3(rect.r2),
		RMSError:      rms,
		EpipolarError: epi,
		ImageWidth:    width,
		ImageHeight:   height,
		SquareSizeCm:  squareSizeCm,
	}
	copyProjection(&res.ProjectionLeft, rect.p1)
	copyProjection(&res.ProjectionRight, rect.p2)
	return res, nil
}

// checkThresholds applies the acceptance gates to a converged solve. The
// combined RMS bound is hard; the epipolar bound is advisory and only logged.
func checkThresholds(rms, epi float64) error {
	if rms >= RMSThreshold {
		return errors.Wrapf(ErrRMSThreshold,
			"rms %.4f is not below %.1f, image capture setup may be poor", rms, RMSThreshold)
	}
	if epi >= EpipolarAdvisory {
		logrus.Warnf("mean epipolar error %.4f exceeds the advisory bound %.1f", epi, EpipolarAdvisory)
	} else {
		logrus.Infof("mean epipolar error %.4f", epi)
	}
	return nil
}

// extractPairCorners reads one stored pair and extracts corners from both
// sides. ok is false when either side fails.
func extractPairCorners(det *detection.ChessboardDetector, p dataset.Pair) (lc, rc []gocv.Point2f, w, h int, ok bool) {
	left := gocv.IMRead(p.Left, gocv.IMReadColor)
	if left.Empty() {
		return nil, nil, 0, 0, false
	}
	defer left.Close()
	right := gocv.IMRead(p.Right, gocv.IMReadColor)
	if right.Empty() {
		return nil, nil, 0, 0, false
	}
	defer right.Close()

	lc, lok := det.FindCorners(left)
	rc, rok := det.FindCorners(right)
	if !lok || !rok {
		return nil, nil, 0, 0, false
	}
	return lc, rc, left.Cols(), left.Rows(), true
}

// boardPoints lays out the board's inner corners in board coordinates,
// z = 0, row-major to match detector output order.
func boardPoints(pattern image.Point, squareSizeCm float64) ([]gocv.Point3f, [][2]float64) {
	p3 := make([]gocv.Point3f, 0, pattern.X*pattern.Y)
	p2 := make([][2]float64, 0, pattern.X*pattern.Y)
	for y := 0; y < pattern.Y; y++ {
		for x := 0; x < pattern.X; x++ {
			p3 = append(p3, gocv.Point3f{
				X: float32(float64(x) * squareSizeCm),
				Y: float32(float64(y) * squareSizeCm),
				Z: 0,
			})
			p2 = append(p2, [2]float64{float64(x) * squareSizeCm, float64(y) * squareSizeCm})
		}
	}
	return p3, p2
}

// calibrateSingle solves one camera's intrinsics and distortion from its
// views of the board.
func calibrateSingle(board []gocv.Point3f, views [][]gocv.Point2f, width, height int) ([3][3]float64, []float64, float64, error) {
	objPoints := gocv.NewPoints3fVector()
	defer objPoints.Close()
	imgPoints := gocv.NewPoints2fVector()
	defer imgPoints.Close()
	for _, v := range views {
		objPoints.Append(gocv.NewPoint3fVectorFromPoints(board))
		imgPoints.Append(gocv.NewPoint2fVectorFromPoints(v))
	}

	camera := gocv.NewMat()
	defer camera.Close()
	dist := gocv.NewMat()
	defer dist.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(objPoints, imgPoints, image.Pt(width, height),
		&camera, &dist, &rvecs, &tvecs, gocv.CalibFlag(0))
	if math.IsNaN(rms) || math.IsInf(rms, 0) || rms <= 0 {
		return [3][3]float64{}, nil, 0, errors.Wrapf(ErrSolverFailed, "intrinsic solve returned rms %v", rms)
	}

	var k [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			k[i][j] = camera.GetDoubleAt(i, j)
		}
	}
	d := distCoeffs(dist)
	return k, d, rms, nil
}

// distCoeffs flattens the solver's distortion Mat, which OpenCV may shape
// as a row or a column.
func distCoeffs(m gocv.Mat) []float64 {
	n := m.Rows() * m.Cols()
	d := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if m.Rows() == 1 {
			d = append(d, m.GetDoubleAt(0, i))
		} else {
			d = append(d, m.GetDoubleAt(i, 0))
		}
	}
	return d
}

// stereoTransform recovers the right-from-left rigid transform by solving
// each view's planar pose for both cameras and averaging the per-view
// relative transforms.
func stereoTransform(board [][2]float64, leftViews, rightViews [][]gocv.Point2f,
	k1 [3][3]float64, d1 []float64, k2 [3][3]float64, d2 []float64) (*mat.Dense, [3]float64, error) {

	var relRs []*mat.Dense
	var relTs [][3]float64

	for i := range leftViews {
		rl, tl, err := planarPose(board, normalizeView(leftViews[i], k1, d1))
		if err != nil {
			return nil, [3]float64{}, errors.Wrapf(err, "left view %d pose", i)
		}
		rr, tr, err := planarPose(board, normalizeView(rightViews[i], k2, d2))
		if err != nil {
			return nil, [3]float64{}, errors.Wrapf(err, "right view %d pose", i)
		}

		// x_r = Rrel x_l + Trel with Rrel = Rr Rl^T.
		var rel mat.Dense
		rel.Mul(rr, rl.T())
		relRs = append(relRs, mat.DenseCopyOf(&rel))

		rtl := mulVec(&rel, tl)
		relTs = append(relTs, [3]float64{tr[0] - rtl[0], tr[1] - rtl[1], tr[2] - rtl[2]})
	}

	r := averageRotations(relRs)
	var t [3]float64
	for _, v := range relTs {
		t[0] += v[0]
		t[1] += v[1]
		t[2] += v[2]
	}
	n := float64(len(relTs))
	t = [3]float64{t[0] / n, t[1] / n, t[2] / n}

	if norm3(t) < 1e-9 {
		return nil, [3]float64{}, errors.Wrap(ErrSolverFailed, "stereo baseline collapsed to zero")
	}
	return r, t, nil
}

// normalizeView undistorts a view's corners into ideal normalized
// coordinates.
func normalizeView(pts []gocv.Point2f, k [3][3]float64, d []float64) [][2]float64 {
	out := make([][2]float64, len(pts))
	for i, p := range pts {
		x, y := undistortNormalize(float64(p.X), float64(p.Y), k, d)
		out[i] = [2]float64{x, y}
	}
	return out
}

// meanEpipolarError measures, over all corresponding corners, the mean
// vertical offset between the rectified left and right projections. Zero
// for a perfect calibration.
func meanEpipolarError(leftViews, rightViews [][]gocv.Point2f,
	k1 [3][3]float64, d1 []float64, k2 [3][3]float64, d2 []float64, rect rectification) float64 {

	var sum float64
	var count int
	for i := range leftViews {
		for j := range leftViews[i] {
			lp, rp := leftViews[i][j], rightViews[i][j]
			_, ly := rectifiedPoint(float64(lp.X), float64(lp.Y), k1, d1, rect.r1, rect.f, rect.cx, rect.cy)
			_, ry := rectifiedPoint(float64(rp.X), float64(rp.Y), k2, d2, rect.r2, rect.f, rect.cx, rect.cy)
			sum += math.Abs(ly - ry)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func denseTo3x3(m *mat.Dense) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func copyProjection(dst *[3][4]float64, m *mat.Dense) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			dst[i][j] = m.At(i, j)
		}
	}
}
