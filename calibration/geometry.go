package calibration

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// This file is the pure linear-algebra side of the solver: axis-angle
// conversions, planar pose recovery from homographies, rotation averaging,
// and Bouguet rectification. It operates on plain float64 slices and gonum
// matrices; nothing here touches image data.

// rodriguesToMatrix converts an axis-angle vector to a rotation matrix.
func rodriguesToMatrix(r [3]float64) *mat.Dense {
	theta := math.Sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2])
	if theta < 1e-12 {
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	}
	kx, ky, kz := r[0]/theta, r[1]/theta, r[2]/theta
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return mat.NewDense(3, 3, []float64{
		c + kx*kx*v, kx*ky*v - kz*s, kx*kz*v + ky*s,
		ky*kx*v + kz*s, c + ky*ky*v, ky*kz*v - kx*s,
		kz*kx*v - ky*s, kz*ky*v + kx*s, c + kz*kz*v,
	})
}

// matrixToRodrigues converts a rotation matrix to its axis-angle vector.
func matrixToRodrigues(R mat.Matrix) [3]float64 {
	tr := R.At(0, 0) + R.At(1, 1) + R.At(2, 2)
	cosTheta := (tr - 1) / 2
	if cosTheta > 1 {
		cosTheta = 1
	} else if cosTheta < -1 {
		cosTheta = -1
	}
	theta := math.Acos(cosTheta)

	ax := [3]float64{
		R.At(2, 1) - R.At(1, 2),
		R.At(0, 2) - R.At(2, 0),
		R.At(1, 0) - R.At(0, 1),
	}
	if theta < 1e-9 {
		return [3]float64{ax[0] / 2, ax[1] / 2, ax[2] / 2}
	}
	scale := theta / (2 * math.Sin(theta))
	return [3]float64{ax[0] * scale, ax[1] * scale, ax[2] * scale}
}

// undistortNormalize maps a pixel coordinate to ideal normalized camera
// coordinates, iteratively compensating radial and tangential distortion.
func undistortNormalize(u, v float64, k [3][3]float64, dist []float64) (float64, float64) {
	var k1, k2, p1, p2, k3 float64
	if len(dist) > 0 {
		k1 = dist[0]
	}
	if len(dist) > 1 {
		k2 = dist[1]
	}
	if len(dist) > 2 {
		p1 = dist[2]
	}
	if len(dist) > 3 {
		p2 = dist[3]
	}
	if len(dist) > 4 {
		k3 = dist[4]
	}

	x0 := (u - k[0][2]) / k[0][0]
	y0 := (v - k[1][2]) / k[1][1]
	x, y := x0, y0
	for i := 0; i < 10; i++ {
		r2 := x*x + y*y
		radial := 1 + r2*(k1+r2*(k2+r2*k3))
		dx := 2*p1*x*y + p2*(r2+2*x*x)
		dy := p1*(r2+2*y*y) + 2*p2*x*y
		x = (x0 - dx) / radial
		y = (y0 - dy) / radial
	}
	return x, y
}

// normalizePoints computes Hartley normalization: centroid at the origin,
// mean distance sqrt(2). Returns the 3x3 similarity transform.
func normalizePoints(pts [][2]float64) *mat.Dense {
	var cx, cy float64
	for _, p := range pts {
		cx += p[0]
		cy += p[1]
	}
	n := float64(len(pts))
	cx /= n
	cy /= n

	var meanDist float64
	for _, p := range pts {
		meanDist += math.Hypot(p[0]-cx, p[1]-cy)
	}
	meanDist /= n
	s := 1.0
	if meanDist > 1e-12 {
		s = math.Sqrt2 / meanDist
	}
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
}

func applyTransform(t *mat.Dense, p [2]float64) [2]float64 {
	return [2]float64{
		t.At(0, 0)*p[0] + t.At(0, 1)*p[1] + t.At(0, 2),
		t.At(1, 0)*p[0] + t.At(1, 1)*p[1] + t.At(1, 2),
	}
}

// homography estimates the 3x3 transform mapping src to dst by normalized
// DLT. Needs at least 4 correspondences; the board supplies 54.
func homography(src, dst [][2]float64) (*mat.Dense, error) {
	if len(src) != len(dst) || len(src) < 4 {
		return nil, errors.Errorf("homography needs >= 4 matched points, got %d/%d", len(src), len(dst))
	}

	tSrc := normalizePoints(src)
	tDst := normalizePoints(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range src {
		p := applyTransform(tSrc, src[i])
		q := applyTransform(tDst, dst[i])
		x, y := p[0], p[1]
		u, w := q[0], q[1]
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, w * x, w * y, w})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.Wrap(ErrSolverFailed, "homography SVD did not factorize")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := v.Dims()
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		h.Set(i/3, i%3, v.At(i, cols-1))
	}

	// Denormalize: H = inv(Tdst) * Hn * Tsrc.
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(ErrSolverFailed, "degenerate normalization transform")
	}
	var tmp, out mat.Dense
	tmp.Mul(h, tSrc)
	out.Mul(&tDstInv, &tmp)
	if math.Abs(out.At(2, 2)) > 1e-12 {
		out.Scale(1/out.At(2, 2), &out)
	}
	return &out, nil
}

// nearestRotation projects a 3x3 matrix onto SO(3) via SVD.
func nearestRotation(m *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return nil, errors.Wrap(ErrSolverFailed, "rotation SVD did not factorize")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// Flip the last column of U to stay a proper rotation.
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	out := mat.DenseCopyOf(&r)
	return out, nil
}

// planarPose recovers the camera pose of a planar target from the
// homography between board-plane coordinates (X, Y on z=0, in cm) and ideal
// normalized image coordinates.
func planarPose(board, normalized [][2]float64) (*mat.Dense, [3]float64, error) {
	h, err := homography(board, normalized)
	if err != nil {
		return nil, [3]float64{}, err
	}

	h1 := [3]float64{h.At(0, 0), h.At(1, 0), h.At(2, 0)}
	h2 := [3]float64{h.At(0, 1), h.At(1, 1), h.At(2, 1)}
	h3 := [3]float64{h.At(0, 2), h.At(1, 2), h.At(2, 2)}

	n1 := math.Sqrt(h1[0]*h1[0] + h1[1]*h1[1] + h1[2]*h1[2])
	n2 := math.Sqrt(h2[0]*h2[0] + h2[1]*h2[1] + h2[2]*h2[2])
	if n1 < 1e-12 || n2 < 1e-12 {
		return nil, [3]float64{}, errors.Wrap(ErrSolverFailed, "degenerate homography")
	}
	lambda := 2 / (n1 + n2)

	// The target must sit in front of the camera.
	if lambda*h3[2] < 0 {
		lambda = -lambda
	}

	r1 := [3]float64{lambda * h1[0], lambda * h1[1], lambda * h1[2]}
	r2 := [3]float64{lambda * h2[0], lambda * h2[1], lambda * h2[2]}
	r3 := cross(r1, r2)
	t := [3]float64{lambda * h3[0], lambda * h3[1], lambda * h3[2]}

	approx := mat.NewDense(3, 3, []float64{
		r1[0], r2[0], r3[0],
		r1[1], r2[1], r3[1],
		r1[2], r2[2], r3[2],
	})
	r, err := nearestRotation(approx)
	if err != nil {
		return nil, [3]float64{}, err
	}
	return r, t, nil
}

// averageRotations returns the mean rotation of a set of nearby rotations
// via their axis-angle representations.
func averageRotations(rs []*mat.Dense) *mat.Dense {
	var sum [3]float64
	for _, r := range rs {
		v := matrixToRodrigues(r)
		sum[0] += v[0]
		sum[1] += v[1]
		sum[2] += v[2]
	}
	n := float64(len(rs))
	return rodriguesToMatrix([3]float64{sum[0] / n, sum[1] / n, sum[2] / n})
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func mulVec(m mat.Matrix, v [3]float64) [3]float64 {
	return [3]float64{
		m.At(0, 0)*v[0] + m.At(0, 1)*v[1] + m.At(0, 2)*v[2],
		m.At(1, 0)*v[0] + m.At(1, 1)*v[1] + m.At(1, 2)*v[2],
		m.At(2, 0)*v[0] + m.At(2, 1)*v[1] + m.At(2, 2)*v[2],
	}
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// rectification holds the stereo rectification geometry: the per-camera
// rectifying rotations and the shared-frame projection matrices.
type rectification struct {
	r1, r2 *mat.Dense
	p1, p2 *mat.Dense // 3x4
	f      float64    // shared rectified focal length
	cx, cy float64    // shared rectified principal point
}

// rectifyStereo computes rectifying rotations by Bouguet's method: each
// camera is rotated halfway toward the other, then both are rotated so the
// new x axis runs along the baseline and epipolar lines become horizontal
// scanlines.
func rectifyStereo(r *mat.Dense, t [3]float64, k1, k2 [3][3]float64) rectification {
	om := matrixToRodrigues(r)
	rHalf := rodriguesToMatrix([3]float64{-om[0] / 2, -om[1] / 2, -om[2] / 2})

	tv := mulVec(rHalf, t)
	idx := 0
	if math.Abs(tv[1]) > math.Abs(tv[0]) {
		idx = 1
	}
	nt := norm3(tv)

	var uu [3]float64
	if tv[idx] >= 0 {
		uu[idx] = 1
	} else {
		uu[idx] = -1
	}

	ww := cross(tv, uu)
	nw := norm3(ww)
	if nw > 1e-12 && nt > 1e-12 {
		scale := math.Acos(math.Abs(tv[idx])/nt) / nw
		ww = [3]float64{ww[0] * scale, ww[1] * scale, ww[2] * scale}
	}
	wr := rodriguesToMatrix(ww)

	var r1, r2 mat.Dense
	r1.Mul(wr, rHalf.T())
	r2.Mul(wr, rHalf)

	tNew := mulVec(&r2, t)

	f := (k1[1][1] + k2[1][1]) / 2
	cx := (k1[0][2] + k2[0][2]) / 2
	cy := (k1[1][2] + k2[1][2]) / 2

	p1 := mat.NewDense(3, 4, []float64{
		f, 0, cx, 0,
		0, f, cy, 0,
		0, 0, 1, 0,
	})
	p2 := mat.NewDense(3, 4, []float64{
		f, 0, cx, 0,
		0, f, cy, 0,
		0, 0, 1, 0,
	})
	p2.Set(idx, 3, tNew[idx]*f)

	return rectification{
		r1: mat.DenseCopyOf(&r1),
		r2: mat.DenseCopyOf(&r2),
		p1: p1,
		p2: p2,
		f:  f,
		cx: cx,
		cy: cy,
	}
}

// rectifiedPoint maps a raw pixel through undistortion and the rectifying
// rotation into rectified pixel coordinates.
func rectifiedPoint(u, v float64, k [3][3]float64, dist []float64, rRect *mat.Dense, f, cx, cy float64) (float64, float64) {
	xn, yn := undistortNormalize(u, v, k, dist)
	w := mulVec(rRect, [3]float64{xn, yn, 1})
	return f*w[0]/w[2] + cx, f*w[1]/w[2] + cy
}
