package calibration

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func matsClose(t *testing.T, got, want mat.Matrix, tol float64, context string) {
	t.Helper()
	r, c := want.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.Abs(got.At(i, j)-want.At(i, j)) > tol {
				t.Fatalf("%s: entry (%d,%d) = %v, want %v", context, i, j, got.At(i, j), want.At(i, j))
			}
		}
	}
}

func assertRotation(t *testing.T, r *mat.Dense, context string) {
	t.Helper()
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	matsClose(t, &rtr, mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}), 1e-9, context+" orthonormality")
	if d := mat.Det(r); math.Abs(d-1) > 1e-9 {
		t.Fatalf("%s: det = %v, want 1", context, d)
	}
}

func TestRodriguesRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    [3]float64
	}{
		{"small mixed", [3]float64{0.1, -0.2, 0.3}},
		{"zero", [3]float64{0, 0, 0}},
		{"quarter turn about z", [3]float64{0, 0, math.Pi / 2}},
		{"large about x", [3]float64{2.5, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matrixToRodrigues(rodriguesToMatrix(tt.v))
			for i := 0; i < 3; i++ {
				if math.Abs(got[i]-tt.v[i]) > 1e-9 {
					t.Errorf("component %d = %v, want %v", i, got[i], tt.v[i])
				}
			}
		})
	}
}

func TestRodriguesZeroIsIdentity(t *testing.T) {
	r := rodriguesToMatrix([3]float64{0, 0, 0})
	matsClose(t, r, mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}), 1e-12, "identity")
}

func TestNearestRotationRepairsPerturbation(t *testing.T) {
	clean := rodriguesToMatrix([3]float64{0.2, -0.1, 0.35})
	noisy := mat.DenseCopyOf(clean)
	noisy.Set(0, 1, noisy.At(0, 1)+1e-3)
	noisy.Set(2, 0, noisy.At(2, 0)-1e-3)

	r, err := nearestRotation(noisy)
	if err != nil {
		t.Fatal(err)
	}
	assertRotation(t, r, "repaired matrix")
	matsClose(t, r, clean, 1e-2, "repaired matrix vs original")
}

func TestHomographyRecoversKnownTransform(t *testing.T) {
	h := mat.NewDense(3, 3, []float64{
		1.1, 0.02, 5,
		-0.03, 0.95, -2,
		1e-4, -2e-4, 1,
	})

	var src, dst [][2]float64
	for y := 0; y < 6; y++ {
		for x := 0; x < 9; x++ {
			p := [2]float64{float64(x) * 12, float64(y) * 12}
			q := mulVec(h, [3]float64{p[0], p[1], 1})
			src = append(src, p)
			dst = append(dst, [2]float64{q[0] / q[2], q[1] / q[2]})
		}
	}

	got, err := homography(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	matsClose(t, got, h, 1e-6, "homography")
}

func TestHomographyRejectsTooFewPoints(t *testing.T) {
	pts := [][2]float64{{0, 0}, {1, 0}, {0, 1}}
	if _, err := homography(pts, pts); err == nil {
		t.Fatal("three points must not produce a homography")
	}
}

func TestPlanarPoseRecoversSyntheticView(t *testing.T) {
	wantR := rodriguesToMatrix([3]float64{0.05, -0.1, 0.02})
	wantT := [3]float64{1.5, -0.8, 30}

	var board, view [][2]float64
	for y := 0; y < 6; y++ {
		for x := 0; x < 9; x++ {
			bx, by := float64(x)*2.5, float64(y)*2.5
			p := mulVec(wantR, [3]float64{bx, by, 0})
			p = [3]float64{p[0] + wantT[0], p[1] + wantT[1], p[2] + wantT[2]}
			board = append(board, [2]float64{bx, by})
			view = append(view, [2]float64{p[0] / p[2], p[1] / p[2]})
		}
	}

	r, tr, err := planarPose(board, view)
	if err != nil {
		t.Fatal(err)
	}
	assertRotation(t, r, "recovered pose")
	matsClose(t, r, wantR, 1e-6, "recovered rotation")
	for i := 0; i < 3; i++ {
		if math.Abs(tr[i]-wantT[i]) > 1e-5 {
			t.Errorf("translation[%d] = %v, want %v", i, tr[i], wantT[i])
		}
	}
}

func TestAverageRotationsOfIdenticalInputs(t *testing.T) {
	r := rodriguesToMatrix([3]float64{0.3, -0.15, 0.08})
	avg := averageRotations([]*mat.Dense{mat.DenseCopyOf(r), mat.DenseCopyOf(r), mat.DenseCopyOf(r)})
	matsClose(t, avg, r, 1e-9, "average of identical rotations")
}

func TestRectifyStereoAlignsBaseline(t *testing.T) {
	r := rodriguesToMatrix([3]float64{0.01, 0.03, -0.02})
	tvec := [3]float64{-9, 0.05, -0.1}
	k := [3][3]float64{{800, 0, 320}, {0, 800, 240}, {0, 0, 1}}

	rect := rectifyStereo(r, tvec, k, k)
	assertRotation(t, rect.r1, "left rectifying rotation")
	assertRotation(t, rect.r2, "right rectifying rotation")

	// After rectification the baseline must lie entirely on one axis.
	tNew := mulVec(rect.r2, tvec)
	if math.Abs(tNew[1]) > 1e-9 || math.Abs(tNew[2]) > 1e-9 {
		t.Errorf("rectified baseline off axis: %v", tNew)
	}
	if math.Abs(norm3(tNew)-norm3(tvec)) > 1e-9 {
		t.Errorf("rectification changed the baseline length: %v vs %v", norm3(tNew), norm3(tvec))
	}
	if got := rect.p2.At(0, 3); math.Abs(got-tNew[0]*rect.f) > 1e-9 {
		t.Errorf("right projection offset = %v, want %v", got, tNew[0]*rect.f)
	}
}

func TestRectifiedRowsMatchForPureTranslation(t *testing.T) {
	// Cameras related by a pure horizontal shift: rectification is the
	// identity and corresponding points already share scanlines.
	identity := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	tvec := [3]float64{-9, 0, 0}
	k := [3][3]float64{{800, 0, 320}, {0, 800, 240}, {0, 0, 1}}

	rect := rectifyStereo(identity, tvec, k, k)

	points := [][3]float64{
		{5, -3, 60},
		{-10, 8, 45},
		{0, 0, 100},
		{12, 12, 80},
	}
	for _, p := range points {
		ul := k[0][0]*p[0]/p[2] + k[0][2]
		vl := k[1][1]*p[1]/p[2] + k[1][2]
		// x_r = x_l + T for pure translation.
		ur := k[0][0]*(p[0]+tvec[0])/p[2] + k[0][2]
		vr := k[1][1]*p[1]/p[2] + k[1][2]

		_, ly := rectifiedPoint(ul, vl, k, nil, rect.r1, rect.f, rect.cx, rect.cy)
		_, ry := rectifiedPoint(ur, vr, k, nil, rect.r2, rect.f, rect.cx, rect.cy)
		if math.Abs(ly-ry) > 1e-9 {
			t.Errorf("point %v: rectified rows differ by %v", p, math.Abs(ly-ry))
		}
	}
}

func TestUndistortNormalize(t *testing.T) {
	k := [3][3]float64{{800, 0, 320}, {0, 780, 240}, {0, 0, 1}}

	t.Run("zero distortion is a pinhole unproject", func(t *testing.T) {
		x, y := undistortNormalize(480, 396, k, nil)
		if math.Abs(x-0.2) > 1e-12 || math.Abs(y-0.2) > 1e-12 {
			t.Errorf("got (%v, %v), want (0.2, 0.2)", x, y)
		}
	})

	t.Run("inverts the distortion model", func(t *testing.T) {
		dist := []float64{-0.28, 0.07, 1e-4, -2e-4, 0.01}
		k1, k2, p1, p2, k3 := dist[0], dist[1], dist[2], dist[3], dist[4]

		wantX, wantY := 0.15, -0.1
		r2 := wantX*wantX + wantY*wantY
		radial := 1 + r2*(k1+r2*(k2+r2*k3))
		xd := wantX*radial + 2*p1*wantX*wantY + p2*(r2+2*wantX*wantX)
		yd := wantY*radial + p1*(r2+2*wantY*wantY) + 2*p2*wantX*wantY
		u := k[0][0]*xd + k[0][2]
		v := k[1][1]*yd + k[1][2]

		x, y := undistortNormalize(u, v, k, dist)
		if math.Abs(x-wantX) > 1e-6 || math.Abs(y-wantY) > 1e-6 {
			t.Errorf("got (%v, %v), want (%v, %v)", x, y, wantX, wantY)
		}
	})
}
