package capture

import "image"

// Pose is a target on-screen region for the calibration pattern, drawn as a
// closed polygon. The operator mimics the polygon's shape and position with
// the physical board.
type Pose []image.Point

// PoseCount is the fixed length of the guide sequence. It is stable across a
// run so the session total is known before any frames arrive.
const PoseCount = 13

// Poses generates the guide sequence for a frame of the given dimensions.
// The sequence covers the full frame, slanted variants across both axes, and
// the four corners, so the dataset samples the image area and a spread of
// viewing angles. Deterministic for a given resolution.
func Poses(width, height int) []Pose {
	margin := 60
	slope := height / 4
	hshift := width / 4
	vshift := height / 4

	quad := func(p0, p1, p2, p3 image.Point) Pose {
		return Pose{p0, p1, p2, p3}
	}

	poses := []Pose{
		// Head-on, filling the frame.
		quad(image.Pt(margin, margin), image.Pt(margin, height-margin),
			image.Pt(width-margin, height-margin), image.Pt(width-margin, margin)),
	}

	// Horizontally slanted targets swept left to right: the near edge of the
	// board sits at x, the far edge recedes toward the frame center.
	for i := 0; i < 4; i++ {
		x := margin + i*hshift
		if x > width-margin {
			x = width - margin
		}
		far := width/2 + i*hshift/2
		poses = append(poses, quad(
			image.Pt(x, margin),
			image.Pt(x, height-margin),
			image.Pt(far, height-slope),
			image.Pt(far, slope),
		))
	}

	// Vertically slanted targets swept top to bottom.
	for i := 0; i < 4; i++ {
		y := margin + i*vshift
		if y > height-margin {
			y = height - margin
		}
		far := height/2 + i*vshift/2
		poses = append(poses, quad(
			image.Pt(margin, y),
			image.Pt(width-margin, y),
			image.Pt(width-slope, far),
			image.Pt(slope, far),
		))
	}

	// The four corners.
	cw, ch := width/2-margin, height/2-margin
	for _, c := range []image.Point{
		image.Pt(margin, margin),
		image.Pt(width/2, margin),
		image.Pt(margin, height/2),
		image.Pt(width/2, height/2),
	} {
		poses = append(poses, quad(
			c, image.Pt(c.X+cw, c.Y),
			image.Pt(c.X+cw, c.Y+ch), image.Pt(c.X, c.Y+ch),
		))
	}

	return poses
}

// PoseGuide holds the guide sequence for a session. Poses are generated
// exactly once, lazily, when the first frame dimensions are known.
type PoseGuide struct {
	poses []Pose
}

// NewPoseGuide creates an empty guide; the sequence is generated on the
// first call to EnsureFor.
func NewPoseGuide() *PoseGuide {
	return &PoseGuide{}
}

// NewFixedGuide builds a guide from a pre-made sequence. Used by tests and
// by anything replaying a known resolution.
func NewFixedGuide(poses []Pose) *PoseGuide {
	return &PoseGuide{poses: poses}
}

// EnsureFor generates the sequence from the frame dimensions if it has not
// been generated yet.
func (g *PoseGuide) EnsureFor(width, height int) {
	if g.poses == nil {
		g.poses = Poses(width, height)
	}
}

// Ready reports whether the sequence has been generated.
func (g *PoseGuide) Ready() bool { return g.poses != nil }

// Count returns the sequence length, 0 before generation.
func (g *PoseGuide) Count() int { return len(g.poses) }

// At returns the pose at index i.
func (g *PoseGuide) At(i int) Pose { return g.poses[i] }
