package capture

import (
	"reflect"
	"testing"
)

func TestPosesCountAndBounds(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
	}{
		{"1280x800", 1280, 800},
		{"640x480", 640, 480},
		{"1920x1080", 1920, 1080},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poses := Poses(tt.width, tt.height)
			if len(poses) != PoseCount {
				t.Fatalf("len = %d, want %d", len(poses), PoseCount)
			}
			for i, p := range poses {
				if len(p) < 3 {
					t.Errorf("pose %d: %d vertices, not a polygon", i, len(p))
				}
				for _, pt := range p {
					if pt.X < 0 || pt.X > tt.width || pt.Y < 0 || pt.Y > tt.height {
						t.Errorf("pose %d: vertex %v outside %dx%d", i, pt, tt.width, tt.height)
					}
				}
			}
		})
	}
}

func TestPosesDeterministic(t *testing.T) {
	a := Poses(1280, 800)
	b := Poses(1280, 800)
	if !reflect.DeepEqual(a, b) {
		t.Error("same resolution produced different sequences")
	}
}

func TestPoseGuideGeneratesOnce(t *testing.T) {
	g := NewPoseGuide()
	if g.Ready() {
		t.Fatal("guide ready before any frame dimensions")
	}
	if g.Count() != 0 {
		t.Fatalf("count = %d before generation", g.Count())
	}

	g.EnsureFor(1280, 800)
	if !g.Ready() {
		t.Fatal("guide not ready after EnsureFor")
	}
	first := g.At(0)

	// A second call with different dimensions must not regenerate.
	g.EnsureFor(640, 480)
	if !reflect.DeepEqual(g.At(0), first) {
		t.Error("guide regenerated after the first frame")
	}
	if g.Count() != PoseCount {
		t.Errorf("count = %d, want %d", g.Count(), PoseCount)
	}
}
