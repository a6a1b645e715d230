// Package overlay renders the operator-facing surface: live frames with the
// pose guide polygon and progress banner, the capture-failure card, the
// start screen, and keyboard polling.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"depthcal/capture"
	"depthcal/pipeline"
)

var (
	guideGreen = color.RGBA{0, 255, 0, 255}
	guideRed   = color.RGBA{255, 0, 0, 255}
	bannerBlue = color.RGBA{0, 0, 255, 255}
	infoGreen  = color.RGBA{0, 255, 0, 255}
)

// Renderer owns the left/right display windows. Not safe for concurrent
// use; the capture loop is the sole caller.
type Renderer struct {
	scale   float64
	windows map[pipeline.Side]*gocv.Window
}

// NewRenderer creates the display windows. scale is the output size factor
// for the live views (the capture resolution is too large to show 1:1).
func NewRenderer(scale float64) *Renderer {
	r := &Renderer{
		scale:   scale,
		windows: make(map[pipeline.Side]*gocv.Window),
	}
	for _, side := range pipeline.Sides {
		r.windows[side] = gocv.NewWindow(string(side))
	}
	return r
}

// Draw overlays the pose polygon and progress banner on the frame and shows
// it in the side's window. The polygon is green once the side has passed
// detection for the in-flight attempt, red otherwise. The frame is mutated.
func (r *Renderer) Draw(side pipeline.Side, frame *gocv.Mat, pose capture.Pose, session capture.Session, sideOK bool) {
	banner := fmt.Sprintf("Pose %d of %d. Captured %d of %d images.",
		session.CurrentPose+1, session.PoseCount, session.Captured, session.Total())
	gocv.PutText(frame, banner, image.Pt(10, frame.Rows()-20),
		gocv.FontHersheySimplex, 1.0, bannerBlue, 2)

	guideColor := guideRed
	if sideOK {
		guideColor = guideGreen
	}
	pts := gocv.NewPointsVectorFromPoints([][]image.Point{pose})
	defer pts.Close()
	gocv.Polylines(frame, pts, true, guideColor, 4)

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(*frame, &small, image.Pt(0, 0), r.scale, r.scale, gocv.InterpolationLinear)
	r.windows[side].IMShow(small)
}

// ShowFailure displays a failure card in both windows for two seconds.
func (r *Renderer) ShowFailure(width, height int) {
	w, h := int(float64(width)*r.scale), int(float64(height)*r.scale)
	card := gocv.Zeros(h, w, gocv.MatTypeCV8UC3)
	defer card.Close()

	gocv.PutText(&card, "Capture failed: pattern not found!",
		image.Pt(40, h/2-30), gocv.FontHersheySimplex, 0.7, infoGreen, 1)
	gocv.PutText(&card, "Fix the board position and press [space] again",
		image.Pt(40, h/2+30), gocv.FontHersheySimplex, 0.7, infoGreen, 1)

	for _, side := range pipeline.Sides {
		r.windows[side].IMShow(card)
	}
	r.windows[pipeline.SideLeft].WaitKey(2000)
}

// ShowInfo displays the start screen and blocks until the operator presses
// space to begin or aborts with ESC/q.
func (r *Renderer) ShowInfo(total, perPose int) error {
	card := gocv.Zeros(600, 1000, gocv.MatTypeCV8UC3)
	defer card.Close()

	lines := []string{
		"Stereo calibration image capture.",
		"Press [ESC] or [q] to abort.",
		"Press [space] to capture an image pair.",
		"",
		"The polygon shows the desired board position for the",
		"current pose. Mimic its shape with the physical board.",
		fmt.Sprintf("Will take %d total images, %d per pose.", total, perPose),
		"",
		"To continue, press [space]...",
	}
	y := 100
	for _, line := range lines {
		gocv.PutText(&card, line, image.Pt(25, y), gocv.FontHersheySimplex, 0.8, infoGreen, 1)
		y += 55
	}

	info := gocv.NewWindow("info")
	defer info.Close()
	for {
		info.IMShow(card)
		switch info.WaitKey(50) {
		case ' ':
			return nil
		case 27, 'q':
			return capture.ErrAborted
		}
	}
}

// Poll checks for one operator key event without blocking the loop. Space
// triggers a capture attempt; ESC or q aborts the session.
func (r *Renderer) Poll() capture.Signal {
	switch r.windows[pipeline.SideLeft].WaitKey(1) {
	case ' ':
		return capture.SignalTrigger
	case 27, 'q':
		return capture.SignalAbort
	default:
		return capture.SignalNone
	}
}

// Close destroys the display windows.
func (r *Renderer) Close() {
	for _, w := range r.windows {
		w.Close()
	}
}
