// Package pipeline is the boundary to the stereo imaging hardware. It
// delivers labeled frame packets over a bounded channel and never queues
// stale frames: when the consumer falls behind, packets are dropped.
package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Side labels which camera a frame packet came from.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Sides lists both stream labels in a stable order.
var Sides = []Side{SideLeft, SideRight}

// Config describes the stereo board geometry and the capture devices.
// It arrives pre-validated from the CLI layer.
type Config struct {
	LeftDevice  int `json:"left_device"`
	RightDevice int `json:"right_device"`

	// Board geometry, carried into the calibration artifact.
	BaselineCm float64 `json:"left_to_right_distance_cm"`
	HFOVDeg    float64 `json:"left_fov_deg"`

	// SwapLeftRight swaps the side labels of the two devices. Some rigs
	// are assembled with the cameras crossed.
	SwapLeftRight bool `json:"swap_left_and_right_cameras"`
}

// Validate rejects configurations the capture phase cannot run with.
func (c Config) Validate() error {
	if c.LeftDevice == c.RightDevice {
		return errors.Errorf("left and right camera must be distinct devices, both are %d", c.LeftDevice)
	}
	if c.LeftDevice < 0 || c.RightDevice < 0 {
		return errors.New("camera device ids must be non-negative")
	}
	if c.BaselineCm <= 0 {
		return errors.Errorf("baseline must be positive, got %.2f cm", c.BaselineCm)
	}
	if c.HFOVDeg <= 0 || c.HFOVDeg >= 180 {
		return errors.Errorf("field of view must be in (0, 180) degrees, got %.2f", c.HFOVDeg)
	}
	return nil
}

// FramePacket is one camera frame with its source side and arrival timestamp.
// The receiver owns the Mat and must Close it.
type FramePacket struct {
	Side      Side
	Timestamp time.Time
	Frame     gocv.Mat
}

// Close releases the pixel buffer.
func (p *FramePacket) Close() {
	if !p.Frame.Closed() {
		p.Frame.Close()
	}
}

// Source produces labeled frame packets from the imaging hardware.
//
// Start begins delivery; Packets is the bounded stream the control loop
// drains; Close releases the hardware deterministically and is safe to call
// on every exit path, including after a failed Start.
type Source interface {
	Start(ctx context.Context) error
	Packets() <-chan FramePacket
	Close() error
}
