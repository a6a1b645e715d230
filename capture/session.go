// Package capture drives the interactive phase: it synchronizes the two
// camera streams, guides the operator through the pose sequence, validates
// each triggered capture with the pattern detector, and persists accepted
// pairs to the dataset.
package capture

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"depthcal/pipeline"
)

// ErrAborted is returned when the operator cancels the session. It is a
// clean early-termination signal, not a failure.
var ErrAborted = errors.New("capture aborted by operator")

// Signal is one operator input event per poll iteration.
type Signal int

const (
	SignalNone Signal = iota
	SignalTrigger
	SignalAbort
)

// Event is the outcome of one pair resolution.
type Event int

const (
	// EventNone: nothing resolved (no trigger pending, or no pair yet).
	EventNone Event = iota
	// EventFailure: at least one side failed detection; nothing persisted.
	EventFailure
	// EventCaptured: both sides passed; two dataset writes happened.
	EventCaptured
	// EventPoseAdvance: a capture completed the current pose's repeats.
	EventPoseAdvance
	// EventComplete: the last pose is done; the session is finished.
	EventComplete
)

// Detector answers whether the calibration pattern is reliably findable in a
// frame. A false result is a legitimate outcome, not an error.
type Detector interface {
	Detect(img gocv.Mat) bool
}

// Store persists accepted frames keyed by (side, pose, repeat).
type Store interface {
	Put(side string, pose, repeat int, img gocv.Mat) (string, error)
}

// Display is the operator-facing surface: live frames with the pose guide
// and progress drawn on them, a failure notice, and keyboard polling.
type Display interface {
	Draw(side pipeline.Side, frame *gocv.Mat, pose Pose, session Session, sideOK bool)
	ShowFailure(width, height int)
	Poll() Signal
}

// Session holds the aggregate progress counters. It is a plain value,
// advanced and returned by the controller, so progress is testable without
// live hardware.
type Session struct {
	PoseCount   int
	RepeatCount int

	CurrentPose int
	PoseRepeats int
	Captured    int
}

// Total is the number of image pairs the session requires.
func (s Session) Total() int { return s.PoseCount * s.RepeatCount }

// Complete reports whether every pose has all its repeats captured.
func (s Session) Complete() bool { return s.CurrentPose >= s.PoseCount }

// Controller is the capture state machine. Per target pose it waits for an
// operator trigger, attempts to validate one frame from each side, persists
// both frames only when both pass, and retries the pose on any failure.
//
// There is deliberately no attempt timeout: if a stream stalls mid-attempt
// no pair arrives, the attempt stays pending, and the operator abort is the
// only exit.
type Controller struct {
	guide   *PoseGuide
	detect  Detector
	store   Store
	display Display
	session Session

	// One attempt per trigger; flags reset after every pair resolution.
	capturing     bool
	capturedLeft  bool
	capturedRight bool
	heldLeft      gocv.Mat
	heldRight     gocv.Mat

	frameWidth  int
	frameHeight int
}

// NewController wires the state machine. repeatCount is how many pairs to
// capture per pose.
func NewController(guide *PoseGuide, detect Detector, store Store, display Display, repeatCount int) *Controller {
	c := &Controller{
		guide:   guide,
		detect:  detect,
		store:   store,
		display: display,
		session: Session{PoseCount: guide.Count(), RepeatCount: repeatCount},
	}
	if c.session.PoseCount == 0 {
		// Guide not generated yet; the count is fixed, so progress is
		// well-defined before the first frame arrives.
		c.session.PoseCount = PoseCount
	}
	return c
}

// Session returns a snapshot of the progress counters.
func (c *Controller) Session() Session { return c.session }

// Trigger arms one capture attempt. Ignored while an attempt is in flight
// or after completion.
func (c *Controller) Trigger() {
	if !c.capturing && !c.session.Complete() {
		c.capturing = true
	}
}

// ProcessPair runs one pairing opportunity through the state machine and
// returns the resolution. The pair's frames are consumed: the controller
// closes them before returning.
func (c *Controller) ProcessPair(pair FramePair) (Event, error) {
	defer pair.Close()

	if !c.guide.Ready() {
		c.guide.EnsureFor(pair.Width(), pair.Height())
		c.session.PoseCount = c.guide.Count()
		logrus.Infof("pose guide generated: %d poses for %dx%d frames",
			c.guide.Count(), pair.Width(), pair.Height())
	}
	c.frameWidth, c.frameHeight = pair.Width(), pair.Height()

	if c.session.Complete() {
		return EventComplete, nil
	}

	triedLeft, triedRight := false, false
	if c.capturing {
		c.capturedLeft = c.detect.Detect(pair.Left.Frame)
		triedLeft = true
		if c.capturedLeft {
			c.heldLeft = pair.Left.Frame.Clone()
		}
		c.capturedRight = c.detect.Detect(pair.Right.Frame)
		triedRight = true
		if c.capturedRight {
			c.heldRight = pair.Right.Frame.Clone()
		}
	}

	pose := c.guide.At(c.session.CurrentPose)
	c.display.Draw(pipeline.SideLeft, &pair.Left.Frame, pose, c.session, c.capturedLeft)
	c.display.Draw(pipeline.SideRight, &pair.Right.Frame, pose, c.session, c.capturedRight)

	switch {
	case c.capturedLeft && c.capturedRight:
		return c.commit()
	case triedLeft && triedRight:
		// At least one side failed detection: persist nothing, notify the
		// operator, and wait for a re-trigger at the same pose.
		c.discard()
		c.display.ShowFailure(c.frameWidth, c.frameHeight)
		logrus.Warnf("capture failed at pose %d: pattern not found, fix position and trigger again",
			c.session.CurrentPose+1)
		return EventFailure, nil
	}
	return EventNone, nil
}

// commit persists the held pair and advances the session counters.
func (c *Controller) commit() (Event, error) {
	pose, repeat := c.session.CurrentPose, c.session.PoseRepeats

	leftPath, err := c.store.Put(string(pipeline.SideLeft), pose, repeat, c.heldLeft)
	if err != nil {
		c.discard()
		return EventNone, errors.Wrap(err, "persisting left frame")
	}
	rightPath, err := c.store.Put(string(pipeline.SideRight), pose, repeat, c.heldRight)
	if err != nil {
		c.discard()
		return EventNone, errors.Wrap(err, "persisting right frame")
	}
	c.discard()

	c.session.Captured++
	c.session.PoseRepeats++
	logrus.Infof("saved pair %d/%d: %s, %s", c.session.Captured, c.session.Total(), leftPath, rightPath)

	if c.session.PoseRepeats < c.session.RepeatCount {
		return EventCaptured, nil
	}
	c.session.PoseRepeats = 0
	c.session.CurrentPose++
	if c.session.Complete() {
		logrus.Info("all poses captured, session complete")
		return EventComplete, nil
	}
	return EventPoseAdvance, nil
}

// discard resets the attempt state and releases any held frames.
func (c *Controller) discard() {
	if !c.heldLeft.Closed() {
		c.heldLeft.Close()
		c.heldLeft = gocv.Mat{}
	}
	if !c.heldRight.Closed() {
		c.heldRight.Close()
		c.heldRight = gocv.Mat{}
	}
	c.capturing = false
	c.capturedLeft = false
	c.capturedRight = false
}

// Run drives the cooperative poll loop until the session completes or the
// operator aborts. Each iteration drains newly arrived packets through the
// synchronizer, processes at most the most recent pairing opportunity, and
// checks one operator input, so an abort is observable within one iteration
// and never starved by either stream.
func (c *Controller) Run(ctx context.Context, packets <-chan pipeline.FramePacket) error {
	sync := NewSynchronizer(PairTolerance)
	defer sync.Reset()
	defer c.discard()

	for {
		select {
		case <-ctx.Done():
			return ErrAborted
		default:
		}

		switch c.display.Poll() {
		case SignalAbort:
			return ErrAborted
		case SignalTrigger:
			c.Trigger()
		}

		var pair FramePair
		havePair := false
	drain:
		for {
			select {
			case pkt, ok := <-packets:
				if !ok {
					if havePair {
						pair.Close()
					}
					return errors.New("frame stream ended before session completed")
				}
				if next, ok := sync.Push(pkt); ok {
					if havePair {
						// A fresher pair supersedes the one in hand. After a
						// blocking notice the backlog can be seconds old, and
						// every decision must reflect what the cameras see
						// now, not what they saw before the operator moved.
						pair.Close()
					}
					pair, havePair = next, true
				}
			default:
				break drain
			}
		}

		if !havePair {
			continue
		}

		ev, err := c.ProcessPair(pair)
		if err != nil {
			return err
		}
		if ev == EventComplete {
			logrus.Debugf("synchronizer: %d pairs emitted, %d misses", sync.Pairs(), sync.Drops())
			return nil
		}
	}
}
