package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// packetBuffer bounds the interleaved packet channel. Two cameras at 30fps
// fill this in roughly 2 seconds if nothing drains it.
const packetBuffer = 120

// Stereo reads two local camera devices and interleaves their frames into a
// single packet stream. One reader goroutine per camera stamps frames with
// their arrival time; a full channel drops the frame rather than delaying
// the next read.
type Stereo struct {
	cfg     Config
	packets chan FramePacket

	mu      sync.Mutex
	left    *gocv.VideoCapture
	right   *gocv.VideoCapture
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStereo creates a stereo source for the configured devices. The cameras
// are not opened until Start.
func NewStereo(cfg Config) *Stereo {
	return &Stereo{
		cfg:     cfg,
		packets: make(chan FramePacket, packetBuffer),
	}
}

// Start opens both cameras and begins frame delivery. An open failure on
// either device is fatal to the capture phase.
func (s *Stereo) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("stereo source already started")
	}

	var err error
	s.left, err = gocv.OpenVideoCapture(s.cfg.LeftDevice)
	if err != nil {
		return errors.Wrapf(err, "failed to open camera device %d", s.cfg.LeftDevice)
	}
	s.right, err = gocv.OpenVideoCapture(s.cfg.RightDevice)
	if err != nil {
		s.left.Close()
		s.left = nil
		return errors.Wrapf(err, "failed to open camera device %d", s.cfg.RightDevice)
	}

	leftSide, rightSide := SideLeft, SideRight
	if s.cfg.SwapLeftRight {
		leftSide, rightSide = SideRight, SideLeft
		logrus.Info("swapping left and right camera labels")
	}

	readCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.wg.Add(2)
	go s.read(readCtx, leftSide, s.left)
	go s.read(readCtx, rightSide, s.right)
	logrus.Infof("stereo source started: device %d -> %s, device %d -> %s",
		s.cfg.LeftDevice, leftSide, s.cfg.RightDevice, rightSide)
	return nil
}

// Packets returns the interleaved packet stream.
func (s *Stereo) Packets() <-chan FramePacket {
	return s.packets
}

func (s *Stereo) read(ctx context.Context, side Side, cam *gocv.VideoCapture) {
	defer s.wg.Done()
	dropped := 0

	for {
		select {
		case <-ctx.Done():
			if dropped > 0 {
				logrus.Debugf("%s camera: %d frames dropped (consumer slower than source)", side, dropped)
			}
			return
		default:
		}

		img := gocv.NewMat()
		if ok := cam.Read(&img); !ok {
			img.Close()
			logrus.Warnf("%s camera: read failed, stopping reader", side)
			return
		}
		if img.Empty() {
			img.Close()
			continue
		}

		pkt := FramePacket{Side: side, Timestamp: time.Now(), Frame: img}
		select {
		case s.packets <- pkt:
		default:
			// Channel full: drop, never queue.
			pkt.Close()
			dropped++
		}
	}
}

// Close releases both cameras. Idempotent; safe after a failed Start.
func (s *Stereo) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	left, right := s.left, s.right
	cancel := s.cancel
	s.mu.Unlock()

	// Stop the readers before releasing the devices they read from.
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	// Release frames still buffered for a consumer that is gone.
drain:
	for {
		select {
		case pkt := <-s.packets:
			pkt.Close()
		default:
			break drain
		}
	}

	var firstErr error
	if left != nil {
		if err := left.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "closing left camera")
		}
	}
	if right != nil {
		if err := right.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "closing right camera")
		}
	}
	return firstErr
}
