package capture

import (
	"time"

	"depthcal/pipeline"
)

// PairTolerance is the maximum timestamp difference for two frames to be
// considered simultaneous.
const PairTolerance = time.Millisecond

// FramePair is a left/right frame pair whose timestamps are within the
// pairing tolerance. The receiver owns both Mats.
type FramePair struct {
	Left  pipeline.FramePacket
	Right pipeline.FramePacket
}

// Close releases both frames.
func (p *FramePair) Close() {
	p.Left.Close()
	p.Right.Close()
}

// Width and Height report the pair's frame dimensions (taken from the left
// frame; both sides share the session resolution).
func (p *FramePair) Width() int  { return p.Left.Frame.Cols() }
func (p *FramePair) Height() int { return p.Left.Frame.Rows() }

// Synchronizer matches interleaved frame packets into same-instant pairs.
// It keeps only the two most recent packets as a sliding candidate; after
// every pairing decision, emitted or dropped, the buffer is cleared so stale
// packets never leak into the next decision.
type Synchronizer struct {
	tolerance time.Duration
	window    []pipeline.FramePacket
	drops     int
	pairs     int
}

// NewSynchronizer creates a synchronizer with the given tolerance.
func NewSynchronizer(tolerance time.Duration) *Synchronizer {
	return &Synchronizer{tolerance: tolerance}
}

// Push consumes one packet in arrival order. When a second packet is
// buffered a pairing decision is made: a pair is emitted only if the packets
// come from opposite sides and their timestamps differ by less than the
// tolerance. On a miss both packets are closed and dropped, not buffered.
func (s *Synchronizer) Push(p pipeline.FramePacket) (FramePair, bool) {
	s.window = append(s.window, p)
	if len(s.window) < 2 {
		return FramePair{}, false
	}

	a, b := s.window[0], s.window[1]
	s.window = s.window[:0]

	dt := a.Timestamp.Sub(b.Timestamp)
	if dt < 0 {
		dt = -dt
	}
	if a.Side == b.Side || dt >= s.tolerance {
		a.Close()
		b.Close()
		s.drops++
		return FramePair{}, false
	}

	s.pairs++
	if a.Side == pipeline.SideLeft {
		return FramePair{Left: a, Right: b}, true
	}
	return FramePair{Left: b, Right: a}, true
}

// Pending reports how many packets are buffered awaiting a decision (0 or 1).
func (s *Synchronizer) Pending() int { return len(s.window) }

// Drops reports how many candidate pairs missed the tolerance. Misses are an
// expected transient condition, surfaced for diagnostics only.
func (s *Synchronizer) Drops() int { return s.drops }

// Pairs reports how many pairs have been emitted.
func (s *Synchronizer) Pairs() int { return s.pairs }

// Reset discards any buffered packet.
func (s *Synchronizer) Reset() {
	for i := range s.window {
		s.window[i].Close()
	}
	s.window = s.window[:0]
}
