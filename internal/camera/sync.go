package camera

import (
	"github.com/verdant-data/maturity.report/internal/camerabus"
)

// SignalSync carries bus samples through a two-deep agreement filter before
// the frame builder interprets them. A control level must hold for two
// consecutive samples to take effect, and the pixel byte is delayed by one
// sample so it stays aligned with the filtered levels. A single-sample
// glitch on FRAME_VALID or LINE_VALID therefore never reaches the builder.
type SignalSync struct {
	primed bool
	prev   camerabus.Sample
	frame  bool
	line   bool
	serial bool
}

// Feed pushes one raw sample through the synchronizer. The returned sample
// carries the filtered control levels together with the pixel byte they
// gate. ok is false while the delay line fills (the first raw sample).
func (s *SignalSync) Feed(raw camerabus.Sample) (camerabus.Sample, bool) {
	if !s.primed {
		s.prev = raw
		s.primed = true
		return camerabus.Sample{}, false
	}
	prev := s.prev
	if prev.FrameValid() == raw.FrameValid() {
		s.frame = raw.FrameValid()
	}
	if prev.LineValid() == raw.LineValid() {
		s.line = raw.LineValid()
	}
	if prev.SerialHigh() == raw.SerialHigh() {
		s.serial = raw.SerialHigh()
	}
	out := camerabus.NewSample(s.line, s.frame, s.serial, prev.Pixel)
	s.prev = raw
	return out, true
}

// Reset returns the synchronizer to its power-on state: all levels low and
// the delay line empty. Call when switching data sources so a new stream
// does not inherit levels from the old one.
func (s *SignalSync) Reset() {
	*s = SignalSync{}
}
