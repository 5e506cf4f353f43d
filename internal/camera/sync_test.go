package camera

import (
	"testing"

	"github.com/verdant-data/maturity.report/internal/camerabus"
)

func TestSignalSync_FirstSampleFillsDelayLine(t *testing.T) {
	var s SignalSync
	if _, ok := s.Feed(camerabus.NewSample(true, true, true, 0xAB)); ok {
		t.Fatal("first sample should not produce output")
	}
	out, ok := s.Feed(camerabus.NewSample(true, true, true, 0xCD))
	if !ok {
		t.Fatal("second sample should produce output")
	}
	if out.Pixel != 0xAB {
		t.Errorf("expected delayed pixel 0xAB, got 0x%02X", out.Pixel)
	}
	if !out.FrameValid() || !out.LineValid() || !out.SerialHigh() {
		t.Errorf("levels should settle after two agreeing samples: flags=0x%02X", out.Flags)
	}
}

func TestSignalSync_FiltersSingleSampleGlitch(t *testing.T) {
	var s SignalSync
	low := camerabus.NewSample(false, false, false, 0)
	s.Feed(low)
	s.Feed(low)

	// One-sample FRAME_VALID pulse must never settle.
	out, _ := s.Feed(camerabus.NewSample(false, true, false, 0))
	if out.FrameValid() {
		t.Error("glitch sample should not change the frame level")
	}
	out, _ = s.Feed(low)
	if out.FrameValid() {
		t.Error("frame level should stay low after the glitch passes")
	}

	// Two consecutive high samples settle the level.
	s.Feed(camerabus.NewSample(false, true, false, 0))
	out, _ = s.Feed(camerabus.NewSample(false, true, false, 0))
	if !out.FrameValid() {
		t.Error("frame level should settle high after two agreeing samples")
	}
}

func TestSignalSync_TrailingByteKeepsLevel(t *testing.T) {
	var s SignalSync
	low := camerabus.NewSample(false, false, false, 0)
	s.Feed(low)
	s.Feed(low)
	s.Feed(camerabus.NewSample(true, true, false, 0x11))
	s.Feed(camerabus.NewSample(true, true, false, 0x22))

	// The wire drops after 0x22; the delayed 0x22 must still carry the
	// high levels so the last byte of a line is not lost.
	out, _ := s.Feed(low)
	if !out.LineValid() || out.Pixel != 0x22 {
		t.Errorf("expected last byte 0x22 under a high level, got pixel=0x%02X flags=0x%02X", out.Pixel, out.Flags)
	}
	out, _ = s.Feed(low)
	if out.LineValid() {
		t.Error("line level should settle low one sample later")
	}
}

func TestSignalSync_Reset(t *testing.T) {
	var s SignalSync
	high := camerabus.NewSample(true, true, true, 0)
	s.Feed(high)
	s.Feed(high)

	s.Reset()
	if _, ok := s.Feed(camerabus.NewSample(false, false, false, 0)); ok {
		t.Fatal("Reset should empty the delay line")
	}
	out, _ := s.Feed(camerabus.NewSample(false, false, false, 0))
	if out.FrameValid() || out.LineValid() || out.SerialHigh() {
		t.Errorf("Reset should drop all levels, got flags=0x%02X", out.Flags)
	}
}
