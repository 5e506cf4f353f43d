// Package camerabus frames the camera head's pixel bus for transport over
// UDP. Every pixel clock tick on the head produces one Sample: a flags byte
// carrying the sync signals and one byte of pixel data. Samples are batched
// into sequenced datagrams so the daemon can account for loss without
// repairing it.
package camerabus

// Flag bits carried alongside each pixel byte.
const (
	// FlagLineValid is high while the current row's pixels are streaming (href).
	FlagLineValid = 1 << 0

	// FlagFrameValid is high for the duration of a frame (vsync envelope).
	FlagFrameValid = 1 << 1

	// FlagSerialRX carries the control-channel line level, sampled on the
	// pixel clock like every other head signal.
	FlagSerialRX = 1 << 2

	// flagReserved masks the bits that must be zero on encode.
	flagReserved = 0xF8
)

// Sample is one pixel clock tick on the camera bus.
type Sample struct {
	Flags byte
	Pixel byte
}

// NewSample builds a Sample from individual signal levels.
func NewSample(lineValid, frameValid, serialHigh bool, pixel byte) Sample {
	var flags byte
	if lineValid {
		flags |= FlagLineValid
	}
	if frameValid {
		flags |= FlagFrameValid
	}
	if serialHigh {
		flags |= FlagSerialRX
	}
	return Sample{Flags: flags, Pixel: pixel}
}

// LineValid reports whether the row-valid signal is high.
func (s Sample) LineValid() bool { return s.Flags&FlagLineValid != 0 }

// FrameValid reports whether the frame-valid signal is high.
func (s Sample) FrameValid() bool { return s.Flags&FlagFrameValid != 0 }

// SerialHigh reports the control-channel line level.
func (s Sample) SerialHigh() bool { return s.Flags&FlagSerialRX != 0 }
